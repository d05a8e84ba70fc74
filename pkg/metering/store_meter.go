package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/store"
)

// StoreMeter persists usage events in the llm_usage_events table.
type StoreMeter struct {
	db *store.DB
}

// NewStoreMeter creates the meter.
func NewStoreMeter(db *store.DB) *StoreMeter {
	return &StoreMeter{db: db}
}

// Record stores a single usage event.
func (m *StoreMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Currency == "" {
		event.Currency = "INR"
	}

	_, err := m.db.SQL.ExecContext(ctx, m.rebind(`
		INSERT INTO llm_usage_events (tenant, task_id, kind, model, prompt_tokens,
			completion_tokens, cost, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`), event.Tenant, event.TaskID, event.Kind, event.Model, event.PromptTokens,
		event.CompletionTokens, event.Cost, event.Currency, event.Timestamp)
	if err != nil {
		return fmt.Errorf("metering: recording event: %w", err)
	}
	return nil
}

// GetUsage aggregates a tenant's events over a period.
func (m *StoreMeter) GetUsage(ctx context.Context, tenant string, period Period) (*Usage, error) {
	usage := &Usage{
		Tenant:    tenant,
		TotalCost: decimal.Zero,
		Currency:  "INR",
		ByModel:   map[string]int64{},
	}

	rows, err := m.db.SQL.QueryContext(ctx, m.rebind(`
		SELECT model, COUNT(*), COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0), COALESCE(SUM(cost), 0)
		FROM llm_usage_events
		WHERE tenant = $1 AND created_at >= $2 AND created_at < $3
		GROUP BY model
	`), tenant, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("metering: aggregating usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var model string
		var count, promptTokens, completionTokens int64
		var cost decimal.Decimal
		if err := rows.Scan(&model, &count, &promptTokens, &completionTokens, &cost); err != nil {
			return nil, fmt.Errorf("metering: scanning usage row: %w", err)
		}
		usage.Extractions += count
		usage.PromptTokens += promptTokens
		usage.CompletionTokens += completionTokens
		usage.TotalCost = usage.TotalCost.Add(cost)
		usage.ByModel[model] = count
	}
	return usage, rows.Err()
}

// rebind adapts placeholders for the sqlite dev backend.
func (m *StoreMeter) rebind(query string) string {
	if m.db.Driver == store.DriverPostgres {
		return query
	}
	out := make([]byte, 0, len(query))
	for i := 0; i < len(query); i++ {
		if query[i] == '$' && i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			out = append(out, '?')
			for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
				i++
			}
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
