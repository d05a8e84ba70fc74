// Package metering tracks per-tenant LLM usage: tokens and cost per
// extraction, aggregated for the dashboard.
package metering

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyTenant is returned when a usage event has no tenant.
	ErrEmptyTenant = errors.New("metering: tenant must not be empty")
	// ErrEmptyModel is returned when a usage event names no model.
	ErrEmptyModel = errors.New("metering: model must not be empty")
	// ErrNegativeTokens is returned when a token count is negative.
	ErrNegativeTokens = errors.New("metering: token counts must not be negative")
)

// Event is one recorded extraction.
type Event struct {
	Tenant           string          `json:"tenant"`
	TaskID           string          `json:"task_id,omitempty"`
	Kind             string          `json:"kind"`
	Model            string          `json:"model"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	Cost             decimal.Decimal `json:"cost"`
	Currency         string          `json:"currency"`
	Timestamp        time.Time       `json:"timestamp"`
}

// Validate checks the event's fields.
func (e Event) Validate() error {
	if e.Tenant == "" {
		return ErrEmptyTenant
	}
	if e.Model == "" {
		return ErrEmptyModel
	}
	if e.PromptTokens < 0 || e.CompletionTokens < 0 {
		return ErrNegativeTokens
	}
	return nil
}

// Period is a time range for aggregation.
type Period struct {
	Start time.Time
	End   time.Time
}

// DailyPeriod covers the current UTC day.
func DailyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.Add(24 * time.Hour)}
}

// MonthlyPeriod covers the current UTC month.
func MonthlyPeriod() Period {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// Usage is the aggregated view of a tenant's period.
type Usage struct {
	Tenant           string          `json:"tenant"`
	Extractions      int64           `json:"extractions"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	Currency         string          `json:"currency"`
	ByModel          map[string]int64 `json:"by_model,omitempty"`
}

// Meter records and aggregates usage.
type Meter interface {
	// Record stores one usage event.
	Record(ctx context.Context, event Event) error
	// GetUsage aggregates a tenant's events over a period.
	GetUsage(ctx context.Context, tenant string, period Period) (*Usage, error)
}

// Nop discards events; used when metering is disabled in tests.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
func (Nop) GetUsage(_ context.Context, tenant string, _ Period) (*Usage, error) {
	return &Usage{Tenant: tenant, TotalCost: decimal.Zero, Currency: "INR"}, nil
}
