package stock

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/paperledger/paperledger/pkg/store"
	"github.com/paperledger/paperledger/pkg/tasks"
)

// recalcTimeout caps one rebuild, lock wait included.
const recalcTimeout = 30 * time.Minute

// Engine rebuilds per-part stock levels from the ledgers. All writes
// happen under the tenant's advisory lock; rebuilds for different
// tenants run in parallel.
type Engine struct {
	db       *store.DB
	staging  *store.StagingRepo
	verified *store.VerifiedRepo
	stocks   *store.StockRepo
	registry *tasks.Registry
	pool     *tasks.Pool
	logger   *slog.Logger
}

// NewEngine creates the engine. pool bounds concurrent rebuilds
// process-wide.
func NewEngine(db *store.DB, staging *store.StagingRepo, verified *store.VerifiedRepo, stocks *store.StockRepo, registry *tasks.Registry, pool *tasks.Pool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:       db,
		staging:  staging,
		verified: verified,
		stocks:   stocks,
		registry: registry,
		pool:     pool,
		logger:   logger.With("component", "stock"),
	}
}

// Enqueue launches a background rebuild task for the tenant.
// Fire-and-forget: the caller's request returns while the rebuild
// contends for the lock.
func (e *Engine) Enqueue(tenant string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := e.EnqueueTask(ctx, tenant); err != nil {
		e.logger.Error("creating recalculation task", "tenant", tenant, "error", err)
	}
}

// EnqueueTask creates the rebuild task and launches it, returning the
// task row so callers can report its id.
func (e *Engine) EnqueueTask(ctx context.Context, tenant string) (*store.Task, error) {
	task, err := e.registry.Begin(ctx, tenant, store.TaskKindRecalculation)
	if err != nil {
		return nil, err
	}
	e.registry.Launch(task, recalcTimeout, func(ctx context.Context) error {
		return e.pool.Run(ctx, func(ctx context.Context) error {
			if err := e.Recalculate(ctx, tenant); err != nil {
				return err
			}
			return e.registry.Repo().SetStatus(ctx, tenant, task.TaskID, store.TaskCompleted, "")
		})
	})
	return task, nil
}

// Recalculate rebuilds the tenant's stock levels. The advisory lock is
// taken before any read so two rebuilds can never interleave their
// read-modify-write cycles.
func (e *Engine) Recalculate(ctx context.Context, tenant string) error {
	lock, err := e.db.AcquireTenantLock(ctx, tenant)
	if err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil {
			e.logger.Error("releasing tenant lock", "tenant", tenant, "error", err)
		}
	}()

	started := time.Now()

	vendorLines, err := e.staging.VendorAll(ctx, tenant, false)
	if err != nil {
		return err
	}
	sales, err := e.verified.All(ctx, tenant)
	if err != nil {
		return err
	}
	mappings, err := e.stocks.Mappings(ctx, tenant)
	if err != nil {
		return err
	}
	existing, err := e.stocks.Levels(ctx, tenant)
	if err != nil {
		return err
	}

	levels, keep := computeLevels(tenant, vendorLines, sales, mappings, existing)

	if _, err := e.stocks.UpsertLevels(ctx, levels); err != nil {
		return err
	}
	removed, err := e.stocks.DeletePartsNotIn(ctx, tenant, keep)
	if err != nil {
		return err
	}

	e.logger.Info("stock recalculated", "tenant", tenant,
		"parts", len(levels), "removed", removed, "elapsed", time.Since(started))
	return nil
}

// computeLevels derives the target stock rows: inflow from vendor
// lines, outflow from verified sales matched by part number or mapping
// alias, with the human-owned fields of existing rows preserved.
func computeLevels(tenant string, vendorLines []store.StagingVendorLine, sales []store.VerifiedInvoice, mappings []store.VendorMapping, existing []store.StockLevel) ([]store.StockLevel, []string) {
	inflow := make(map[string]int64)
	latestRate := make(map[string]decimal.Decimal)
	for _, l := range vendorLines {
		part := canonicalPart(l.PartNumber)
		if part == "" {
			continue
		}
		inflow[part] += l.Quantity
		if l.Rate.IsPositive() {
			latestRate[part] = l.Rate
		}
	}

	existingByPart := make(map[string]store.StockLevel, len(existing))
	for _, lvl := range existing {
		existingByPart[lvl.PartNumber] = lvl
	}

	aliases := aliasIndex(mappings)
	known := make(map[string]bool, len(inflow))
	for p := range inflow {
		known[p] = true
	}
	for _, m := range mappings {
		if p := canonicalPart(m.PartNumber); p != "" {
			known[p] = true
		}
	}
	for p := range existingByPart {
		known[p] = true
	}

	outflow := make(map[string]int64)
	for _, s := range sales {
		part := matchPart(s.ItemDescription, known, aliases)
		if part == "" {
			continue
		}
		outflow[part] += s.Quantity
	}

	parts := make(map[string]bool, len(inflow)+len(outflow))
	for p := range inflow {
		parts[p] = true
	}
	for p := range outflow {
		parts[p] = true
	}

	keep := make([]string, 0, len(parts))
	levels := make([]store.StockLevel, 0, len(parts))
	for part := range parts {
		keep = append(keep, part)

		level := store.StockLevel{Tenant: tenant, PartNumber: part}
		if prev, ok := existingByPart[part]; ok {
			level.InternalItemName = prev.InternalItemName
			level.Priority = prev.Priority
			level.ReorderPoint = prev.ReorderPoint
			level.ManualAdjustment = prev.ManualAdjustment
			level.OldStock = prev.OldStock
			level.UnitValue = prev.UnitValue
			level.CustomerItems = prev.CustomerItems
		}
		if !level.UnitValue.Valid {
			if rate, ok := latestRate[part]; ok {
				level.UnitValue = decimal.NullDecimal{Decimal: rate, Valid: true}
			}
		}

		level.CurrentStock = inflow[part] - outflow[part]
		if level.UnitValue.Valid {
			level.TotalValue = level.UnitValue.Decimal.Mul(decimal.NewFromInt(level.OnHand()))
		} else {
			level.TotalValue = decimal.Zero
		}
		levels = append(levels, level)
	}
	return levels, keep
}

// aliasIndex maps every vendor description and customer alias to its
// canonical part number, case-folded.
func aliasIndex(mappings []store.VendorMapping) map[string]string {
	aliases := make(map[string]string)
	for _, m := range mappings {
		part := canonicalPart(m.PartNumber)
		if part == "" {
			continue
		}
		if key := canonicalAlias(m.VendorDescription); key != "" {
			aliases[key] = part
		}
		if key := canonicalAlias(m.InternalItemName); key != "" {
			aliases[key] = part
		}
		for _, item := range m.CustomerItems {
			if key := canonicalAlias(item); key != "" {
				aliases[key] = part
			}
		}
	}
	return aliases
}

// matchPart resolves a sales description to a part number: the
// description itself when it is a known part, otherwise via the alias
// index. Unmatched sales do not move stock.
func matchPart(description string, known map[string]bool, aliases map[string]string) string {
	key := canonicalPart(description)
	if key == "" {
		return ""
	}
	if known[key] {
		return key
	}
	if part, ok := aliases[canonicalAlias(description)]; ok {
		return part
	}
	return ""
}

func canonicalPart(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func canonicalAlias(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
