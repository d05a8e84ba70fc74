package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StockRepo persists per-part stock levels and the vendor-description
// mapping entries the stock engine matches sales against.
type StockRepo struct {
	db *DB
}

// NewStockRepo creates the repository.
func NewStockRepo(db *DB) *StockRepo {
	return &StockRepo{db: db}
}

var stockUpsertSpec = BatchSpec{
	Table: "stock_levels",
	Columns: []string{
		"tenant", "part_number", "internal_item_name", "priority", "reorder_point",
		"current_stock", "manual_adjustment", "old_stock", "unit_value",
		"total_value", "customer_items", "created_at", "updated_at",
	},
	ConflictCols: []string{"tenant", "part_number"},
	UpdateCols: []string{
		"internal_item_name", "priority", "reorder_point", "current_stock",
		"manual_adjustment", "old_stock", "unit_value", "total_value",
		"customer_items", "updated_at",
	},
}

// UpsertLevels batch-upserts stock rows on (tenant, part_number).
func (r *StockRepo) UpsertLevels(ctx context.Context, levels []StockLevel) (int, error) {
	if len(levels) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(levels))
	for _, s := range levels {
		rows = append(rows, []any{
			s.Tenant, s.PartNumber, s.InternalItemName, nullableString(s.Priority), nullableInt(s.ReorderPoint),
			s.CurrentStock, s.ManualAdjustment, nullableInt(s.OldStock), nullableDecimal(s.UnitValue),
			s.TotalValue, marshalJSONList(s.CustomerItems), now, now,
		})
	}
	return r.db.BatchUpsert(ctx, stockUpsertSpec, rows)
}

const stockSelect = `
	SELECT tenant, part_number, internal_item_name, priority, reorder_point,
		current_stock, manual_adjustment, old_stock, unit_value, total_value,
		customer_items, created_at, updated_at
	FROM stock_levels`

// Levels returns every stock row for the tenant.
func (r *StockRepo) Levels(ctx context.Context, tenant string) ([]StockLevel, error) {
	var out []StockLevel
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, stockSelect+`
			WHERE tenant = $1
			ORDER BY part_number
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching stock levels: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			s, err := scanStockLevel(rows)
			if err != nil {
				return n, err
			}
			out = append(out, *s)
			n++
		}
		return n, rows.Err()
	})
	return out, err
}

// Level fetches one part's stock row.
func (r *StockRepo) Level(ctx context.Context, tenant, partNumber string) (*StockLevel, error) {
	return scanStockLevel(r.db.queryRow(ctx, stockSelect+`
		WHERE tenant = $1 AND part_number = $2
	`, tenant, partNumber))
}

// UpdateManualFields rewrites the human-owned columns of one part.
// Engine-owned columns (current_stock, total_value) are untouched, so
// this is safe to call without the tenant's advisory lock.
func (r *StockRepo) UpdateManualFields(ctx context.Context, s *StockLevel) error {
	res, err := r.db.exec(ctx, `
		UPDATE stock_levels
		SET internal_item_name = $1, priority = $2, reorder_point = $3,
			manual_adjustment = $4, old_stock = $5, customer_items = $6, updated_at = $7
		WHERE tenant = $8 AND part_number = $9
	`, s.InternalItemName, nullableString(s.Priority), nullableInt(s.ReorderPoint),
		s.ManualAdjustment, nullableInt(s.OldStock), marshalJSONList(s.CustomerItems),
		time.Now().UTC(), s.Tenant, s.PartNumber)
	if err != nil {
		return fmt.Errorf("store: updating stock row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePartsNotIn removes parts that no longer appear in any vendor or
// sales row. An empty keep set clears the tenant's stock table.
func (r *StockRepo) DeletePartsNotIn(ctx context.Context, tenant string, keep []string) (int64, error) {
	if len(keep) == 0 {
		res, err := r.db.exec(ctx, `DELETE FROM stock_levels WHERE tenant = $1`, tenant)
		if err != nil {
			return 0, fmt.Errorf("store: clearing stock levels: %w", err)
		}
		n, _ := res.RowsAffected()
		return n, nil
	}

	// Delete in one statement per chunk of the keep list; parts in later
	// chunks survive because every statement excludes only its own chunk's
	// complement. Two passes keep it correct: first collect survivors.
	keepSet := make(map[string]bool, len(keep))
	for _, p := range keep {
		keepSet[p] = true
	}
	existing, err := r.Levels(ctx, tenant)
	if err != nil {
		return 0, err
	}
	var stale []string
	for _, s := range existing {
		if !keepSet[s.PartNumber] {
			stale = append(stale, s.PartNumber)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var deleted int64
	for start := 0; start < len(stale); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		chunk := stale[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, tenant)
		for i, p := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, p)
		}
		res, err := r.db.exec(ctx, `
			DELETE FROM stock_levels WHERE tenant = $1 AND part_number IN (`+strings.Join(placeholders, ", ")+`)
		`, args...)
		if err != nil {
			return deleted, fmt.Errorf("store: deleting stale stock rows: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}
	return deleted, nil
}

var mappingUpsertSpec = BatchSpec{
	Table: "vendor_mappings",
	Columns: []string{
		"tenant", "part_number", "vendor_description", "internal_item_name",
		"customer_items", "created_at", "updated_at",
	},
	ConflictCols: []string{"tenant", "part_number"},
	UpdateCols: []string{
		"vendor_description", "internal_item_name", "customer_items", "updated_at",
	},
}

// UpsertMappings batch-upserts mapping entries on (tenant, part_number).
func (r *StockRepo) UpsertMappings(ctx context.Context, mappings []VendorMapping) (int, error) {
	if len(mappings) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, []any{
			m.Tenant, m.PartNumber, m.VendorDescription, m.InternalItemName,
			marshalJSONList(m.CustomerItems), now, now,
		})
	}
	return r.db.BatchUpsert(ctx, mappingUpsertSpec, rows)
}

// Mappings returns every mapping entry for the tenant.
func (r *StockRepo) Mappings(ctx context.Context, tenant string) ([]VendorMapping, error) {
	var out []VendorMapping
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, `
			SELECT tenant, part_number, vendor_description, internal_item_name,
				customer_items, created_at, updated_at
			FROM vendor_mappings
			WHERE tenant = $1
			ORDER BY part_number
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching vendor mappings: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			var m VendorMapping
			var items []byte
			if err := rows.Scan(&m.Tenant, &m.PartNumber, &m.VendorDescription,
				&m.InternalItemName, &items, &m.CreatedAt, &m.UpdatedAt); err != nil {
				return n, fmt.Errorf("store: scanning vendor mapping: %w", err)
			}
			m.CustomerItems = unmarshalJSONList(items)
			out = append(out, m)
			n++
		}
		return n, rows.Err()
	})
	return out, err
}

func scanStockLevel(row rowScanner) (*StockLevel, error) {
	var s StockLevel
	var priority sql.NullString
	var reorder, oldStock sql.NullInt64
	var unitValue decimal.NullDecimal
	var items []byte
	err := row.Scan(&s.Tenant, &s.PartNumber, &s.InternalItemName, &priority, &reorder,
		&s.CurrentStock, &s.ManualAdjustment, &oldStock, &unitValue, &s.TotalValue,
		&items, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning stock level: %w", err)
	}
	s.Priority = nullStringPtr(priority)
	s.ReorderPoint = nullInt64Ptr(reorder)
	s.OldStock = nullInt64Ptr(oldStock)
	s.UnitValue = unitValue
	s.CustomerItems = unmarshalJSONList(items)
	return &s, nil
}

func nullableInt(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullableDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal
}

func nullInt64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}
