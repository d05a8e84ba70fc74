package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// VerifiedRepo persists the terminal invoice table. Rows land here via
// Sync&Finish and are immutable by default; edits go through a single
// row_id-keyed update.
type VerifiedRepo struct {
	db *DB
}

// NewVerifiedRepo creates the repository.
func NewVerifiedRepo(db *DB) *VerifiedRepo {
	return &VerifiedRepo{db: db}
}

var verifiedUpsertSpec = BatchSpec{
	Table: "verified_invoices",
	Columns: []string{
		"tenant", "row_id", "receipt_number", "invoice_date", "customer_name",
		"vehicle_number", "item_description", "quantity", "rate", "amount",
		"blob_key", "image_hash", "created_at", "updated_at",
	},
	ConflictCols: []string{"tenant", "row_id"},
	UpdateCols: []string{
		"receipt_number", "invoice_date", "customer_name", "vehicle_number",
		"item_description", "quantity", "rate", "amount", "blob_key",
		"image_hash", "updated_at",
	},
}

// Upsert batch-upserts verified rows on (tenant, row_id).
func (r *VerifiedRepo) Upsert(ctx context.Context, invoices []VerifiedInvoice) (int, error) {
	if len(invoices) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(invoices))
	for _, inv := range invoices {
		rows = append(rows, []any{
			inv.Tenant, inv.RowID, inv.ReceiptNumber, nullableString(inv.Date), inv.CustomerName,
			inv.VehicleNumber, inv.ItemDescription, inv.Quantity, inv.Rate, inv.Amount,
			inv.BlobKey, inv.ImageHash, now, now,
		})
	}
	return r.db.BatchUpsert(ctx, verifiedUpsertSpec, rows)
}

const verifiedSelect = `
	SELECT id, tenant, row_id, receipt_number, invoice_date, customer_name,
		vehicle_number, item_description, quantity, rate, amount,
		blob_key, image_hash, created_at, updated_at
	FROM verified_invoices`

// All returns every verified row for the tenant.
func (r *VerifiedRepo) All(ctx context.Context, tenant string) ([]VerifiedInvoice, error) {
	var out []VerifiedInvoice
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, verifiedSelect+`
			WHERE tenant = $1
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching verified invoices: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			inv, err := scanVerified(rows)
			if err != nil {
				return n, err
			}
			out = append(out, *inv)
			n++
		}
		return n, rows.Err()
	})
	return out, err
}

// RowIDs returns the set of verified row_ids for the tenant. Cheap
// membership lookup for flows that only need to know what is final.
func (r *VerifiedRepo) RowIDs(ctx context.Context, tenant string) (map[string]bool, error) {
	rows, err := r.db.query(ctx, `
		SELECT row_id FROM verified_invoices WHERE tenant = $1
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: fetching verified row ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scanning verified row id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// ByRowID fetches one verified row.
func (r *VerifiedRepo) ByRowID(ctx context.Context, tenant, rowID string) (*VerifiedInvoice, error) {
	return scanVerified(r.db.queryRow(ctx, verifiedSelect+`
		WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID))
}

// Update rewrites one verified row's fields by row_id (terminal edits).
func (r *VerifiedRepo) Update(ctx context.Context, inv *VerifiedInvoice) error {
	res, err := r.db.exec(ctx, `
		UPDATE verified_invoices
		SET receipt_number = $1, invoice_date = $2, customer_name = $3,
			vehicle_number = $4, item_description = $5, quantity = $6,
			rate = $7, amount = $8, updated_at = $9
		WHERE tenant = $10 AND row_id = $11
	`, inv.ReceiptNumber, nullableString(inv.Date), inv.CustomerName,
		inv.VehicleNumber, inv.ItemDescription, inv.Quantity,
		inv.Rate, inv.Amount, time.Now().UTC(), inv.Tenant, inv.RowID)
	if err != nil {
		return fmt.Errorf("store: updating verified invoice: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByRowID removes one verified row. Only the single-line delete
// path reaches here; receipt-level deletes never touch this table.
func (r *VerifiedRepo) DeleteByRowID(ctx context.Context, tenant, rowID string) error {
	if _, err := r.db.exec(ctx, `
		DELETE FROM verified_invoices WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID); err != nil {
		return fmt.Errorf("store: deleting verified invoice: %w", err)
	}
	return nil
}

// Count returns the tenant's verified row count.
func (r *VerifiedRepo) Count(ctx context.Context, tenant string) (int64, error) {
	var n int64
	err := r.db.queryRow(ctx, `
		SELECT COUNT(*) FROM verified_invoices WHERE tenant = $1
	`, tenant).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: counting verified invoices: %w", err)
	}
	return n, nil
}

func scanVerified(row rowScanner) (*VerifiedInvoice, error) {
	var inv VerifiedInvoice
	var date sql.NullString
	err := row.Scan(&inv.ID, &inv.Tenant, &inv.RowID, &inv.ReceiptNumber, &date,
		&inv.CustomerName, &inv.VehicleNumber, &inv.ItemDescription, &inv.Quantity,
		&inv.Rate, &inv.Amount, &inv.BlobKey, &inv.ImageHash, &inv.CreatedAt, &inv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning verified invoice: %w", err)
	}
	inv.Date = nullStringPtr(date)
	return &inv, nil
}
