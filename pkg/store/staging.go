package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// StagingRepo persists in-flight invoice line items for both kinds:
// sales receipts and vendor bills.
type StagingRepo struct {
	db *DB
}

// NewStagingRepo creates the repository.
func NewStagingRepo(db *DB) *StagingRepo {
	return &StagingRepo{db: db}
}

var salesUpsertSpec = BatchSpec{
	Table: "staging_invoices",
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

// UpsertSales batch-upserts sales rows on (tenant, row_id). Re-running
// a batch preserves ids and overwrites fields, so prior edits to the
// same row_id survive as the latest write.
func (r *StagingRepo) UpsertSales(ctx context.Context, invoices []StagingInvoice) (int, error) {
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
	return r.db.BatchUpsert(ctx, salesUpsertSpec, rows)
}

var vendorUpsertSpec = BatchSpec{
	Table: "staging_vendor_lines",
	Columns: []string{
		"tenant", "row_id", "invoice_number", "invoice_date", "vendor_name",
		"part_number", "item_description", "batch_number", "hsn_code",
		"quantity", "rate", "taxable_amount", "discount_pct", "cgst_pct",
		"sgst_pct", "discounted_price", "taxed_amount", "net_bill",
		"amount_mismatch", "handwritten", "excluded_from_stock",
		"blob_key", "image_hash", "created_at", "updated_at",
	},
	ConflictCols: []string{"tenant", "row_id"},
	UpdateCols: []string{
		"invoice_number", "invoice_date", "vendor_name", "part_number",
		"item_description", "batch_number", "hsn_code", "quantity", "rate",
		"taxable_amount", "discount_pct", "cgst_pct", "sgst_pct",
		"discounted_price", "taxed_amount", "net_bill", "amount_mismatch",
		"handwritten", "excluded_from_stock", "blob_key", "image_hash", "updated_at",
	},
}

// UpsertVendor batch-upserts vendor bill lines on (tenant, row_id).
func (r *StagingRepo) UpsertVendor(ctx context.Context, lines []StagingVendorLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []any{
			l.Tenant, l.RowID, l.InvoiceNumber, nullableString(l.Date), l.VendorName,
			l.PartNumber, l.ItemDescription, l.BatchNumber, l.HSNCode,
			l.Quantity, l.Rate, l.TaxableAmount, l.DiscountPct, l.CGSTPct,
			l.SGSTPct, l.DiscountedPrice, l.TaxedAmount, l.NetBill,
			l.AmountMismatch, l.Handwritten, l.ExcludedFromStock,
			l.BlobKey, l.ImageHash, now, now,
		})
	}
	return r.db.BatchUpsert(ctx, vendorUpsertSpec, rows)
}

const salesSelect = `
	SELECT id, tenant, row_id, receipt_number, invoice_date, customer_name,
		vehicle_number, item_description, quantity, rate, amount,
		blob_key, image_hash, created_at, updated_at
	FROM staging_invoices`

// SalesAll returns every sales staging row for the tenant, iterating
// the store's page cap transparently.
func (r *StagingRepo) SalesAll(ctx context.Context, tenant string) ([]StagingInvoice, error) {
	var out []StagingInvoice
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, salesSelect+`
			WHERE tenant = $1
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching sales staging: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			inv, err := scanStagingInvoice(rows)
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

const vendorSelect = `
	SELECT id, tenant, row_id, invoice_number, invoice_date, vendor_name,
		part_number, item_description, batch_number, hsn_code, quantity,
		rate, taxable_amount, discount_pct, cgst_pct, sgst_pct,
		discounted_price, taxed_amount, net_bill, amount_mismatch,
		handwritten, excluded_from_stock, blob_key, image_hash,
		created_at, updated_at
	FROM staging_vendor_lines`

// VendorAll returns the tenant's vendor lines. With includeExcluded
// false, rows flagged excluded_from_stock are filtered out (the stock
// engine's view).
func (r *StagingRepo) VendorAll(ctx context.Context, tenant string, includeExcluded bool) ([]StagingVendorLine, error) {
	filter := ` WHERE tenant = $1 AND excluded_from_stock = FALSE`
	if includeExcluded {
		filter = ` WHERE tenant = $1`
	}

	var out []StagingVendorLine
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, vendorSelect+filter+`
			ORDER BY id
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching vendor staging: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			line, err := scanStagingVendorLine(rows)
			if err != nil {
				return n, err
			}
			out = append(out, *line)
			n++
		}
		return n, rows.Err()
	})
	return out, err
}

// VendorLineByRowID fetches one vendor line.
func (r *StagingRepo) VendorLineByRowID(ctx context.Context, tenant, rowID string) (*StagingVendorLine, error) {
	row := r.db.queryRow(ctx, vendorSelect+` WHERE tenant = $1 AND row_id = $2`, tenant, rowID)
	line, err := scanStagingVendorLine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return line, err
}

// UpdateVendorLine overwrites the editable fields of one vendor line.
// The blob key, hash and exclusion flag are not touched here.
func (r *StagingRepo) UpdateVendorLine(ctx context.Context, l *StagingVendorLine) error {
	res, err := r.db.exec(ctx, `
		UPDATE staging_vendor_lines SET
			invoice_number = $1, invoice_date = $2, vendor_name = $3,
			part_number = $4, item_description = $5, batch_number = $6,
			hsn_code = $7, quantity = $8, rate = $9, taxable_amount = $10,
			discount_pct = $11, cgst_pct = $12, sgst_pct = $13,
			discounted_price = $14, taxed_amount = $15, net_bill = $16,
			amount_mismatch = $17, handwritten = $18, updated_at = $19
		WHERE tenant = $20 AND row_id = $21
	`, l.InvoiceNumber, nullableString(l.Date), l.VendorName,
		l.PartNumber, l.ItemDescription, l.BatchNumber,
		l.HSNCode, l.Quantity, l.Rate, l.TaxableAmount,
		l.DiscountPct, l.CGSTPct, l.SGSTPct,
		l.DiscountedPrice, l.TaxedAmount, l.NetBill,
		l.AmountMismatch, l.Handwritten, time.Now().UTC(),
		l.Tenant, l.RowID)
	if err != nil {
		return fmt.Errorf("store: updating vendor line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleVendorExcluded flips the stock-exclusion flag and returns the
// new value.
func (r *StagingRepo) ToggleVendorExcluded(ctx context.Context, tenant, rowID string) (bool, error) {
	res, err := r.db.exec(ctx, `
		UPDATE staging_vendor_lines
		SET excluded_from_stock = NOT excluded_from_stock, updated_at = $1
		WHERE tenant = $2 AND row_id = $3
	`, time.Now().UTC(), tenant, rowID)
	if err != nil {
		return false, fmt.Errorf("store: toggling stock exclusion: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, ErrNotFound
	}

	var excluded bool
	err = r.db.queryRow(ctx, `
		SELECT excluded_from_stock FROM staging_vendor_lines WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID).Scan(&excluded)
	if err != nil {
		return false, fmt.Errorf("store: reading stock exclusion: %w", err)
	}
	return excluded, nil
}

// SalesHashExists reports whether the image hash is already present
// for this tenant, in staging or in the verified table (cross-batch
// dedup).
func (r *StagingRepo) SalesHashExists(ctx context.Context, tenant, hash string) (bool, error) {
	var one int
	err := r.db.queryRow(ctx, `
		SELECT 1 WHERE EXISTS (
			SELECT 1 FROM staging_invoices WHERE tenant = $1 AND image_hash = $2
		) OR EXISTS (
			SELECT 1 FROM verified_invoices WHERE tenant = $3 AND image_hash = $4
		)
	`, tenant, hash, tenant, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: checking sales hash: %w", err)
	}
	return true, nil
}

// VendorHashExists reports whether the hash exists among vendor lines.
func (r *StagingRepo) VendorHashExists(ctx context.Context, tenant, hash string) (bool, error) {
	var one int
	err := r.db.queryRow(ctx, `
		SELECT 1 FROM staging_vendor_lines WHERE tenant = $1 AND image_hash = $2 LIMIT 1
	`, tenant, hash).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: checking vendor hash: %w", err)
	}
	return true, nil
}

// DeleteSalesByHash removes a hash's rows from every mutable sales
// table. Verified rows are retained; force-upload replaces in-flight
// work, not finalized history.
func (r *StagingRepo) DeleteSalesByHash(ctx context.Context, tenant, hash string) error {
	for _, table := range []string{"staging_invoices", "verification_headers", "verification_lines"} {
		if _, err := r.db.exec(ctx, `
			DELETE FROM `+table+` WHERE tenant = $1 AND image_hash = $2
		`, tenant, hash); err != nil {
			return fmt.Errorf("store: deleting %s rows for hash: %w", table, err)
		}
	}
	return nil
}

// DeleteVendorByHash removes a hash's vendor lines.
func (r *StagingRepo) DeleteVendorByHash(ctx context.Context, tenant, hash string) error {
	if _, err := r.db.exec(ctx, `
		DELETE FROM staging_vendor_lines WHERE tenant = $1 AND image_hash = $2
	`, tenant, hash); err != nil {
		return fmt.Errorf("store: deleting vendor rows for hash: %w", err)
	}
	return nil
}

// DeleteSalesByReceipt removes the receipt's staging rows.
func (r *StagingRepo) DeleteSalesByReceipt(ctx context.Context, tenant, receiptNumber string) (int64, error) {
	res, err := r.db.exec(ctx, `
		DELETE FROM staging_invoices WHERE tenant = $1 AND receipt_number = $2
	`, tenant, receiptNumber)
	if err != nil {
		return 0, fmt.Errorf("store: deleting staging receipt: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteSalesByRowID removes one staging row.
func (r *StagingRepo) DeleteSalesByRowID(ctx context.Context, tenant, rowID string) error {
	if _, err := r.db.exec(ctx, `
		DELETE FROM staging_invoices WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID); err != nil {
		return fmt.Errorf("store: deleting staging row: %w", err)
	}
	return nil
}

func scanStagingInvoice(row rowScanner) (*StagingInvoice, error) {
	var inv StagingInvoice
	var date sql.NullString
	err := row.Scan(&inv.ID, &inv.Tenant, &inv.RowID, &inv.ReceiptNumber, &date,
		&inv.CustomerName, &inv.VehicleNumber, &inv.ItemDescription, &inv.Quantity,
		&inv.Rate, &inv.Amount, &inv.BlobKey, &inv.ImageHash, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scanning staging invoice: %w", err)
	}
	inv.Date = nullStringPtr(date)
	return &inv, nil
}

func scanStagingVendorLine(row rowScanner) (*StagingVendorLine, error) {
	var l StagingVendorLine
	var date sql.NullString
	err := row.Scan(&l.ID, &l.Tenant, &l.RowID, &l.InvoiceNumber, &date, &l.VendorName,
		&l.PartNumber, &l.ItemDescription, &l.BatchNumber, &l.HSNCode, &l.Quantity,
		&l.Rate, &l.TaxableAmount, &l.DiscountPct, &l.CGSTPct, &l.SGSTPct,
		&l.DiscountedPrice, &l.TaxedAmount, &l.NetBill, &l.AmountMismatch,
		&l.Handwritten, &l.ExcludedFromStock, &l.BlobKey, &l.ImageHash,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: scanning vendor line: %w", err)
	}
	l.Date = nullStringPtr(date)
	return &l, nil
}

// nullableString converts *string to a driver value, mapping nil and
// empty to NULL. Date columns reject empty strings outright.
func nullableString(p *string) any {
	if p == nil || *p == "" {
		return nil
	}
	return *p
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
