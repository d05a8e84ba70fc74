package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRepo persists the per-tenant draft basket and finalized
// purchase orders.
type PurchaseRepo struct {
	db *DB
}

// NewPurchaseRepo creates the repository.
func NewPurchaseRepo(db *DB) *PurchaseRepo {
	return &PurchaseRepo{db: db}
}

// UpsertDraftLine writes one draft line on (tenant, part_number).
// Re-adding a part overwrites its quantity and notes.
func (r *PurchaseRepo) UpsertDraftLine(ctx context.Context, l *DraftPOLine) error {
	if l.Quantity <= 0 {
		return fmt.Errorf("store: draft quantity must be positive, got %d", l.Quantity)
	}
	if l.CurrentStock < 0 {
		return fmt.Errorf("store: draft current_stock must be non-negative, got %d", l.CurrentStock)
	}
	now := time.Now().UTC()
	_, err := r.db.BatchUpsert(ctx, BatchSpec{
		Table: "draft_po_lines",
		Columns: []string{
			"tenant", "part_number", "internal_item_name", "quantity", "unit_value",
			"priority", "current_stock", "reorder_point", "notes", "created_at", "updated_at",
		},
		ConflictCols: []string{"tenant", "part_number"},
		UpdateCols: []string{
			"internal_item_name", "quantity", "unit_value", "priority",
			"current_stock", "reorder_point", "notes", "updated_at",
		},
	}, [][]any{{
		l.Tenant, l.PartNumber, l.InternalItemName, l.Quantity, nullableDecimal(l.UnitValue),
		nullableString(l.Priority), l.CurrentStock, nullableInt(l.ReorderPoint), l.Notes, now, now,
	}})
	if err != nil {
		return fmt.Errorf("store: upserting draft line: %w", err)
	}
	return nil
}

const draftSelect = `
	SELECT tenant, part_number, internal_item_name, quantity, unit_value,
		priority, current_stock, reorder_point, notes, created_at, updated_at
	FROM draft_po_lines`

// DraftLines returns the tenant's basket.
func (r *PurchaseRepo) DraftLines(ctx context.Context, tenant string) ([]DraftPOLine, error) {
	rows, err := r.db.query(ctx, draftSelect+`
		WHERE tenant = $1
		ORDER BY part_number
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: fetching draft lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DraftPOLine
	for rows.Next() {
		l, err := scanDraftLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// DraftLine fetches one basket row.
func (r *PurchaseRepo) DraftLine(ctx context.Context, tenant, partNumber string) (*DraftPOLine, error) {
	return scanDraftLine(r.db.queryRow(ctx, draftSelect+`
		WHERE tenant = $1 AND part_number = $2
	`, tenant, partNumber))
}

// DeleteDraftLine removes one basket row.
func (r *PurchaseRepo) DeleteDraftLine(ctx context.Context, tenant, partNumber string) error {
	res, err := r.db.exec(ctx, `
		DELETE FROM draft_po_lines WHERE tenant = $1 AND part_number = $2
	`, tenant, partNumber)
	if err != nil {
		return fmt.Errorf("store: deleting draft line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearDraft empties the tenant's basket.
func (r *PurchaseRepo) ClearDraft(ctx context.Context, tenant string) error {
	if _, err := r.db.exec(ctx, `DELETE FROM draft_po_lines WHERE tenant = $1`, tenant); err != nil {
		return fmt.Errorf("store: clearing draft basket: %w", err)
	}
	return nil
}

// NumbersWithPrefix returns existing PO numbers sharing a prefix, so
// the workflow can pick the next sequence number in the family.
func (r *PurchaseRepo) NumbersWithPrefix(ctx context.Context, tenant, prefix string) ([]string, error) {
	rows, err := r.db.query(ctx, `
		SELECT po_number FROM purchase_orders
		WHERE tenant = $1 AND po_number LIKE $2
		ORDER BY po_number
	`, tenant, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("store: listing po numbers: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("store: scanning po number: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// CreateOrder inserts the order and its item snapshot in one
// transaction and fills in the generated ids.
func (r *PurchaseRepo) CreateOrder(ctx context.Context, po *PurchaseOrder) error {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: beginning po insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	po.CreatedAt = time.Now().UTC()
	if r.db.Driver == DriverPostgres {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO purchase_orders (tenant, po_number, supplier_name, notes, total_cost, pdf_blob_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, po.Tenant, po.PONumber, po.SupplierName, po.Notes, po.TotalCost, po.PDFBlobKey, po.CreatedAt).Scan(&po.ID)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, `
			INSERT INTO purchase_orders (tenant, po_number, supplier_name, notes, total_cost, pdf_blob_key, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, po.Tenant, po.PONumber, po.SupplierName, po.Notes, po.TotalCost, po.PDFBlobKey, po.CreatedAt)
		if err == nil {
			po.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		return fmt.Errorf("store: inserting purchase order: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, r.db.rebind(`
		INSERT INTO purchase_order_items (po_id, part_number, item_description, quantity,
			unit_value, line_total, current_stock, reorder_point)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`))
	if err != nil {
		return fmt.Errorf("store: preparing po item insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range po.Items {
		item := &po.Items[i]
		item.POID = po.ID
		if _, err := stmt.ExecContext(ctx, item.POID, item.PartNumber, item.ItemDescription,
			item.Quantity, item.UnitValue, item.LineTotal, item.CurrentStock, nullableInt(item.ReorderPoint)); err != nil {
			return fmt.Errorf("store: inserting po item %s: %w", item.PartNumber, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing po insert: %w", err)
	}
	return nil
}

// SetPDFKey records the rendered document's blob key.
func (r *PurchaseRepo) SetPDFKey(ctx context.Context, tenant string, poID int64, key string) error {
	if _, err := r.db.exec(ctx, `
		UPDATE purchase_orders SET pdf_blob_key = $1 WHERE tenant = $2 AND id = $3
	`, key, tenant, poID); err != nil {
		return fmt.Errorf("store: recording po pdf key: %w", err)
	}
	return nil
}

const orderSelect = `
	SELECT id, tenant, po_number, supplier_name, notes, total_cost, pdf_blob_key, created_at
	FROM purchase_orders`

// Orders lists the tenant's finalized orders, newest first.
func (r *PurchaseRepo) Orders(ctx context.Context, tenant string) ([]PurchaseOrder, error) {
	rows, err := r.db.query(ctx, orderSelect+`
		WHERE tenant = $1
		ORDER BY created_at DESC, id DESC
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("store: fetching purchase orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *po)
	}
	return out, rows.Err()
}

// Order fetches one order with its items.
func (r *PurchaseRepo) Order(ctx context.Context, tenant string, id int64) (*PurchaseOrder, error) {
	po, err := scanOrder(r.db.queryRow(ctx, orderSelect+`
		WHERE tenant = $1 AND id = $2
	`, tenant, id))
	if err != nil {
		return nil, err
	}

	rows, err := r.db.query(ctx, `
		SELECT id, po_id, part_number, item_description, quantity, unit_value,
			line_total, current_stock, reorder_point
		FROM purchase_order_items
		WHERE po_id = $1
		ORDER BY id
	`, po.ID)
	if err != nil {
		return nil, fmt.Errorf("store: fetching po items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item PurchaseOrderItem
		var reorder sql.NullInt64
		if err := rows.Scan(&item.ID, &item.POID, &item.PartNumber, &item.ItemDescription,
			&item.Quantity, &item.UnitValue, &item.LineTotal, &item.CurrentStock, &reorder); err != nil {
			return nil, fmt.Errorf("store: scanning po item: %w", err)
		}
		item.ReorderPoint = nullInt64Ptr(reorder)
		po.Items = append(po.Items, item)
	}
	return po, rows.Err()
}

func scanDraftLine(row rowScanner) (*DraftPOLine, error) {
	var l DraftPOLine
	var priority sql.NullString
	var reorder sql.NullInt64
	var unitValue decimal.NullDecimal
	err := row.Scan(&l.Tenant, &l.PartNumber, &l.InternalItemName, &l.Quantity, &unitValue,
		&priority, &l.CurrentStock, &reorder, &l.Notes, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning draft line: %w", err)
	}
	l.Priority = nullStringPtr(priority)
	l.ReorderPoint = nullInt64Ptr(reorder)
	l.UnitValue = unitValue
	return &l, nil
}

func scanOrder(row rowScanner) (*PurchaseOrder, error) {
	var po PurchaseOrder
	err := row.Scan(&po.ID, &po.Tenant, &po.PONumber, &po.SupplierName, &po.Notes,
		&po.TotalCost, &po.PDFBlobKey, &po.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning purchase order: %w", err)
	}
	return &po, nil
}
