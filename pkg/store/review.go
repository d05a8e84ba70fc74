package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ReviewRepo persists the two review tables: per-receipt headers
// (dates review) and per-line rows (amounts review).
type ReviewRepo struct {
	db *DB
}

// NewReviewRepo creates the repository.
func NewReviewRepo(db *DB) *ReviewRepo {
	return &ReviewRepo{db: db}
}

var headerUpsertSpec = BatchSpec{
	Table: "verification_headers",
	Columns: []string{
		"tenant", "row_id", "receipt_number", "invoice_date", "audit_findings",
		"status", "blob_key", "image_hash", "bbox", "created_at", "updated_at",
	},
	ConflictCols: []string{"tenant", "row_id"},
	UpdateCols: []string{
		"receipt_number", "invoice_date", "audit_findings", "status",
		"blob_key", "image_hash", "bbox", "updated_at",
	},
}

// UpsertHeaders writes headers and returns row_id → database id for
// the batch, read back after the write so line rows can carry their
// parent's id.
func (r *ReviewRepo) UpsertHeaders(ctx context.Context, headers []VerificationHeader) (map[string]int64, error) {
	if len(headers) == 0 {
		return map[string]int64{}, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(headers))
	rowIDs := make([]string, 0, len(headers))
	tenant := headers[0].Tenant
	for _, h := range headers {
		rows = append(rows, []any{
			h.Tenant, h.RowID, h.ReceiptNumber, nullableString(h.Date), h.AuditFindings,
			h.Status, h.BlobKey, h.ImageHash, nullableJSON(h.BBox), now, now,
		})
		rowIDs = append(rowIDs, h.RowID)
	}
	if _, err := r.db.BatchUpsert(ctx, headerUpsertSpec, rows); err != nil {
		return nil, err
	}
	return r.HeaderIDs(ctx, tenant, rowIDs)
}

// HeaderIDs resolves row_id → id for the given headers.
func (r *ReviewRepo) HeaderIDs(ctx context.Context, tenant string, rowIDs []string) (map[string]int64, error) {
	ids := make(map[string]int64, len(rowIDs))
	for start := 0; start < len(rowIDs); start += FetchBatchSize {
		end := start + FetchBatchSize
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		chunk := rowIDs[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, tenant)
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, id)
		}

		rows, err := r.db.query(ctx, `
			SELECT row_id, id FROM verification_headers
			WHERE tenant = $1 AND row_id IN (`+strings.Join(placeholders, ", ")+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("store: reading header ids: %w", err)
		}
		for rows.Next() {
			var rowID string
			var id int64
			if err := rows.Scan(&rowID, &id); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("store: scanning header id: %w", err)
			}
			ids[rowID] = id
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, err
		}
		_ = rows.Close()
	}
	return ids, nil
}

var lineUpsertSpec = BatchSpec{
	Table: "verification_lines",
	Columns: []string{
		"tenant", "row_id", "header_id", "receipt_number", "item_description",
		"quantity", "rate", "amount", "amount_mismatch", "status",
		"blob_key", "image_hash", "bbox", "created_at", "updated_at",
	},
	ConflictCols: []string{"tenant", "row_id"},
	UpdateCols: []string{
		"header_id", "receipt_number", "item_description", "quantity", "rate",
		"amount", "amount_mismatch", "status", "blob_key", "image_hash",
		"bbox", "updated_at",
	},
}

// UpsertLines writes line rows. Headers must already exist so each
// line carries its parent header_id.
func (r *ReviewRepo) UpsertLines(ctx context.Context, lines []VerificationLine) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []any{
			l.Tenant, l.RowID, l.HeaderID, l.ReceiptNumber, l.ItemDescription,
			l.Quantity, l.Rate, l.Amount, l.AmountMismatch, l.Status,
			l.BlobKey, l.ImageHash, nullableJSON(l.BBox), now, now,
		})
	}
	return r.db.BatchUpsert(ctx, lineUpsertSpec, rows)
}

const headerSelect = `
	SELECT id, tenant, row_id, receipt_number, invoice_date, audit_findings,
		status, blob_key, image_hash, bbox, created_at, updated_at
	FROM verification_headers`

// HeadersAll returns every header for the tenant in receipt order.
func (r *ReviewRepo) HeadersAll(ctx context.Context, tenant string) ([]VerificationHeader, error) {
	var out []VerificationHeader
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, headerSelect+`
			WHERE tenant = $1
			ORDER BY receipt_number, id
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching headers: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			h, err := scanHeader(rows)
			if err != nil {
				return n, err
			}
			out = append(out, *h)
			n++
		}
		return n, rows.Err()
	})
	return out, err
}

// HeaderByRowID fetches one header.
func (r *ReviewRepo) HeaderByRowID(ctx context.Context, tenant, rowID string) (*VerificationHeader, error) {
	h, err := scanHeader(r.db.queryRow(ctx, headerSelect+`
		WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID))
	if err != nil && strings.Contains(err.Error(), "no rows") {
		return nil, ErrNotFound
	}
	return h, err
}

const lineSelect = `
	SELECT id, tenant, row_id, header_id, receipt_number, item_description,
		quantity, rate, amount, amount_mismatch, status, blob_key,
		image_hash, bbox, created_at, updated_at
	FROM verification_lines`

// LinesAll returns every line for the tenant.
func (r *ReviewRepo) LinesAll(ctx context.Context, tenant string) ([]VerificationLine, error) {
	var out []VerificationLine
	err := paginate(func(limit, offset int) (int, error) {
		rows, err := r.db.query(ctx, lineSelect+`
			WHERE tenant = $1
			ORDER BY receipt_number, id
			LIMIT $2 OFFSET $3
		`, tenant, limit, offset)
		if err != nil {
			return 0, fmt.Errorf("store: fetching lines: %w", err)
		}
		defer func() { _ = rows.Close() }()

		n := 0
		for rows.Next() {
			l, err := scanLine(rows)
			if err != nil {
				return n, err
			}
			out = append(out, *l)
			n++
		}
		return n, rows.Err()
	})
	return out, err
}

// LinesByHeaderID returns the lines joined to one header.
func (r *ReviewRepo) LinesByHeaderID(ctx context.Context, tenant string, headerID int64) ([]VerificationLine, error) {
	rows, err := r.db.query(ctx, lineSelect+`
		WHERE tenant = $1 AND header_id = $2
		ORDER BY id
	`, tenant, headerID)
	if err != nil {
		return nil, fmt.Errorf("store: fetching header lines: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []VerificationLine
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// UpdateHeader rewrites a header's editable fields and propagates the
// receipt number to every line with the same header_id in one
// transaction. Returns how many lines were updated.
func (r *ReviewRepo) UpdateHeader(ctx context.Context, h *VerificationHeader) (int64, error) {
	tx, err := r.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: beginning header update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, r.db.rebind(`
		UPDATE verification_headers
		SET receipt_number = $1, invoice_date = $2, audit_findings = $3,
			status = $4, updated_at = $5
		WHERE tenant = $6 AND row_id = $7
	`), h.ReceiptNumber, nullableString(h.Date), h.AuditFindings, h.Status, now, h.Tenant, h.RowID)
	if err != nil {
		return 0, fmt.Errorf("store: updating header: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, ErrNotFound
	}

	var headerID int64
	err = tx.QueryRowContext(ctx, r.db.rebind(`
		SELECT id FROM verification_headers WHERE tenant = $1 AND row_id = $2
	`), h.Tenant, h.RowID).Scan(&headerID)
	if err != nil {
		return 0, fmt.Errorf("store: resolving header id: %w", err)
	}

	lines, err := tx.ExecContext(ctx, r.db.rebind(`
		UPDATE verification_lines
		SET receipt_number = $1, updated_at = $2
		WHERE tenant = $3 AND header_id = $4
	`), h.ReceiptNumber, now, h.Tenant, headerID)
	if err != nil {
		return 0, fmt.Errorf("store: propagating receipt number: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: committing header update: %w", err)
	}
	updated, _ := lines.RowsAffected()
	return updated, nil
}

// UpdateLine rewrites one line's editable fields. Header rows are not
// touched.
func (r *ReviewRepo) UpdateLine(ctx context.Context, l *VerificationLine) error {
	res, err := r.db.exec(ctx, `
		UPDATE verification_lines
		SET item_description = $1, quantity = $2, rate = $3, amount = $4,
			amount_mismatch = $5, status = $6, updated_at = $7
		WHERE tenant = $8 AND row_id = $9
	`, l.ItemDescription, l.Quantity, l.Rate, l.Amount, l.AmountMismatch, l.Status,
		time.Now().UTC(), l.Tenant, l.RowID)
	if err != nil {
		return fmt.Errorf("store: updating line: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByReceipt removes the receipt's header and line rows.
func (r *ReviewRepo) DeleteByReceipt(ctx context.Context, tenant, receiptNumber string) error {
	if _, err := r.db.exec(ctx, `
		DELETE FROM verification_lines WHERE tenant = $1 AND receipt_number = $2
	`, tenant, receiptNumber); err != nil {
		return fmt.Errorf("store: deleting receipt lines: %w", err)
	}
	if _, err := r.db.exec(ctx, `
		DELETE FROM verification_headers WHERE tenant = $1 AND receipt_number = $2
	`, tenant, receiptNumber); err != nil {
		return fmt.Errorf("store: deleting receipt header: %w", err)
	}
	return nil
}

// DeleteLineByRowID removes one line row.
func (r *ReviewRepo) DeleteLineByRowID(ctx context.Context, tenant, rowID string) error {
	if _, err := r.db.exec(ctx, `
		DELETE FROM verification_lines WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID); err != nil {
		return fmt.Errorf("store: deleting line: %w", err)
	}
	return nil
}

// DeleteHeaderByRowID removes one header row.
func (r *ReviewRepo) DeleteHeaderByRowID(ctx context.Context, tenant, rowID string) error {
	if _, err := r.db.exec(ctx, `
		DELETE FROM verification_headers WHERE tenant = $1 AND row_id = $2
	`, tenant, rowID); err != nil {
		return fmt.Errorf("store: deleting header: %w", err)
	}
	return nil
}

// DeleteHeadersByRowIDs removes a batch of headers.
func (r *ReviewRepo) DeleteHeadersByRowIDs(ctx context.Context, tenant string, rowIDs []string) error {
	return r.deleteByRowIDs(ctx, "verification_headers", tenant, rowIDs)
}

// DeleteLinesByRowIDs removes a batch of lines.
func (r *ReviewRepo) DeleteLinesByRowIDs(ctx context.Context, tenant string, rowIDs []string) error {
	return r.deleteByRowIDs(ctx, "verification_lines", tenant, rowIDs)
}

func (r *ReviewRepo) deleteByRowIDs(ctx context.Context, table, tenant string, rowIDs []string) error {
	for start := 0; start < len(rowIDs); start += DefaultBatchSize {
		end := start + DefaultBatchSize
		if end > len(rowIDs) {
			end = len(rowIDs)
		}
		chunk := rowIDs[start:end]

		placeholders := make([]string, len(chunk))
		args := make([]any, 0, len(chunk)+1)
		args = append(args, tenant)
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, id)
		}
		if _, err := r.db.exec(ctx, `
			DELETE FROM `+table+` WHERE tenant = $1 AND row_id IN (`+strings.Join(placeholders, ", ")+`)
		`, args...); err != nil {
			return fmt.Errorf("store: deleting from %s: %w", table, err)
		}
	}
	return nil
}

func scanHeader(row rowScanner) (*VerificationHeader, error) {
	var h VerificationHeader
	var date sql.NullString
	var bbox []byte
	err := row.Scan(&h.ID, &h.Tenant, &h.RowID, &h.ReceiptNumber, &date, &h.AuditFindings,
		&h.Status, &h.BlobKey, &h.ImageHash, &bbox, &h.CreatedAt, &h.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning header: %w", err)
	}
	h.Date = nullStringPtr(date)
	h.BBox = bbox
	return &h, nil
}

func scanLine(row rowScanner) (*VerificationLine, error) {
	var l VerificationLine
	var bbox []byte
	err := row.Scan(&l.ID, &l.Tenant, &l.RowID, &l.HeaderID, &l.ReceiptNumber, &l.ItemDescription,
		&l.Quantity, &l.Rate, &l.Amount, &l.AmountMismatch, &l.Status, &l.BlobKey,
		&l.ImageHash, &bbox, &l.CreatedAt, &l.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scanning line: %w", err)
	}
	l.BBox = bbox
	return &l, nil
}

// nullableJSON maps empty JSON to NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
