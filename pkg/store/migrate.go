package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema to the latest version. PostgreSQL runs the
// embedded goose migration history; SQLite (the local/dev backend)
// bootstraps the equivalent schema in one shot.
func (d *DB) Migrate(ctx context.Context) error {
	if d.Driver == DriverSQLite {
		if _, err := d.SQL.ExecContext(ctx, sqliteSchema); err != nil {
			return fmt.Errorf("store: initializing sqlite schema: %w", err)
		}
		d.logger.Info("sqlite schema ready")
		return nil
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("store: setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, d.SQL, "migrations"); err != nil {
		return fmt.Errorf("store: running migrations: %w", err)
	}
	d.logger.Info("migrations applied")
	return nil
}

// MigrationVersion returns the current schema version (0 for SQLite,
// which has no migration history).
func (d *DB) MigrationVersion(ctx context.Context) (int64, error) {
	if d.Driver == DriverSQLite {
		return 0, nil
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("store: setting goose dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, d.SQL)
	if err != nil {
		return 0, fmt.Errorf("store: reading migration version: %w", err)
	}
	return version, nil
}

// sqliteSchema mirrors the final state of the PostgreSQL migration
// history for the embedded dev database. Row-level security has no
// SQLite equivalent; the application's tenant filters are the only
// isolation there.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    tenant TEXT NOT NULL,
    kind TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    total INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    duplicates TEXT NOT NULL DEFAULT '[]',
    uploaded_keys TEXT NOT NULL DEFAULT '[]',
    errors TEXT NOT NULL DEFAULT '[]',
    current_file TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_tenant_kind_created ON tasks(tenant, kind, created_at DESC);

CREATE TABLE IF NOT EXISTS staging_invoices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    row_id TEXT NOT NULL,
    receipt_number TEXT NOT NULL DEFAULT '',
    invoice_date TEXT CHECK (invoice_date <> ''),
    customer_name TEXT NOT NULL DEFAULT '',
    vehicle_number TEXT NOT NULL DEFAULT '',
    item_description TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    rate NUMERIC NOT NULL DEFAULT 0,
    amount NUMERIC NOT NULL DEFAULT 0,
    blob_key TEXT NOT NULL DEFAULT '',
    image_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant, row_id)
);
CREATE INDEX IF NOT EXISTS idx_staging_invoices_tenant_hash ON staging_invoices(tenant, image_hash);
CREATE INDEX IF NOT EXISTS idx_staging_invoices_tenant_receipt ON staging_invoices(tenant, receipt_number);

CREATE TABLE IF NOT EXISTS staging_vendor_lines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    row_id TEXT NOT NULL,
    invoice_number TEXT NOT NULL DEFAULT '',
    invoice_date TEXT CHECK (invoice_date <> ''),
    vendor_name TEXT NOT NULL DEFAULT '',
    part_number TEXT NOT NULL DEFAULT '',
    item_description TEXT NOT NULL DEFAULT '',
    batch_number TEXT NOT NULL DEFAULT '',
    hsn_code TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    rate NUMERIC NOT NULL DEFAULT 0,
    taxable_amount NUMERIC NOT NULL DEFAULT 0,
    discount_pct NUMERIC NOT NULL DEFAULT 0,
    cgst_pct NUMERIC NOT NULL DEFAULT 0,
    sgst_pct NUMERIC NOT NULL DEFAULT 0,
    discounted_price NUMERIC NOT NULL DEFAULT 0,
    taxed_amount NUMERIC NOT NULL DEFAULT 0,
    net_bill NUMERIC NOT NULL DEFAULT 0,
    amount_mismatch NUMERIC NOT NULL DEFAULT 0,
    handwritten INTEGER NOT NULL DEFAULT 0,
    excluded_from_stock INTEGER NOT NULL DEFAULT 0,
    blob_key TEXT NOT NULL DEFAULT '',
    image_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant, row_id)
);
CREATE INDEX IF NOT EXISTS idx_staging_vendor_tenant_hash ON staging_vendor_lines(tenant, image_hash);
CREATE INDEX IF NOT EXISTS idx_staging_vendor_tenant_part ON staging_vendor_lines(tenant, part_number);

CREATE TABLE IF NOT EXISTS verification_headers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    row_id TEXT NOT NULL,
    receipt_number TEXT NOT NULL DEFAULT '',
    invoice_date TEXT CHECK (invoice_date <> ''),
    audit_findings TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'Pending',
    blob_key TEXT NOT NULL DEFAULT '',
    image_hash TEXT NOT NULL DEFAULT '',
    bbox TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant, row_id)
);
CREATE INDEX IF NOT EXISTS idx_verification_headers_tenant_status ON verification_headers(tenant, status);
CREATE INDEX IF NOT EXISTS idx_verification_headers_tenant_receipt ON verification_headers(tenant, receipt_number);

CREATE TABLE IF NOT EXISTS verification_lines (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    row_id TEXT NOT NULL,
    header_id INTEGER NOT NULL DEFAULT 0,
    receipt_number TEXT NOT NULL DEFAULT '',
    item_description TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    rate NUMERIC NOT NULL DEFAULT 0,
    amount NUMERIC NOT NULL DEFAULT 0,
    amount_mismatch NUMERIC NOT NULL DEFAULT 0,
    status TEXT NOT NULL DEFAULT 'Pending',
    blob_key TEXT NOT NULL DEFAULT '',
    image_hash TEXT NOT NULL DEFAULT '',
    bbox TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant, row_id)
);
CREATE INDEX IF NOT EXISTS idx_verification_lines_header ON verification_lines(header_id);
CREATE INDEX IF NOT EXISTS idx_verification_lines_tenant_status ON verification_lines(tenant, status);

CREATE TABLE IF NOT EXISTS verified_invoices (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    row_id TEXT NOT NULL,
    receipt_number TEXT NOT NULL DEFAULT '',
    invoice_date TEXT CHECK (invoice_date <> ''),
    customer_name TEXT NOT NULL DEFAULT '',
    vehicle_number TEXT NOT NULL DEFAULT '',
    item_description TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    rate NUMERIC NOT NULL DEFAULT 0,
    amount NUMERIC NOT NULL DEFAULT 0,
    blob_key TEXT NOT NULL DEFAULT '',
    image_hash TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant, row_id)
);
CREATE INDEX IF NOT EXISTS idx_verified_invoices_tenant_hash ON verified_invoices(tenant, image_hash);
CREATE INDEX IF NOT EXISTS idx_verified_invoices_tenant_date ON verified_invoices(tenant, invoice_date);

CREATE TABLE IF NOT EXISTS stock_levels (
    tenant TEXT NOT NULL,
    part_number TEXT NOT NULL,
    internal_item_name TEXT NOT NULL DEFAULT '',
    priority TEXT CHECK (priority IN ('P0', 'P1', 'P2', 'P3')),
    reorder_point INTEGER,
    current_stock INTEGER NOT NULL DEFAULT 0,
    manual_adjustment INTEGER NOT NULL DEFAULT 0,
    old_stock INTEGER,
    unit_value NUMERIC,
    total_value NUMERIC NOT NULL DEFAULT 0,
    customer_items TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant, part_number)
);

CREATE TABLE IF NOT EXISTS vendor_mappings (
    tenant TEXT NOT NULL,
    part_number TEXT NOT NULL,
    vendor_description TEXT NOT NULL DEFAULT '',
    internal_item_name TEXT NOT NULL DEFAULT '',
    customer_items TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant, part_number)
);

CREATE TABLE IF NOT EXISTS draft_po_lines (
    tenant TEXT NOT NULL,
    part_number TEXT NOT NULL,
    internal_item_name TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL CHECK (quantity > 0),
    unit_value NUMERIC,
    priority TEXT,
    current_stock INTEGER NOT NULL DEFAULT 0 CHECK (current_stock >= 0),
    reorder_point INTEGER,
    notes TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (tenant, part_number)
);

CREATE TABLE IF NOT EXISTS purchase_orders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    po_number TEXT NOT NULL,
    supplier_name TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    total_cost NUMERIC NOT NULL DEFAULT 0,
    pdf_blob_key TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (tenant, po_number)
);

CREATE TABLE IF NOT EXISTS purchase_order_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    po_id INTEGER NOT NULL REFERENCES purchase_orders(id) ON DELETE CASCADE,
    part_number TEXT NOT NULL,
    item_description TEXT NOT NULL DEFAULT '',
    quantity INTEGER NOT NULL DEFAULT 0,
    unit_value NUMERIC NOT NULL DEFAULT 0,
    line_total NUMERIC NOT NULL DEFAULT 0,
    current_stock INTEGER NOT NULL DEFAULT 0,
    reorder_point INTEGER
);
CREATE INDEX IF NOT EXISTS idx_po_items_po ON purchase_order_items(po_id);

CREATE TABLE IF NOT EXISTS llm_usage_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    task_id TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    model TEXT NOT NULL,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    cost NUMERIC NOT NULL DEFAULT 0,
    currency TEXT NOT NULL DEFAULT 'INR',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_llm_usage_tenant_time ON llm_usage_events(tenant, created_at);
`
