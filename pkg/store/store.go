// Package store is the relational persistence layer. It speaks
// PostgreSQL in production and SQLite for local development, exposing
// tenant-scoped repositories plus the batch-upsert and advisory-lock
// primitives the pipeline depends on.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver identifies the SQL backend.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// FetchBatchSize is the store's hard cap on rows per page. Fetches for
// "all rows" iterate transparently in pages of this size.
const FetchBatchSize = 1000

// DB wraps the sql handle with driver awareness.
type DB struct {
	SQL    *sql.DB
	Driver Driver

	logger  *slog.Logger
	sqlocks *sqliteLockTable
}

// Open connects to the database named by url. postgres:// and
// postgresql:// URLs use lib/pq; anything else (a file path, file: URL
// or :memory:) opens an embedded SQLite database.
func Open(ctx context.Context, url string, logger *slog.Logger) (*DB, error) {
	if url == "" {
		return nil, fmt.Errorf("store: database URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	driver := DriverSQLite
	driverName := "sqlite"
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		driver = DriverPostgres
		driverName = "postgres"
	}

	sqlDB, err := sql.Open(driverName, url)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// The embedded driver serializes writers; a single connection
		// avoids SQLITE_BUSY under concurrent workers.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("store: pinging %s: %w", driver, err)
	}

	return &DB{
		SQL:     sqlDB,
		Driver:  driver,
		logger:  logger.With("component", "store"),
		sqlocks: newSQLiteLockTable(),
	}, nil
}

// Close releases the underlying pool.
func (d *DB) Close() error {
	return d.SQL.Close()
}

// rebind converts $N placeholders to ? for SQLite. Queries never reuse
// a placeholder, so positional replacement is safe.
func (d *DB) rebind(query string) string {
	if d.Driver == DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c != '$' || i+1 >= len(query) || query[i+1] < '0' || query[i+1] > '9' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('?')
		for i+1 < len(query) && query[i+1] >= '0' && query[i+1] <= '9' {
			i++
		}
	}
	return b.String()
}

// exec runs a statement with driver-appropriate placeholders.
func (d *DB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return d.SQL.ExecContext(ctx, d.rebind(query), args...)
}

// query runs a query with driver-appropriate placeholders.
func (d *DB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return d.SQL.QueryContext(ctx, d.rebind(query), args...)
}

// queryRow runs a single-row query with driver-appropriate placeholders.
func (d *DB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return d.SQL.QueryRowContext(ctx, d.rebind(query), args...)
}

// paginate calls fetch with (limit, offset) pages of FetchBatchSize
// until a short page signals the end.
func paginate(fetch func(limit, offset int) (int, error)) error {
	offset := 0
	for {
		n, err := fetch(FetchBatchSize, offset)
		if err != nil {
			return err
		}
		if n < FetchBatchSize {
			return nil
		}
		offset += n
	}
}
