package store

import (
	"context"
	"fmt"
	"strings"
)

// DefaultBatchSize is the number of rows per upsert statement.
// Per-row upserts fall off a performance cliff on thousand-row sync
// jobs; batching keeps the statement count flat.
const DefaultBatchSize = 500

// BatchSpec describes one batch-upsert target.
type BatchSpec struct {
	Table        string
	Columns      []string
	ConflictCols []string
	// UpdateCols lists the columns rewritten on conflict. Empty means
	// every column not in ConflictCols.
	UpdateCols []string
	// BatchSize overrides DefaultBatchSize when > 0.
	BatchSize int
}

// BatchUpsert inserts rows in chunks with ON CONFLICT DO UPDATE.
// Chunks are independent statements: a failing chunk is never retried
// here, and rows written by earlier chunks stay written. Returns the
// number of rows submitted in successful chunks.
func (d *DB) BatchUpsert(ctx context.Context, spec BatchSpec, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if spec.Table == "" || len(spec.Columns) == 0 {
		return 0, fmt.Errorf("store: batch upsert needs a table and columns")
	}
	for i, row := range rows {
		if len(row) != len(spec.Columns) {
			return 0, fmt.Errorf("store: row %d has %d values, want %d", i, len(row), len(spec.Columns))
		}
	}

	size := spec.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	updateCols := spec.UpdateCols
	if len(updateCols) == 0 {
		conflict := make(map[string]bool, len(spec.ConflictCols))
		for _, c := range spec.ConflictCols {
			conflict[c] = true
		}
		for _, c := range spec.Columns {
			if !conflict[c] {
				updateCols = append(updateCols, c)
			}
		}
	}

	written := 0
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		query := d.buildUpsert(spec.Table, spec.Columns, spec.ConflictCols, updateCols, len(chunk))
		args := make([]any, 0, len(chunk)*len(spec.Columns))
		for _, row := range chunk {
			args = append(args, row...)
		}

		if _, err := d.SQL.ExecContext(ctx, query, args...); err != nil {
			return written, fmt.Errorf("store: batch upsert into %s (rows %d..%d): %w", spec.Table, start, end-1, err)
		}
		written = end
	}
	return written, nil
}

// buildUpsert renders one multi-row INSERT ... ON CONFLICT statement
// with driver-appropriate placeholders.
func (d *DB) buildUpsert(table string, columns, conflictCols, updateCols []string, rowCount int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(columns, ", "))
	b.WriteString(") VALUES ")

	arg := 1
	for r := 0; r < rowCount; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			if d.Driver == DriverPostgres {
				fmt.Fprintf(&b, "$%d", arg)
			} else {
				b.WriteByte('?')
			}
			arg++
		}
		b.WriteByte(')')
	}

	if len(conflictCols) > 0 {
		b.WriteString(" ON CONFLICT (")
		b.WriteString(strings.Join(conflictCols, ", "))
		if len(updateCols) == 0 {
			b.WriteString(") DO NOTHING")
		} else {
			b.WriteString(") DO UPDATE SET ")
			for i, c := range updateCols {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(c)
				b.WriteString(" = EXCLUDED.")
				b.WriteString(c)
			}
		}
	}
	return b.String()
}
