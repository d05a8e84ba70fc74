package store

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// mockPostgres wraps a sqlmock connection as the Postgres backend, for
// asserting the SQL we send down the wire without a server.
func mockPostgres(t *testing.T) (*DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return &DB{
		SQL:     sqlDB,
		Driver:  DriverPostgres,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		sqlocks: newSQLiteLockTable(),
	}, mock
}

func TestUpdateVendorLineKeepsPostgresPlaceholders(t *testing.T) {
	db, mock := mockPostgres(t)
	repo := NewStagingRepo(db)

	mock.ExpectExec(`UPDATE staging_vendor_lines SET\s+invoice_number = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	line := vendorLine("INV1_0")
	require.NoError(t, repo.UpdateVendorLine(context.Background(), &line))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateVendorLineZeroRowsIsNotFound(t *testing.T) {
	db, mock := mockPostgres(t)
	repo := NewStagingRepo(db)

	mock.ExpectExec(`UPDATE staging_vendor_lines`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	line := vendorLine("missing")
	require.ErrorIs(t, repo.UpdateVendorLine(context.Background(), &line), ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementFailedAppendsJSONBOnPostgres(t *testing.T) {
	db, mock := mockPostgres(t)
	repo := NewTaskRepo(db)

	mock.ExpectExec(`UPDATE tasks SET failed = failed \+ 1, errors = errors \|\| \$1::jsonb`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementFailed(context.Background(), "garage", "t-1", "r1.jpg: unreadable"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTenantLockUsesAdvisoryLockSession(t *testing.T) {
	db, mock := mockPostgres(t)
	id := LockID("garage")

	mock.ExpectExec(`SELECT pg_advisory_lock\(\$1\)`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	lock, err := db.AcquireTenantLock(ctx, "garage")
	require.NoError(t, err)
	require.Equal(t, id, lock.ID())
	require.NoError(t, lock.Release(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}
