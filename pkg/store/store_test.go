package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return db
}

func TestOpenRejectsEmptyURL(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	require.Error(t, err)
}

func TestRebind(t *testing.T) {
	sqlite := &DB{Driver: DriverSQLite}
	pg := &DB{Driver: DriverPostgres}

	cases := []struct {
		in, want string
	}{
		{"SELECT 1", "SELECT 1"},
		{"WHERE tenant = $1 AND row_id = $2", "WHERE tenant = ? AND row_id = ?"},
		{"LIMIT $12 OFFSET $13", "LIMIT ? OFFSET ?"},
		{"SELECT '$' FROM t", "SELECT '$' FROM t"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, sqlite.rebind(c.in))
		assert.Equal(t, c.in, pg.rebind(c.in))
	}
}

func TestTaskLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	task := &Task{Tenant: "garage", Kind: TaskKindSales}
	require.NoError(t, repo.Create(ctx, task))
	require.NotEmpty(t, task.TaskID)
	assert.Equal(t, TaskQueued, task.Status)

	require.NoError(t, repo.SetTotal(ctx, "garage", task.TaskID, 3))
	require.NoError(t, repo.SetStatus(ctx, "garage", task.TaskID, TaskProcessing, "working"))
	require.NoError(t, repo.SetCurrentFile(ctx, "garage", task.TaskID, "r1.jpg"))
	require.NoError(t, repo.IncrementProcessed(ctx, "garage", task.TaskID))
	require.NoError(t, repo.IncrementFailed(ctx, "garage", task.TaskID, "r2.jpg: unreadable"))
	require.NoError(t, repo.IncrementFailed(ctx, "garage", task.TaskID, "r3.jpg: unreadable"))
	require.NoError(t, repo.SetUploadedKeys(ctx, "garage", task.TaskID, []string{"garage/sales/r1.jpg"}))

	got, err := repo.Get(ctx, "garage", task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskProcessing, got.Status)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.Processed)
	assert.Equal(t, 2, got.Failed)
	assert.Equal(t, "r1.jpg", got.CurrentFile)
	assert.Equal(t, []string{"garage/sales/r1.jpg"}, got.UploadedKeys)
	assert.Equal(t, []string{"r2.jpg: unreadable", "r3.jpg: unreadable"}, got.Errors)
}

func TestTaskGetScopedToTenant(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	task := &Task{Tenant: "garage", Kind: TaskKindSales}
	require.NoError(t, repo.Create(ctx, task))

	_, err := repo.Get(ctx, "other-tenant", task.TaskID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTaskRecentReturnsNewest(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	older := &Task{Tenant: "garage", Kind: TaskKindSales}
	require.NoError(t, repo.Create(ctx, older))
	// created_at granularity needs a visible gap
	time.Sleep(5 * time.Millisecond)
	newer := &Task{Tenant: "garage", Kind: TaskKindSales}
	require.NoError(t, repo.Create(ctx, newer))
	unrelated := &Task{Tenant: "garage", Kind: TaskKindRecalculation}
	require.NoError(t, repo.Create(ctx, unrelated))

	got, err := repo.Recent(ctx, "garage", TaskKindSales)
	require.NoError(t, err)
	assert.Equal(t, newer.TaskID, got.TaskID)

	_, err = repo.Recent(ctx, "garage", TaskKindPurchase)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTaskSetDuplicates(t *testing.T) {
	db := openTestDB(t)
	repo := NewTaskRepo(db)
	ctx := context.Background()

	task := &Task{Tenant: "garage", Kind: TaskKindSales}
	require.NoError(t, repo.Create(ctx, task))
	require.NoError(t, repo.SetDuplicates(ctx, "garage", task.TaskID, []string{"r1.jpg"}))

	got, err := repo.Get(ctx, "garage", task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, TaskDuplicateDetected, got.Status)
	assert.Equal(t, []string{"r1.jpg"}, got.Duplicates)
}

func TestLockIDStable(t *testing.T) {
	a := LockID("garage")
	b := LockID("garage")
	c := LockID("other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.GreaterOrEqual(t, a, int64(0))
}

func TestTenantLockMutualExclusion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	lock, err := db.AcquireTenantLock(ctx, "garage")
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = db.AcquireTenantLock(blocked, "garage")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A different tenant is unaffected.
	other, err := db.AcquireTenantLock(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx)) // idempotent

	relock, err := db.AcquireTenantLock(ctx, "garage")
	require.NoError(t, err)
	require.NoError(t, relock.Release(ctx))
}
