package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// LockID derives the advisory-lock key for a tenant: the first eight
// bytes of sha256(tenant), reduced modulo 2^63-1 so it fits a signed
// bigint.
func LockID(tenant string) int64 {
	sum := sha256.Sum256([]byte(tenant))
	v := binary.BigEndian.Uint64(sum[:8])
	return int64(v % uint64(math.MaxInt64))
}

// TenantLock is a held advisory lock. Release is idempotent.
type TenantLock struct {
	id      int64
	mu      sync.Mutex
	release func(context.Context) error
}

// ID returns the lock key.
func (l *TenantLock) ID() int64 { return l.id }

// Release frees the lock. Safe to call more than once.
func (l *TenantLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.release == nil {
		return nil
	}
	fn := l.release
	l.release = nil
	return fn(ctx)
}

// AcquireTenantLock blocks until this process holds the tenant's
// advisory lock. On PostgreSQL the lock is session-scoped: it lives on
// a dedicated connection, so a crashed holder releases automatically
// when the session dies. The SQLite backend emulates the semantics
// in-process, which is sufficient for the single-process dev setup.
func (d *DB) AcquireTenantLock(ctx context.Context, tenant string) (*TenantLock, error) {
	id := LockID(tenant)

	if d.Driver == DriverSQLite {
		if err := d.sqlocks.acquire(ctx, id); err != nil {
			return nil, fmt.Errorf("store: acquiring lock %d: %w", id, err)
		}
		return &TenantLock{
			id: id,
			release: func(context.Context) error {
				d.sqlocks.release(id)
				return nil
			},
		}, nil
	}

	conn, err := d.SQL.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: opening lock session: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", id); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("store: acquiring lock %d: %w", id, err)
	}

	return &TenantLock{
		id:      id,
		release: pgRelease(conn, id),
	}, nil
}

func pgRelease(conn *sql.Conn, id int64) func(context.Context) error {
	return func(ctx context.Context) error {
		_, unlockErr := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", id)
		closeErr := conn.Close()
		if unlockErr != nil {
			// The session close below releases the lock regardless.
			return fmt.Errorf("store: releasing lock %d: %w", id, unlockErr)
		}
		return closeErr
	}
}

// sqliteLockTable emulates session-scoped advisory locks for the
// embedded backend. One buffered slot per lock id gives blocking
// mutual exclusion with context cancellation.
type sqliteLockTable struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

func newSQLiteLockTable() *sqliteLockTable {
	return &sqliteLockTable{locks: make(map[int64]chan struct{})}
}

func (t *sqliteLockTable) acquire(ctx context.Context, id int64) error {
	t.mu.Lock()
	ch, ok := t.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[id] = ch
	}
	t.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *sqliteLockTable) release(id int64) {
	t.mu.Lock()
	ch := t.locks[id]
	t.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	default:
	}
}
