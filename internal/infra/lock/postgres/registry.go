// Package postgres provides a lock registry backed by PostgreSQL advisory
// locks. A lock is held by a dedicated pooled connection; losing the
// connection releases the lock server-side, so a crashed holder never wedges
// the election.
package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ahrav/syncd/internal/domain/leader"
)

// retryInterval paces advisory lock polling between attempts.
const retryInterval = 100 * time.Millisecond

// Registry hands out advisory locks keyed by name.
type Registry struct {
	pool *pgxpool.Pool
}

var _ leader.LockRegistry = (*Registry)(nil)

// NewRegistry creates a registry over the given connection pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// Obtain returns the advisory lock handle for key. Handles are cheap; the
// database connection is only acquired inside TryLock.
func (r *Registry) Obtain(key string) leader.Lock {
	return &advisoryLock{pool: r.pool, key: key, id: advisoryKey(key)}
}

// advisoryKey folds the lock name into the bigint keyspace advisory locks use.
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

type advisoryLock struct {
	pool *pgxpool.Pool
	key  string
	id   int64

	conn *pgxpool.Conn
}

// TryLock attempts to take the advisory lock, polling until it is acquired,
// the timeout elapses, or ctx is done. Timing out is not an error.
func (l *advisoryLock) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring connection for lock %q: %w", l.key, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		var locked bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", l.id).Scan(&locked); err != nil {
			conn.Release()
			return false, fmt.Errorf("trying advisory lock %q: %w", l.key, err)
		}
		if locked {
			// The lock lives on this session; hold the connection until Unlock.
			l.conn = conn
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			conn.Release()
			return false, nil
		}

		wait := retryInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			conn.Release()
			return false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Unlock releases the advisory lock and returns its connection to the pool.
func (l *advisoryLock) Unlock() error {
	if l.conn == nil {
		return fmt.Errorf("lock %q is not held", l.key)
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()

	var unlocked bool
	err := l.conn.QueryRow(context.Background(), "SELECT pg_advisory_unlock($1)", l.id).Scan(&unlocked)
	if err != nil {
		return fmt.Errorf("releasing advisory lock %q: %w", l.key, err)
	}
	if !unlocked {
		return fmt.Errorf("advisory lock %q was not held by this session", l.key)
	}
	return nil
}
