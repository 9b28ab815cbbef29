// Package memory provides an in-process lock registry. It enforces mutual
// exclusion between goroutines of a single process, which is enough for
// tests and single-node deployments.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahrav/syncd/internal/domain/leader"
)

// Registry vends in-process locks keyed by name. All handles obtained for
// the same key contend on the same underlying lock.
type Registry struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

var _ leader.LockRegistry = (*Registry)(nil)

// NewRegistry creates an empty in-process lock registry.
func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]chan struct{})}
}

// Obtain returns a handle for the named lock, creating the lock on first use.
func (r *Registry) Obtain(key string) leader.Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[key] = ch
	}
	return &memLock{sem: ch}
}

// memLock is a handle over a one-slot semaphore. Each handle tracks its own
// ownership so Unlock without a prior acquisition is an error.
type memLock struct {
	sem chan struct{}

	mu   sync.Mutex
	held bool
}

// TryLock attempts to acquire the lock, blocking up to timeout or until the
// context is canceled.
func (l *memLock) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case l.sem <- struct{}{}:
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Unlock releases the lock. It fails when this handle does not hold it.
func (l *memLock) Unlock() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return errors.New("unlock of a lock that is not held")
	}
	l.held = false
	<-l.sem
	return nil
}
