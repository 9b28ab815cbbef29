// Package leader defines the domain model for lock-based leader election:
// candidates competing for a named role, the context handed to a leading
// candidate, and the lock registry port enforcing mutual exclusion.
package leader

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Context is handed to a candidate while it participates in an election.
// IsLeader is a pure read of current state; Yield is a one-shot request to
// relinquish leadership and is a no-op while not leading.
type Context interface {
	// IsLeader reports whether the owning candidate currently holds the role.
	IsLeader() bool

	// Yield asks the initiator to release the lock and rejoin the election.
	Yield()
}

// Candidate identifies a role to compete for and receives callbacks when
// leadership is granted or revoked. Implementations must not block in the
// callbacks; long-running leader work belongs in its own goroutine tied to
// the granted context.
type Candidate interface {
	// Role names the contested resource. All candidates sharing a lock
	// registry and role compete for the same leadership.
	Role() string

	// ID uniquely identifies this candidate instance.
	ID() string

	// OnGranted is invoked after this candidate becomes leader.
	OnGranted(ctx Context)

	// OnRevoked is invoked after this candidate stops being leader.
	OnRevoked(ctx Context)
}

// DefaultCandidate is a no-op candidate with a generated instance ID,
// sufficient when callers only consume leadership through Context.IsLeader
// or the event publisher.
type DefaultCandidate struct {
	role string
	id   string
}

// NewDefaultCandidate creates a candidate for the given role.
func NewDefaultCandidate(role string) *DefaultCandidate {
	return &DefaultCandidate{role: role, id: uuid.NewString()}
}

// Role returns the contested role name.
func (c *DefaultCandidate) Role() string { return c.role }

// ID returns the generated instance identifier.
func (c *DefaultCandidate) ID() string { return c.id }

// OnGranted is a no-op.
func (c *DefaultCandidate) OnGranted(Context) {}

// OnRevoked is a no-op.
func (c *DefaultCandidate) OnRevoked(Context) {}

// Lock is a handle obtained from a LockRegistry. Ownership is exclusive: at
// most one holder per key across every process sharing the registry.
type Lock interface {
	// TryLock attempts to acquire the lock, blocking up to timeout.
	// It returns true when the lock was acquired.
	TryLock(ctx context.Context, timeout time.Duration) (bool, error)

	// Unlock releases the lock. Calling Unlock without holding the lock is
	// an error.
	Unlock() error
}

// LockRegistry vends locks keyed by name. Registries sharing a backing store
// enforce mutual exclusion across processes.
type LockRegistry interface {
	Obtain(key string) Lock
}
