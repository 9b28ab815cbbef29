// Package leader implements lock-based leader election. A LeaderInitiator
// competes for a named lock obtained from a shared registry; whoever holds
// the lock is leader until it stops, yields, or loses the lock.
package leader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/syncd/internal/domain/leader"
	"github.com/ahrav/syncd/pkg/common/logger"
)

const (
	defaultHeartBeat = 500 * time.Millisecond
	defaultBusyWait  = 50 * time.Millisecond
)

// LeaderInitiator competes for a named distributed lock and tracks whether
// this process currently leads. Exactly one background goroutine per
// initiator runs the election loop; across any number of initiators sharing
// a registry and role, at most one is leading at any instant. That invariant
// is enforced entirely by the mutual exclusion of the shared lock.
type LeaderInitiator struct {
	registry  leader.LockRegistry
	candidate leader.Candidate

	heartBeat           time.Duration
	busyWait            time.Duration
	publishFailedEvents bool

	publisher leader.EventPublisher
	logger    *logger.Logger
	tracer    trace.Tracer

	// context is the read-only view handed to the candidate and callers.
	context *electionContext

	mu      sync.Mutex // serializes Start and Stop
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	cancel  context.CancelFunc
}

// Option configures a LeaderInitiator.
type Option func(*LeaderInitiator)

// WithHeartBeat sets the timeout window for each lock acquisition attempt.
func WithHeartBeat(d time.Duration) Option {
	return func(li *LeaderInitiator) { li.heartBeat = d }
}

// WithBusyWait sets the sleep granularity between lifecycle checks while
// holding or awaiting the lock.
func WithBusyWait(d time.Duration) Option {
	return func(li *LeaderInitiator) { li.busyWait = d }
}

// WithPublishFailedEvents enables failed-acquire events. They are off by
// default; failing to win the lock is the normal condition under contention.
func WithPublishFailedEvents(enabled bool) Option {
	return func(li *LeaderInitiator) { li.publishFailedEvents = enabled }
}

// WithEventPublisher replaces the default logging publisher.
func WithEventPublisher(p leader.EventPublisher) Option {
	return func(li *LeaderInitiator) { li.publisher = p }
}

// NewLeaderInitiator creates an initiator competing for the candidate's role
// via the given registry. Call Start to join the election.
func NewLeaderInitiator(
	registry leader.LockRegistry,
	candidate leader.Candidate,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...Option,
) *LeaderInitiator {
	li := &LeaderInitiator{
		registry:  registry,
		candidate: candidate,
		heartBeat: defaultHeartBeat,
		busyWait:  defaultBusyWait,
		logger:    log.With("component", "leader_initiator", "role", candidate.Role()),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(li)
	}
	if li.publisher == nil {
		li.publisher = leader.NewLoggingEventPublisher(li.logger)
	}
	li.context = &electionContext{}
	return li
}

// Context returns the read-only election context for this initiator.
func (li *LeaderInitiator) Context() leader.Context { return li.context }

// IsRunning reports whether the election loop is active.
func (li *LeaderInitiator) IsRunning() bool {
	li.mu.Lock()
	defer li.mu.Unlock()
	return li.running
}

// Start launches the election loop. It is idempotent; calling Start on a
// running initiator is a no-op.
func (li *LeaderInitiator) Start(ctx context.Context) error {
	li.mu.Lock()
	defer li.mu.Unlock()

	if li.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	li.cancel = cancel
	li.stopCh = make(chan struct{})
	li.doneCh = make(chan struct{})
	li.running = true

	li.logger.Info(ctx, "starting leader election",
		"heartbeat", li.heartBeat.String(), "busy_wait", li.busyWait.String())

	go li.run(loopCtx, li.stopCh, li.doneCh)
	return nil
}

// Stop terminates the election loop, releasing the lock first when leading.
// It is idempotent and always completes, even if the lock release fails; the
// worker observes termination within one heartbeat or busy-wait cycle.
func (li *LeaderInitiator) Stop() error {
	li.mu.Lock()
	defer li.mu.Unlock()

	if !li.running {
		return nil
	}
	li.running = false

	close(li.stopCh)
	li.cancel()

	select {
	case <-li.doneCh:
	case <-time.After(li.heartBeat + li.busyWait + 5*time.Second):
		return fmt.Errorf("leader election worker for role %q did not stop in time", li.candidate.Role())
	}
	return nil
}

// run is the election loop. It owns all mutation of the election context.
func (li *LeaderInitiator) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	lock := li.registry.Obtain(li.candidate.Role())

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		acquired, err := lock.TryLock(ctx, li.heartBeat)
		if err != nil {
			if stopped(stopCh) {
				return
			}
			li.logger.Error(ctx, "lock acquisition attempt failed", "error", err)
			li.sleep(stopCh, li.busyWait)
			continue
		}

		if !acquired {
			if li.publishFailedEvents {
				li.publish(ctx, "failed_to_acquire", func() {
					li.publisher.OnFailedToAcquire(ctx, li.context, li.candidate.Role())
				})
			}
			li.sleep(stopCh, li.busyWait)
			continue
		}

		li.lead(ctx, stopCh, lock)

		if stopped(stopCh) {
			return
		}
	}
}

// lead holds the acquired lock until a stop or yield is observed, then
// releases it and publishes the revocation. Release failures during
// shutdown are suppressed so the loop always terminates cleanly.
func (li *LeaderInitiator) lead(ctx context.Context, stopCh <-chan struct{}, lock leader.Lock) {
	ctx, span := li.tracer.Start(ctx, "leader_initiator.lead",
		trace.WithAttributes(attribute.String("role", li.candidate.Role())))
	defer span.End()

	// A Yield racing the end of the previous term can set the flag after that
	// term cleared it; dropping it here keeps the new term from relinquishing
	// immediately.
	li.context.clearYield()
	li.context.setLeader(true)
	li.publish(ctx, "granted", func() {
		li.publisher.OnGranted(ctx, li.context, li.candidate.Role())
	})
	li.publish(ctx, "granted_callback", func() {
		li.candidate.OnGranted(li.context)
	})
	span.AddEvent("granted")

	for !stopped(stopCh) && !li.context.yieldRequested() {
		li.sleep(stopCh, li.busyWait)
	}

	li.context.setLeader(false)

	func() {
		defer func() {
			if r := recover(); r != nil {
				li.logger.Error(ctx, "panic releasing leader lock", "panic", r)
			}
		}()
		if err := lock.Unlock(); err != nil {
			li.logger.Error(ctx, "failed to release leader lock", "error", err)
		}
	}()

	li.publish(ctx, "revoked", func() {
		li.publisher.OnRevoked(ctx, li.context, li.candidate.Role())
	})
	li.publish(ctx, "revoked_callback", func() {
		li.candidate.OnRevoked(li.context)
	})
	span.AddEvent("revoked")
}

// publish invokes a notification, catching and logging anything it panics
// with. Listener faults must never corrupt the election state machine.
func (li *LeaderInitiator) publish(ctx context.Context, event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			li.logger.Error(ctx, "leader event listener panicked", "event", event, "panic", r)
		}
	}()
	fn()
}

// sleep waits up to d, returning early when stop is requested.
func (li *LeaderInitiator) sleep(stopCh <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-stopCh:
	case <-timer.C:
	}
}

func stopped(stopCh <-chan struct{}) bool {
	select {
	case <-stopCh:
		return true
	default:
		return false
	}
}

// electionContext is the tri-state leader context. All mutation happens on
// the election worker; external readers get atomic snapshots.
type electionContext struct {
	leading atomic.Bool
	yielded atomic.Bool
}

var _ leader.Context = (*electionContext)(nil)

// IsLeader reports whether the owning initiator currently leads.
func (c *electionContext) IsLeader() bool { return c.leading.Load() }

// Yield requests a one-shot relinquish. It is idempotent and a no-op while
// not leading.
func (c *electionContext) Yield() {
	if c.leading.Load() {
		c.yielded.Store(true)
	}
}

func (c *electionContext) setLeader(leading bool) {
	c.leading.Store(leading)
}

func (c *electionContext) yieldRequested() bool { return c.yielded.Load() }

func (c *electionContext) clearYield() { c.yielded.Store(false) }
