package leader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/syncd/internal/domain/leader"
	lockmem "github.com/ahrav/syncd/internal/infra/lock/memory"
	"github.com/ahrav/syncd/pkg/common/logger"
)

// countingPublisher signals election transitions over channels so tests can
// wait on them without polling.
type countingPublisher struct {
	granted chan struct{}
	revoked chan struct{}
	failed  chan struct{}
}

func newCountingPublisher() *countingPublisher {
	return &countingPublisher{
		granted: make(chan struct{}, 16),
		revoked: make(chan struct{}, 16),
		failed:  make(chan struct{}, 16),
	}
}

func (p *countingPublisher) OnGranted(ctx context.Context, leaderCtx leader.Context, role string) {
	p.granted <- struct{}{}
}

func (p *countingPublisher) OnRevoked(ctx context.Context, leaderCtx leader.Context, role string) {
	p.revoked <- struct{}{}
}

func (p *countingPublisher) OnFailedToAcquire(ctx context.Context, leaderCtx leader.Context, role string) {
	select {
	case p.failed <- struct{}{}:
	default:
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func newTestInitiator(
	registry leader.LockRegistry,
	publisher leader.EventPublisher,
	opts ...Option,
) *LeaderInitiator {
	base := []Option{
		WithHeartBeat(20 * time.Millisecond),
		WithBusyWait(5 * time.Millisecond),
		WithEventPublisher(publisher),
	}
	return NewLeaderInitiator(
		registry,
		leader.NewDefaultCandidate("test-role"),
		logger.Noop(),
		noop.NewTracerProvider().Tracer("test"),
		append(base, opts...)...,
	)
}

func TestLeaderInitiator_StartAndStop(t *testing.T) {
	registry := lockmem.NewRegistry()
	publisher := newCountingPublisher()
	initiator := newTestInitiator(registry, publisher)

	assert.False(t, initiator.Context().IsLeader())

	require.NoError(t, initiator.Start(context.Background()))
	assert.True(t, initiator.IsRunning())

	waitFor(t, publisher.granted, "granted event")
	assert.True(t, initiator.Context().IsLeader())

	// Leadership is stable while nothing contends.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, initiator.Context().IsLeader())

	require.NoError(t, initiator.Stop())
	waitFor(t, publisher.revoked, "revoked event")
	assert.False(t, initiator.Context().IsLeader())
	assert.False(t, initiator.IsRunning())
}

func TestLeaderInitiator_StartIsIdempotent(t *testing.T) {
	registry := lockmem.NewRegistry()
	publisher := newCountingPublisher()
	initiator := newTestInitiator(registry, publisher)

	require.NoError(t, initiator.Start(context.Background()))
	require.NoError(t, initiator.Start(context.Background()))
	waitFor(t, publisher.granted, "granted event")

	require.NoError(t, initiator.Stop())
	require.NoError(t, initiator.Stop())

	select {
	case <-publisher.granted:
		t.Fatal("second Start must not spawn a second election loop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLeaderInitiator_YieldRevokesAndReacquires(t *testing.T) {
	registry := lockmem.NewRegistry()
	publisher := newCountingPublisher()
	initiator := newTestInitiator(registry, publisher)

	require.NoError(t, initiator.Start(context.Background()))
	waitFor(t, publisher.granted, "granted event")

	initiator.Context().Yield()
	waitFor(t, publisher.revoked, "revoked event")

	// No other candidate is competing, so the initiator wins again.
	waitFor(t, publisher.granted, "re-granted event")
	assert.True(t, initiator.Context().IsLeader())

	require.NoError(t, initiator.Stop())
}

func TestLeaderInitiator_YieldWhileNotLeadingIsNoop(t *testing.T) {
	registry := lockmem.NewRegistry()
	publisher := newCountingPublisher()
	initiator := newTestInitiator(registry, publisher)

	initiator.Context().Yield()
	require.NoError(t, initiator.Start(context.Background()))
	waitFor(t, publisher.granted, "granted event")
	assert.True(t, initiator.Context().IsLeader(), "pre-start yield must not carry over")

	require.NoError(t, initiator.Stop())
}

func TestLeaderInitiator_StaleYieldFlagDoesNotCancelNextTerm(t *testing.T) {
	registry := lockmem.NewRegistry()
	publisher := newCountingPublisher()
	initiator := newTestInitiator(registry, publisher)

	// A Yield can race the end of a term and land after the worker cleared
	// the flag; plant the leftover flag directly.
	initiator.context.yielded.Store(true)

	require.NoError(t, initiator.Start(context.Background()))
	waitFor(t, publisher.granted, "granted event")

	select {
	case <-publisher.revoked:
		t.Fatal("stale yield flag relinquished the new leadership term")
	case <-time.After(150 * time.Millisecond):
	}
	assert.True(t, initiator.Context().IsLeader())

	require.NoError(t, initiator.Stop())
}

func TestLeaderInitiator_CompetingHandsOverOnStop(t *testing.T) {
	registry := lockmem.NewRegistry()

	firstPublisher := newCountingPublisher()
	first := newTestInitiator(registry, firstPublisher)

	secondPublisher := newCountingPublisher()
	second := newTestInitiator(registry, secondPublisher)

	require.NoError(t, first.Start(context.Background()))
	waitFor(t, firstPublisher.granted, "first granted")

	require.NoError(t, second.Start(context.Background()))

	// While the first leads, the second never becomes leader.
	time.Sleep(100 * time.Millisecond)
	assert.True(t, first.Context().IsLeader())
	assert.False(t, second.Context().IsLeader())

	require.NoError(t, first.Stop())
	waitFor(t, secondPublisher.granted, "second granted after handover")
	assert.True(t, second.Context().IsLeader())
	assert.False(t, first.Context().IsLeader())

	require.NoError(t, second.Stop())
}

func TestLeaderInitiator_AtMostOneLeader(t *testing.T) {
	registry := lockmem.NewRegistry()

	const candidates = 5
	initiators := make([]*LeaderInitiator, candidates)
	for i := range initiators {
		initiators[i] = newTestInitiator(registry, newCountingPublisher())
		require.NoError(t, initiators[i].Start(context.Background()))
	}
	defer func() {
		for _, li := range initiators {
			_ = li.Stop()
		}
	}()

	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		leading := 0
		for _, li := range initiators {
			if li.Context().IsLeader() {
				leading++
			}
		}
		require.LessOrEqual(t, leading, 1, "multiple initiators observed leading simultaneously")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLeaderInitiator_PublishesFailedAcquireWhenEnabled(t *testing.T) {
	registry := lockmem.NewRegistry()

	holderPublisher := newCountingPublisher()
	holder := newTestInitiator(registry, holderPublisher)
	require.NoError(t, holder.Start(context.Background()))
	waitFor(t, holderPublisher.granted, "holder granted")

	contenderPublisher := newCountingPublisher()
	contender := newTestInitiator(registry, contenderPublisher, WithPublishFailedEvents(true))
	require.NoError(t, contender.Start(context.Background()))

	waitFor(t, contenderPublisher.failed, "failed-to-acquire event")

	require.NoError(t, holder.Stop())
	waitFor(t, contenderPublisher.granted, "contender granted after holder stops")
	require.NoError(t, contender.Stop())
}

// panickingPublisher simulates a faulty event listener.
type panickingPublisher struct {
	granted chan struct{}
}

func (p *panickingPublisher) OnGranted(ctx context.Context, leaderCtx leader.Context, role string) {
	defer close(p.granted)
	panic("intentional")
}

func (p *panickingPublisher) OnRevoked(ctx context.Context, leaderCtx leader.Context, role string) {}

func (p *panickingPublisher) OnFailedToAcquire(ctx context.Context, leaderCtx leader.Context, role string) {
}

func TestLeaderInitiator_ListenerPanicDoesNotCorruptElection(t *testing.T) {
	registry := lockmem.NewRegistry()
	publisher := &panickingPublisher{granted: make(chan struct{})}
	initiator := newTestInitiator(registry, publisher)

	require.NoError(t, initiator.Start(context.Background()))
	waitFor(t, publisher.granted, "granted callback")

	assert.True(t, initiator.Context().IsLeader(), "listener panic must not affect leadership")
	require.NoError(t, initiator.Stop())
	assert.False(t, initiator.Context().IsLeader())
}

// failingUnlockRegistry wraps another registry and makes Unlock fail.
type failingUnlockRegistry struct {
	inner leader.LockRegistry
}

func (r *failingUnlockRegistry) Obtain(key string) leader.Lock {
	return &failingUnlockLock{inner: r.inner.Obtain(key)}
}

type failingUnlockLock struct {
	inner leader.Lock
}

func (l *failingUnlockLock) TryLock(ctx context.Context, timeout time.Duration) (bool, error) {
	return l.inner.TryLock(ctx, timeout)
}

func (l *failingUnlockLock) Unlock() error {
	_ = l.inner.Unlock()
	return errors.New("unlock exploded")
}

func TestLeaderInitiator_StopCompletesWhenUnlockFails(t *testing.T) {
	registry := &failingUnlockRegistry{inner: lockmem.NewRegistry()}
	publisher := newCountingPublisher()
	initiator := newTestInitiator(registry, publisher)

	require.NoError(t, initiator.Start(context.Background()))
	waitFor(t, publisher.granted, "granted event")

	done := make(chan error, 1)
	go func() { done <- initiator.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Stop hung on a failing unlock")
	}
	waitFor(t, publisher.revoked, "revoked event despite unlock failure")
}

func TestLeaderInitiator_ConcurrentStartStopLeavesConsistentState(t *testing.T) {
	registry := lockmem.NewRegistry()
	initiator := newTestInitiator(registry, newCountingPublisher())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = initiator.Start(context.Background())
			_ = initiator.Stop()
		}()
	}
	wg.Wait()

	require.NoError(t, initiator.Stop())
	assert.False(t, initiator.IsRunning())
	assert.False(t, initiator.Context().IsLeader())
}
