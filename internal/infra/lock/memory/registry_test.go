package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MutualExclusion(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	first := registry.Obtain("role")
	second := registry.Obtain("role")

	acquired, err := first.TryLock(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = second.TryLock(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, acquired, "second handle must not acquire a held lock")

	require.NoError(t, first.Unlock())

	acquired, err = second.TryLock(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired, "lock should be free after unlock")
	require.NoError(t, second.Unlock())
}

func TestRegistry_DistinctKeysDoNotContend(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	a := registry.Obtain("role-a")
	b := registry.Obtain("role-b")

	acquired, err := a.TryLock(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)

	acquired, err = b.TryLock(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, a.Unlock())
	require.NoError(t, b.Unlock())
}

func TestMemLock_UnlockWithoutHold(t *testing.T) {
	registry := NewRegistry()
	lock := registry.Obtain("role")

	assert.Error(t, lock.Unlock())
}

func TestMemLock_TryLockHonorsContext(t *testing.T) {
	registry := NewRegistry()
	ctx := context.Background()

	holder := registry.Obtain("role")
	acquired, err := holder.TryLock(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, acquired)
	defer holder.Unlock()

	cancelCtx, cancel := context.WithCancel(ctx)
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	waiter := registry.Obtain("role")
	start := time.Now()
	acquired, err = waiter.TryLock(cancelCtx, 10*time.Second)
	assert.False(t, acquired)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation should interrupt the wait")
}
