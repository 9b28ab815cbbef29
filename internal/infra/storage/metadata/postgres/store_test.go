package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/internal/infra/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	t.Parallel()
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	s := NewStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "source:a.txt", "1710000000"))

	got, err := s.Get(ctx, "source:a.txt")
	require.NoError(t, err)
	assert.Equal(t, "1710000000", got)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	t.Parallel()
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	s := NewStore(pool, storage.NoOpTracer())
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestPutReplacesExistingValue(t *testing.T) {
	t.Parallel()
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	s := NewStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "source:a.txt", "1710000000"))
	require.NoError(t, s.Put(ctx, "source:a.txt", "1720000000"))

	got, err := s.Get(ctx, "source:a.txt")
	require.NoError(t, err)
	assert.Equal(t, "1720000000", got)
}

func TestRemoveDeletesKey(t *testing.T) {
	t.Parallel()
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	s := NewStore(pool, storage.NoOpTracer())
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "source:a.txt", "1710000000"))
	require.NoError(t, s.Remove(ctx, "source:a.txt"))

	_, err := s.Get(ctx, "source:a.txt")
	require.ErrorIs(t, err, domain.ErrKeyNotFound)

	// Removing again is a no-op.
	require.NoError(t, s.Remove(ctx, "source:a.txt"))
}

func TestStoreBacksPersistentAcceptOnceFilter(t *testing.T) {
	t.Parallel()
	pool, cleanup := storage.SetupTestContainer(t)
	defer cleanup()

	s := NewStore(pool, storage.NoOpTracer())
	filter := domain.NewPersistentAcceptOnceFilter(s, "orders:")
	ctx := context.Background()

	entry := domain.Entry{Name: "a.txt", Size: 3}
	assert.True(t, filter.Accept(ctx, entry))
	assert.False(t, filter.Accept(ctx, entry))

	// A second filter over the same store sees the recorded marker.
	fresh := domain.NewPersistentAcceptOnceFilter(s, "orders:")
	assert.False(t, fresh.Accept(ctx, entry))
}
