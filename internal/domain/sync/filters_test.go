package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapStore struct {
	data map[string]string
}

func newMapStore() *mapStore { return &mapStore{data: make(map[string]string)} }

func (s *mapStore) Get(ctx context.Context, key string) (string, error) {
	v, ok := s.data[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}

func (s *mapStore) Put(ctx context.Context, key, value string) error {
	s.data[key] = value
	return nil
}

func (s *mapStore) Remove(ctx context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func TestAcceptOnceFilter_FirstAcceptThenReject(t *testing.T) {
	filter := NewAcceptOnceFilter()
	ctx := context.Background()

	entry := Entry{Name: "report.csv"}
	assert.True(t, filter.Accept(ctx, entry))
	assert.False(t, filter.Accept(ctx, entry))
	assert.False(t, filter.Accept(ctx, entry))

	assert.True(t, filter.Accept(ctx, Entry{Name: "other.csv"}))
}

func TestAcceptOnceFilter_RemoveAllowsRedelivery(t *testing.T) {
	filter := NewAcceptOnceFilter()
	ctx := context.Background()

	entry := Entry{Name: "report.csv"}
	require.True(t, filter.Accept(ctx, entry))
	require.False(t, filter.Accept(ctx, entry))

	filter.Remove(entry.Name)
	assert.True(t, filter.Accept(ctx, entry))
}

func TestPersistentAcceptOnceFilter_SurvivesNewFilterInstance(t *testing.T) {
	store := newMapStore()
	ctx := context.Background()

	entry := Entry{Name: "report.csv", ModTime: time.Unix(100, 0)}

	first := NewPersistentAcceptOnceFilter(store, "syncd-test:")
	require.True(t, first.Accept(ctx, entry))
	require.False(t, first.Accept(ctx, entry))

	// A fresh filter over the same store must remember the entry.
	second := NewPersistentAcceptOnceFilter(store, "syncd-test:")
	assert.False(t, second.Accept(ctx, entry))
}

func TestPersistentAcceptOnceFilter_ReacceptsModifiedEntry(t *testing.T) {
	store := newMapStore()
	filter := NewPersistentAcceptOnceFilter(store, "syncd-test:")
	ctx := context.Background()

	entry := Entry{Name: "report.csv", ModTime: time.Unix(100, 0)}
	require.True(t, filter.Accept(ctx, entry))
	require.False(t, filter.Accept(ctx, entry))

	entry.ModTime = time.Unix(200, 0)
	assert.True(t, filter.Accept(ctx, entry))
	assert.False(t, filter.Accept(ctx, entry))
}

func TestPersistentAcceptOnceFilter_PrefixScopesState(t *testing.T) {
	store := newMapStore()
	ctx := context.Background()

	entry := Entry{Name: "report.csv", ModTime: time.Unix(100, 0)}

	a := NewPersistentAcceptOnceFilter(store, "source-a:")
	b := NewPersistentAcceptOnceFilter(store, "source-b:")

	assert.True(t, a.Accept(ctx, entry))
	assert.True(t, b.Accept(ctx, entry), "different prefix should not share seen state")
}

func TestCompositeFilter_ShortCircuitsOnReject(t *testing.T) {
	var secondCalled bool

	reject := FilterFunc(func(ctx context.Context, e Entry) bool { return false })
	spy := FilterFunc(func(ctx context.Context, e Entry) bool {
		secondCalled = true
		return true
	})

	composite := NewCompositeFilter(reject, spy)
	assert.False(t, composite.Accept(context.Background(), Entry{Name: "x"}))
	assert.False(t, secondCalled, "rejecting filter must short-circuit the chain")
}

func TestCompositeFilter_AllAccept(t *testing.T) {
	accept := FilterFunc(func(ctx context.Context, e Entry) bool { return true })
	composite := NewCompositeFilter(accept, accept, accept)
	assert.True(t, composite.Accept(context.Background(), Entry{Name: "x"}))
}

func TestRegexFilter(t *testing.T) {
	filter, err := NewRegexFilter(`^.*\.csv$`)
	require.NoError(t, err)

	ctx := context.Background()
	assert.True(t, filter.Accept(ctx, Entry{Name: "data.csv"}))
	assert.False(t, filter.Accept(ctx, Entry{Name: "data.json"}))
}

func TestNewRegexFilter_InvalidPattern(t *testing.T) {
	_, err := NewRegexFilter(`([`)
	require.Error(t, err)
}

func TestExcludeSuffixFilter(t *testing.T) {
	filter := ExcludeSuffixFilter(".writing")
	ctx := context.Background()

	assert.True(t, filter.Accept(ctx, Entry{Name: "done.csv"}))
	assert.False(t, filter.Accept(ctx, Entry{Name: "done.csv.writing"}))
}

func TestFilterEntries_AppliesInOrderAndNilAcceptsAll(t *testing.T) {
	entries := []Entry{{Name: "a.csv"}, {Name: "b.json"}, {Name: "c.csv"}}

	csvOnly, err := NewRegexFilter(`\.csv$`)
	require.NoError(t, err)

	got := FilterEntries(context.Background(), csvOnly, entries)
	require.Len(t, got, 2)
	assert.Equal(t, "a.csv", got[0].Name)
	assert.Equal(t, "c.csv", got[1].Name)

	assert.Len(t, FilterEntries(context.Background(), nil, entries), 3)
}
