package sync

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"
	gosync "sync"
)

// FileFilter decides whether an entry is eligible for processing. Filters are
// side-effect free except for accept-once variants, whose acceptance records
// the entry so a second call with the same entry returns false.
type FileFilter interface {
	Accept(ctx context.Context, entry Entry) bool
}

// FilterFunc adapts a plain function to the FileFilter interface.
type FilterFunc func(ctx context.Context, entry Entry) bool

// Accept implements FileFilter.
func (f FilterFunc) Accept(ctx context.Context, entry Entry) bool { return f(ctx, entry) }

// FilterEntries applies the filter to each entry in order and returns the
// accepted subset. A nil filter accepts everything.
func FilterEntries(ctx context.Context, filter FileFilter, entries []Entry) []Entry {
	if filter == nil {
		return entries
	}
	accepted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if filter.Accept(ctx, e) {
			accepted = append(accepted, e)
		}
	}
	return accepted
}

// CompositeFilter combines an ordered sequence of filters with logical AND,
// short-circuiting on the first rejection.
type CompositeFilter struct {
	filters []FileFilter
}

// NewCompositeFilter creates a composite over the given filters in order.
func NewCompositeFilter(filters ...FileFilter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// Accept returns true only when every sub-filter accepts the entry.
func (c *CompositeFilter) Accept(ctx context.Context, entry Entry) bool {
	for _, f := range c.filters {
		if !f.Accept(ctx, entry) {
			return false
		}
	}
	return true
}

// AcceptOnceFilter remembers every entry name it has accepted for the
// lifetime of the process. The first Accept for a given name returns true,
// every subsequent call returns false.
type AcceptOnceFilter struct {
	mu   gosync.Mutex
	seen map[string]struct{}
}

// NewAcceptOnceFilter creates an empty in-memory accept-once filter.
func NewAcceptOnceFilter() *AcceptOnceFilter {
	return &AcceptOnceFilter{seen: make(map[string]struct{})}
}

// Accept records the entry name and reports whether it was new.
func (f *AcceptOnceFilter) Accept(ctx context.Context, entry Entry) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[entry.Name]; ok {
		return false
	}
	f.seen[entry.Name] = struct{}{}
	return true
}

// Remove forgets a previously accepted name so it can be redelivered.
func (f *AcceptOnceFilter) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.seen, name)
}

// PersistentAcceptOnceFilter is an accept-once filter whose memory lives in a
// MetadataStore, surviving process restarts when the store is durable. The
// stored value is the entry's modification marker; an entry whose marker
// changed since it was last seen is accepted again.
type PersistentAcceptOnceFilter struct {
	store  MetadataStore
	prefix string
}

// NewPersistentAcceptOnceFilter creates a filter scoped by the given key
// prefix, typically the owning component's name.
func NewPersistentAcceptOnceFilter(store MetadataStore, prefix string) *PersistentAcceptOnceFilter {
	return &PersistentAcceptOnceFilter{store: store, prefix: prefix}
}

// Accept records the entry in the backing store and reports whether it was
// new or modified. Store failures reject the entry; it stays eligible for a
// later poll, which preserves at-most-once delivery.
func (f *PersistentAcceptOnceFilter) Accept(ctx context.Context, entry Entry) bool {
	key := f.prefix + entry.Name
	marker := strconv.FormatInt(entry.ModTime.UnixNano(), 10)

	current, err := f.store.Get(ctx, key)
	switch {
	case errors.Is(err, ErrKeyNotFound):
		// First sighting.
	case err != nil:
		return false
	case current == marker:
		return false
	}

	if err := f.store.Put(ctx, key, marker); err != nil {
		return false
	}
	return true
}

// Remove forgets a previously accepted name so it can be redelivered.
func (f *PersistentAcceptOnceFilter) Remove(ctx context.Context, name string) error {
	return f.store.Remove(ctx, f.prefix+name)
}

// RegexFilter accepts entries whose name matches the pattern.
type RegexFilter struct {
	pattern *regexp.Regexp
}

// NewRegexFilter compiles the pattern and returns the filter, or an error if
// the pattern is invalid.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexFilter{pattern: re}, nil
}

// Accept reports whether the entry name matches the pattern.
func (f *RegexFilter) Accept(ctx context.Context, entry Entry) bool {
	return f.pattern.MatchString(entry.Name)
}

// ExcludeSuffixFilter rejects entries bearing the given suffix. It is the
// standard guard against surfacing files that are still being staged.
func ExcludeSuffixFilter(suffix string) FileFilter {
	return FilterFunc(func(ctx context.Context, entry Entry) bool {
		return suffix == "" || !strings.HasSuffix(entry.Name, suffix)
	})
}
