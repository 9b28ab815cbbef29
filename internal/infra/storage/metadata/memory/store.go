// Package memory provides an in-memory metadata store for tests and
// single-process deployments. State does not survive a restart, so the
// persistent accept-once guarantee only holds within one process lifetime.
package memory

import (
	"context"
	"sync"

	domain "github.com/ahrav/syncd/internal/domain/sync"
)

// Store is a concurrency-safe map-backed metadata store.
type Store struct {
	mu   sync.RWMutex
	data map[string]string
}

var _ domain.MetadataStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{data: make(map[string]string)}
}

// Get returns the value for key or domain.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return v, nil
}

// Put stores or replaces the value for key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Remove deletes key; removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
