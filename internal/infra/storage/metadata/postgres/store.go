// Package postgres provides the durable metadata store backing persistent
// accept-once filtering. Markers recorded here survive process restarts, so a
// file delivered before a crash is not redelivered after one.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/internal/infra/storage"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

var _ domain.MetadataStore = (*Store)(nil)

// Store is a PostgreSQL-backed metadata store keyed by string.
type Store struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore creates a metadata store over the given connection pool.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{pool: pool, tracer: tracer}
}

// Get returns the value for key or domain.ErrKeyNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	dbAttrs := append(defaultDBAttributes, attribute.String("key", key))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.metadata.get", dbAttrs, func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, "SELECT value FROM sync_metadata WHERE key = $1", key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrKeyNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get metadata for key %q: %w", key, err)
		}
		return nil
	})
	return value, err
}

// Put stores or replaces the value for key.
func (s *Store) Put(ctx context.Context, key, value string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("key", key))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.metadata.put", dbAttrs, func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO sync_metadata (key, value)
			VALUES ($1, $2)
			ON CONFLICT (key) DO UPDATE
			SET value = EXCLUDED.value, updated_at = NOW()`,
			key, value)
		if err != nil {
			return fmt.Errorf("failed to put metadata for key %q: %w", key, err)
		}
		return nil
	})
}

// Remove deletes key; removing an absent key is not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	dbAttrs := append(defaultDBAttributes, attribute.String("key", key))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.metadata.remove", dbAttrs, func(ctx context.Context) error {
		if _, err := s.pool.Exec(ctx, "DELETE FROM sync_metadata WHERE key = $1", key); err != nil {
			return fmt.Errorf("failed to remove metadata for key %q: %w", key, err)
		}
		return nil
	})
}
