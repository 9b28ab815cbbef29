// Package sync defines the domain model for inbound file synchronization:
// remote entries, the filter chain that decides which entries are eligible,
// and the metadata store port backing durable accept-once filtering.
package sync

import (
	"context"
	"errors"
	"io"
	"time"
)

// Entry describes a single item enumerable at the remote resource or present
// in the local materialized view. The synchronizer never inspects content;
// identity and the modification marker are all it needs.
type Entry struct {
	// Name is the entry's identifier within its directory.
	Name string

	// Size in bytes, when the source reports it.
	Size int64

	// ModTime is the entry's modification marker. Persistent accept-once
	// filters re-accept an entry whose marker changed since it was last seen.
	ModTime time.Time
}

// RemoteFileLister is the port to the remote resource consumed by the
// synchronizer. Implementations own the session to the remote system.
type RemoteFileLister interface {
	// List enumerates the entries under the remote directory in remote order.
	List(ctx context.Context, remoteDir string) ([]Entry, error)

	// Retrieve opens a byte stream for the given entry. The caller closes it.
	Retrieve(ctx context.Context, remoteDir string, entry Entry) (io.ReadCloser, error)

	// Remove deletes the entry from the remote directory.
	Remove(ctx context.Context, remoteDir string, entry Entry) error

	// TemporaryFileSuffix is the marker appended to files while they are
	// being staged. Entries bearing it are never surfaced downstream.
	TemporaryFileSuffix() string

	// Close releases the remote session resources.
	Close() error
}

// MetadataStore is a durable or in-memory key/value mapping used by
// persistent filters to survive process restarts.
type MetadataStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// ErrKeyNotFound is returned by MetadataStore.Get when no value is present.
var ErrKeyNotFound = errors.New("metadata key not found")
