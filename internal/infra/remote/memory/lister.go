// Package memory provides an in-memory remote file lister for tests and
// single-process development.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	domain "github.com/ahrav/syncd/internal/domain/sync"
)

// Lister is an in-memory remote directory tree. Entries are listed in
// lexical name order to keep tests deterministic.
type Lister struct {
	tempSuffix string

	mu     sync.Mutex
	dirs   map[string]map[string]fileData
	closed bool
}

type fileData struct {
	content []byte
	modTime time.Time
}

var _ domain.RemoteFileLister = (*Lister)(nil)

// NewLister creates an empty in-memory remote with the given staging suffix.
func NewLister(tempSuffix string) *Lister {
	return &Lister{
		tempSuffix: tempSuffix,
		dirs:       make(map[string]map[string]fileData),
	}
}

// AddFile places a file in the remote directory.
func (l *Lister) AddFile(remoteDir, name string, content []byte, modTime time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir, ok := l.dirs[remoteDir]
	if !ok {
		dir = make(map[string]fileData)
		l.dirs[remoteDir] = dir
	}
	dir[name] = fileData{content: content, modTime: modTime}
}

// List implements domain.RemoteFileLister.
func (l *Lister) List(ctx context.Context, remoteDir string) ([]domain.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, fmt.Errorf("remote session closed")
	}

	dir := l.dirs[remoteDir]
	entries := make([]domain.Entry, 0, len(dir))
	for name, fd := range dir {
		entries = append(entries, domain.Entry{
			Name:    name,
			Size:    int64(len(fd.content)),
			ModTime: fd.modTime,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Retrieve implements domain.RemoteFileLister.
func (l *Lister) Retrieve(ctx context.Context, remoteDir string, entry domain.Entry) (io.ReadCloser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	fd, ok := l.dirs[remoteDir][entry.Name]
	if !ok {
		return nil, fmt.Errorf("remote entry %q not found in %q", entry.Name, remoteDir)
	}
	return io.NopCloser(bytes.NewReader(fd.content)), nil
}

// Remove implements domain.RemoteFileLister.
func (l *Lister) Remove(ctx context.Context, remoteDir string, entry domain.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	dir, ok := l.dirs[remoteDir]
	if _, exists := dir[entry.Name]; !ok || !exists {
		return fmt.Errorf("remote entry %q not found in %q", entry.Name, remoteDir)
	}
	delete(dir, entry.Name)
	return nil
}

// TemporaryFileSuffix implements domain.RemoteFileLister.
func (l *Lister) TemporaryFileSuffix() string { return l.tempSuffix }

// Close marks the session closed; subsequent listings fail.
func (l *Lister) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Closed reports whether Close was called. Test helper.
func (l *Lister) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
