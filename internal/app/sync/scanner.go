package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	domain "github.com/ahrav/syncd/internal/domain/sync"
)

// File is a single materialized local entry.
type File struct {
	// Path is the absolute location on the local filesystem.
	Path string

	// Entry carries the identity and modification marker used by filters.
	Entry domain.Entry
}

// DirectoryScanner enumerates the files of a local directory that are
// eligible for delivery. Implementations apply their filter during listing
// so stateful accept-once filters record entries exactly when surfaced.
type DirectoryScanner interface {
	ListFiles(ctx context.Context, dir string) ([]File, error)
}

// scannerLifecycle is implemented by scanners that hold resources, such as a
// filesystem watch. The owning source starts and stops them.
type scannerLifecycle interface {
	Start(ctx context.Context, dir string) error
	Stop() error
}

// DefaultDirectoryScanner lists a directory on every call, ignoring
// subdirectories.
type DefaultDirectoryScanner struct {
	filter domain.FileFilter
}

// NewDefaultDirectoryScanner creates a scanner applying the given filter.
// A nil filter accepts every regular file.
func NewDefaultDirectoryScanner(filter domain.FileFilter) *DefaultDirectoryScanner {
	return &DefaultDirectoryScanner{filter: filter}
}

// SetFilter replaces the scanner's filter. Called once during source
// initialization, before any listing happens.
func (s *DefaultDirectoryScanner) SetFilter(filter domain.FileFilter) { s.filter = filter }

// ListFiles returns the directory's filtered regular files.
func (s *DefaultDirectoryScanner) ListFiles(ctx context.Context, dir string) ([]File, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %q: %w", dir, err)
	}

	var files []File
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Deleted between ReadDir and Info; skip it.
			continue
		}
		entry := domain.Entry{Name: de.Name(), Size: info.Size(), ModTime: info.ModTime()}
		if s.filter != nil && !s.filter.Accept(ctx, entry) {
			continue
		}
		files = append(files, File{Path: filepath.Join(dir, de.Name()), Entry: entry})
	}
	return files, nil
}
