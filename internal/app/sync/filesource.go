package sync

import (
	"context"
	"os"
	"sort"
	gosync "sync"

	"github.com/ahrav/syncd/pkg/common/logger"
)

// FileReadingSource is a pull-based source over a local directory. Each
// Receive drains an internal queue refilled by the directory scanner; the
// scanner's filter decides which files are surfaced, so an accept-once
// filter gives at-most-once delivery per file. Single consumer only.
type FileReadingSource struct {
	dir        string
	scanner    DirectoryScanner
	comparator func(a, b File) int

	mu    gosync.Mutex
	queue []File

	running bool
	logger  *logger.Logger
}

// NewFileReadingSource creates a source over dir using the given scanner.
// A nil comparator keeps scanner order.
func NewFileReadingSource(
	dir string,
	scanner DirectoryScanner,
	comparator func(a, b File) int,
	log *logger.Logger,
) *FileReadingSource {
	return &FileReadingSource{
		dir:        dir,
		scanner:    scanner,
		comparator: comparator,
		logger:     log.With("component", "file_reading_source"),
	}
}

// Start marks the source running and starts the scanner's lifecycle when it
// has one (the watch scanner does).
func (fs *FileReadingSource) Start(ctx context.Context) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.running {
		return nil
	}
	if lc, ok := fs.scanner.(scannerLifecycle); ok {
		if err := lc.Start(ctx, fs.dir); err != nil {
			return err
		}
	}
	fs.running = true
	return nil
}

// Stop halts the source and the scanner's lifecycle.
func (fs *FileReadingSource) Stop() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.running {
		return nil
	}
	fs.running = false
	if lc, ok := fs.scanner.(scannerLifecycle); ok {
		return lc.Stop()
	}
	return nil
}

// IsRunning reports whether the source has been started.
func (fs *FileReadingSource) IsRunning() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.running
}

// Receive returns the next available file or nil when none is ready. It
// never blocks waiting for new files; the queue is refilled from the scanner
// when empty. Files deleted since they were queued are skipped.
func (fs *FileReadingSource) Receive(ctx context.Context) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if len(fs.queue) == 0 {
		if err := fs.refillLocked(ctx); err != nil {
			return nil, err
		}
	}

	for len(fs.queue) > 0 {
		f := fs.queue[0]
		fs.queue = fs.queue[1:]

		if _, err := os.Stat(f.Path); err != nil {
			fs.logger.Debug(ctx, "queued file vanished before delivery", "path", f.Path)
			continue
		}
		return &f, nil
	}
	return nil, nil
}

// OnFailure re-queues a file at the head so the next Receive redelivers it.
// Call it when downstream processing failed after the file was consumed.
func (fs *FileReadingSource) OnFailure(f File) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.queue = append([]File{f}, fs.queue...)
}

func (fs *FileReadingSource) refillLocked(ctx context.Context) error {
	files, err := fs.scanner.ListFiles(ctx, fs.dir)
	if err != nil {
		return err
	}
	if fs.comparator != nil {
		sort.SliceStable(files, func(i, j int) bool {
			return fs.comparator(files[i], files[j]) < 0
		})
	}
	fs.queue = append(fs.queue, files...)
	return nil
}
