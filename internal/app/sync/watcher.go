package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	gosync "sync"

	"github.com/fsnotify/fsnotify"

	domain "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/pkg/common/logger"
)

// WatchScanner is a DirectoryScanner fed by filesystem notifications instead
// of full relistings. Creation and modification events accumulate between
// polls; ListFiles drains whatever arrived since the previous call.
type WatchScanner struct {
	filter domain.FileFilter
	logger *logger.Logger

	mu      gosync.Mutex
	pending map[string]File

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatchScanner creates a watch-based scanner applying the given filter.
func NewWatchScanner(filter domain.FileFilter, log *logger.Logger) *WatchScanner {
	return &WatchScanner{
		filter:  filter,
		logger:  log.With("component", "watch_scanner"),
		pending: make(map[string]File),
	}
}

// SetFilter replaces the scanner's filter. Called once during source
// initialization, before the watch starts.
func (w *WatchScanner) SetFilter(filter domain.FileFilter) { w.filter = filter }

// Start begins watching dir. The directory's current contents seed the
// pending set so files present before the watch are not lost.
func (w *WatchScanner) Start(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching directory %q: %w", dir, err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})

	if err := w.seed(ctx, dir); err != nil {
		watcher.Close()
		close(w.done)
		w.watcher = nil
		return err
	}

	go w.consume(ctx)
	return nil
}

// Stop closes the watch and releases its resources.
func (w *WatchScanner) Stop() error {
	if w.watcher == nil {
		return nil
	}
	err := w.watcher.Close()
	<-w.done
	return err
}

// ListFiles drains the pending set accumulated from filesystem events.
func (w *WatchScanner) ListFiles(ctx context.Context, dir string) ([]File, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.pending) == 0 {
		return nil, nil
	}
	files := make([]File, 0, len(w.pending))
	for _, f := range w.pending {
		files = append(files, f)
	}
	w.pending = make(map[string]File)
	return files, nil
}

func (w *WatchScanner) seed(ctx context.Context, dir string) error {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("seeding watch scanner from %q: %w", dir, err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		w.add(ctx, filepath.Join(dir, de.Name()), info)
	}
	return nil
}

func (w *WatchScanner) consume(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error(ctx, "filesystem watch error", "error", err)
		}
	}
}

func (w *WatchScanner) handleEvent(ctx context.Context, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return
		}
		w.mu.Lock()
		w.add(ctx, event.Name, info)
		w.mu.Unlock()

	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.mu.Lock()
		delete(w.pending, event.Name)
		w.mu.Unlock()
	}
}

// add records a file in the pending set when the filter accepts it.
// Callers hold w.mu.
func (w *WatchScanner) add(ctx context.Context, path string, info os.FileInfo) {
	entry := domain.Entry{Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()}
	if w.filter != nil && !w.filter.Accept(ctx, entry) {
		return
	}
	w.pending[path] = File{Path: path, Entry: entry}
}
