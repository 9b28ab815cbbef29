package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/pkg/common/logger"
)

func writeLocalFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestDefaultScannerListsRegularFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeLocalFile(t, dir, "a.txt", "a")
	writeLocalFile(t, dir, "b.txt", "b")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o750))

	s := NewDefaultDirectoryScanner(nil)
	files, err := s.ListFiles(context.Background(), dir)
	require.NoError(t, err)

	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Entry.Name)
	}
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, names)
}

func TestDefaultScannerAppliesFilter(t *testing.T) {
	dir := t.TempDir()
	writeLocalFile(t, dir, "a.txt", "a")
	writeLocalFile(t, dir, "a.txt.writing", "partial")

	s := NewDefaultDirectoryScanner(domain.ExcludeSuffixFilter(".writing"))
	files, err := s.ListFiles(context.Background(), dir)
	require.NoError(t, err)

	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Entry.Name)
}

func TestWatchScannerSeedsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	writeLocalFile(t, dir, "present.txt", "p")

	w := NewWatchScanner(nil, logger.Noop())
	require.NoError(t, w.Start(context.Background(), dir))
	defer w.Stop()

	files, err := w.ListFiles(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "present.txt", files[0].Entry.Name)
}

func TestWatchScannerPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()

	w := NewWatchScanner(nil, logger.Noop())
	ctx := context.Background()
	require.NoError(t, w.Start(ctx, dir))
	defer w.Stop()

	writeLocalFile(t, dir, "new.txt", "n")

	// Notification delivery is asynchronous.
	deadline := time.Now().Add(2 * time.Second)
	for {
		files, err := w.ListFiles(ctx, dir)
		require.NoError(t, err)
		if len(files) == 1 {
			assert.Equal(t, "new.txt", files[0].Entry.Name)
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("watch scanner never surfaced the new file")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatchScannerDrainsPendingOncePerFile(t *testing.T) {
	dir := t.TempDir()
	writeLocalFile(t, dir, "once.txt", "o")

	w := NewWatchScanner(nil, logger.Noop())
	ctx := context.Background()
	require.NoError(t, w.Start(ctx, dir))
	defer w.Stop()

	files, err := w.ListFiles(ctx, dir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	files, err = w.ListFiles(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestWatchScannerStopWithoutStart(t *testing.T) {
	w := NewWatchScanner(nil, logger.Noop())
	require.NoError(t, w.Stop())
}
