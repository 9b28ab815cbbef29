// Package sync implements inbound file synchronization: a Synchronizer that
// reconciles a remote listing against a local directory, a local file
// reading source over that directory, and a pull-based message source that
// drains the local view before triggering a new remote sync.
package sync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/pkg/common"
	"github.com/ahrav/syncd/pkg/common/logger"
)

// Synchronizer pulls remote entries not yet seen locally and materializes
// them into a local directory. Each entry is written under a temporary name
// and atomically promoted, so a consumer never observes a partially written
// file. A failed transfer is logged and the batch continues; partial-batch
// success is the expected steady state under transient remote errors.
type Synchronizer struct {
	lister    domain.RemoteFileLister
	remoteDir string

	filter     domain.FileFilter
	comparator func(a, b domain.Entry) int

	deleteRemoteFiles bool
	preserveTimestamp bool
	limiter           *common.RateLimiter

	logger *logger.Logger
	tracer trace.Tracer
}

// SynchronizerOption configures a Synchronizer.
type SynchronizerOption func(*Synchronizer)

// WithRemoteFilter sets the remote-side filter, typically an accept-once
// filter composed with a pattern filter. Nil accepts everything.
func WithRemoteFilter(f domain.FileFilter) SynchronizerOption {
	return func(s *Synchronizer) { s.filter = f }
}

// WithComparator orders the filtered listing before the fetch limit is
// applied. Nil keeps remote-listing order.
func WithComparator(cmp func(a, b domain.Entry) int) SynchronizerOption {
	return func(s *Synchronizer) { s.comparator = cmp }
}

// WithDeleteRemoteFiles removes each entry from the remote directory after a
// successful transfer.
func WithDeleteRemoteFiles(enabled bool) SynchronizerOption {
	return func(s *Synchronizer) { s.deleteRemoteFiles = enabled }
}

// WithPreserveTimestamp stamps materialized files with the remote
// modification time instead of the transfer time.
func WithPreserveTimestamp(enabled bool) SynchronizerOption {
	return func(s *Synchronizer) { s.preserveTimestamp = enabled }
}

// WithRateLimiter throttles remote listing calls.
func WithRateLimiter(rl *common.RateLimiter) SynchronizerOption {
	return func(s *Synchronizer) { s.limiter = rl }
}

// NewSynchronizer creates a synchronizer pulling from remoteDir through the
// given lister.
func NewSynchronizer(
	lister domain.RemoteFileLister,
	remoteDir string,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...SynchronizerOption,
) *Synchronizer {
	s := &Synchronizer{
		lister:    lister,
		remoteDir: remoteDir,
		logger:    log.With("component", "synchronizer"),
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TemporaryFileSuffix exposes the staging suffix used for in-flight files.
func (s *Synchronizer) TemporaryFileSuffix() string {
	return s.lister.TemporaryFileSuffix()
}

// Close releases the remote session.
func (s *Synchronizer) Close() error { return s.lister.Close() }

// SynchronizeToLocalDirectory lists the remote directory once, applies the
// remote filter, and materializes up to maxFetchSize new entries into
// localDir (unbounded when maxFetchSize <= 0). Only listing failures are
// returned; per-entry transfer failures are logged and skipped.
func (s *Synchronizer) SynchronizeToLocalDirectory(ctx context.Context, localDir string, maxFetchSize int) error {
	ctx, span := s.tracer.Start(ctx, "synchronizer.synchronize_to_local_directory",
		trace.WithAttributes(
			attribute.String("remote_dir", s.remoteDir),
			attribute.String("local_dir", localDir),
			attribute.Int("max_fetch_size", maxFetchSize),
		))
	defer span.End()

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("waiting for remote listing slot: %w", err)
		}
	}

	entries, err := s.lister.List(ctx, s.remoteDir)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("listing remote directory %q: %w", s.remoteDir, err)
	}
	span.SetAttributes(attribute.Int("listed", len(entries)))

	if s.comparator != nil {
		sort.SliceStable(entries, func(i, j int) bool {
			return s.comparator(entries[i], entries[j]) < 0
		})
	}

	// The filter is applied lazily so a stateful accept-once filter only
	// records entries actually fetched in this batch; the remainder stays
	// eligible for the next sync.
	transferred := 0
	for _, entry := range entries {
		if maxFetchSize > 0 && transferred >= maxFetchSize {
			break
		}
		if s.filter != nil && !s.filter.Accept(ctx, entry) {
			continue
		}

		if err := s.copyEntry(ctx, localDir, entry); err != nil {
			s.logger.Error(ctx, "failed to transfer remote entry; continuing batch",
				"entry", entry.Name, "error", err)
			s.rollbackFilter(ctx, entry)
			continue
		}
		transferred++

		if s.deleteRemoteFiles {
			if err := s.lister.Remove(ctx, s.remoteDir, entry); err != nil {
				s.logger.Error(ctx, "failed to remove transferred remote entry",
					"entry", entry.Name, "error", err)
			}
		}
	}

	span.SetAttributes(attribute.Int("transferred", transferred))
	s.logger.Debug(ctx, "synchronized remote directory",
		"listed", len(entries), "transferred", transferred)
	return nil
}

// rollbackFilter clears a failed entry from stateful filters so a later sync
// can retry the transfer.
func (s *Synchronizer) rollbackFilter(ctx context.Context, entry domain.Entry) {
	switch f := s.filter.(type) {
	case interface{ Remove(string) }:
		f.Remove(entry.Name)
	case interface {
		Remove(context.Context, string) error
	}:
		if err := f.Remove(ctx, entry.Name); err != nil {
			s.logger.Warn(ctx, "failed to reset filter after transfer failure",
				"entry", entry.Name, "error", err)
		}
	}
}

// copyEntry stages the entry under its temporary name and promotes it with an
// atomic rename once fully written.
func (s *Synchronizer) copyEntry(ctx context.Context, localDir string, entry domain.Entry) error {
	rc, err := s.lister.Retrieve(ctx, s.remoteDir, entry)
	if err != nil {
		return fmt.Errorf("retrieving %q: %w", entry.Name, err)
	}
	defer rc.Close()

	finalPath := filepath.Join(localDir, entry.Name)
	tempPath := finalPath + s.lister.TemporaryFileSuffix()

	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating staging file %q: %w", tempPath, err)
	}

	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("writing staging file %q: %w", tempPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("closing staging file %q: %w", tempPath, err)
	}

	if s.preserveTimestamp && !entry.ModTime.IsZero() {
		if err := os.Chtimes(tempPath, entry.ModTime, entry.ModTime); err != nil {
			s.logger.Warn(ctx, "failed to preserve remote timestamp",
				"entry", entry.Name, "error", err)
		}
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("promoting %q: %w", tempPath, err)
	}
	return nil
}
