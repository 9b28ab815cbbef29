package sync

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domain "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/pkg/common/logger"
)

// ErrConfig marks fatal configuration problems detected at initialization.
var ErrConfig = errors.New("invalid source configuration")

// SynchronizingSource is the pull-based message source over a synchronized
// local directory. A Receive first drains the local materialized view; only
// when it is empty does it trigger a remote sync and retry once. Callers see
// a file or nil, never an error for "nothing available yet".
//
// Single polling consumer only; Receive is not safe for concurrent use
// against the same instance.
type SynchronizingSource struct {
	synchronizer *Synchronizer
	fileSource   *FileReadingSource

	name         string
	localDir     string
	maxFetchSize int

	logger *logger.Logger
	tracer trace.Tracer
}

// SourceOption configures a SynchronizingSource.
type SourceOption func(*sourceConfig)

type sourceConfig struct {
	name            string
	maxFetchSize    int
	autoCreateDir   bool
	localFilter     domain.FileFilter
	comparator      func(a, b File) int
	useWatchService bool
	scanner         DirectoryScanner
}

// WithName sets the component name scoping the default persistent
// accept-once filter's keys.
func WithName(name string) SourceOption {
	return func(c *sourceConfig) { c.name = name }
}

// WithMaxFetchSize bounds how many new entries one remote sync may
// materialize. Values <= 0 mean unbounded.
func WithMaxFetchSize(n int) SourceOption {
	return func(c *sourceConfig) { c.maxFetchSize = n }
}

// WithAutoCreateDirectory controls creation of a missing local directory.
// Enabled by default; when disabled a missing directory is a fatal
// configuration error.
func WithAutoCreateDirectory(enabled bool) SourceOption {
	return func(c *sourceConfig) { c.autoCreateDir = enabled }
}

// WithLocalFilter replaces the default persistent accept-once local filter.
// The temporary-suffix exclusion is always composed on top.
func WithLocalFilter(f domain.FileFilter) SourceOption {
	return func(c *sourceConfig) { c.localFilter = f }
}

// WithFileComparator orders locally queued files before delivery.
func WithFileComparator(cmp func(a, b File) int) SourceOption {
	return func(c *sourceConfig) { c.comparator = cmp }
}

// WithWatchService switches the local source to filesystem notifications
// instead of full directory relistings. Mutually exclusive with WithScanner.
func WithWatchService(enabled bool) SourceOption {
	return func(c *sourceConfig) { c.useWatchService = enabled }
}

// WithScanner supplies a custom directory scanner. Mutually exclusive with
// WithWatchService.
func WithScanner(s DirectoryScanner) SourceOption {
	return func(c *sourceConfig) { c.scanner = s }
}

// NewSynchronizingSource validates the configuration and builds the source.
// All configuration errors surface here, synchronously, never at first poll.
func NewSynchronizingSource(
	synchronizer *Synchronizer,
	store domain.MetadataStore,
	localDir string,
	log *logger.Logger,
	tracer trace.Tracer,
	opts ...SourceOption,
) (*SynchronizingSource, error) {
	cfg := sourceConfig{
		name:          "synchronizing-source",
		autoCreateDir: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if localDir == "" {
		return nil, fmt.Errorf("%w: local directory is required", ErrConfig)
	}
	if cfg.useWatchService && cfg.scanner != nil {
		return nil, fmt.Errorf("%w: watch service and a custom scanner are mutually exclusive", ErrConfig)
	}

	if _, err := os.Stat(localDir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: stat local directory %q: %v", ErrConfig, localDir, err)
		}
		if !cfg.autoCreateDir {
			return nil, fmt.Errorf("%w: local directory %q not found", ErrConfig, localDir)
		}
		if err := os.MkdirAll(localDir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: creating local directory %q: %v", ErrConfig, localDir, err)
		}
	}

	localFilter := cfg.localFilter
	if localFilter == nil {
		localFilter = domain.NewPersistentAcceptOnceFilter(store, cfg.name+":")
	}
	// Files mid-transfer bear the temporary suffix and are never surfaced.
	filter := domain.NewCompositeFilter(
		localFilter,
		domain.ExcludeSuffixFilter(synchronizer.TemporaryFileSuffix()),
	)

	scanner := cfg.scanner
	switch {
	case scanner != nil:
		if fs, ok := scanner.(interface{ SetFilter(domain.FileFilter) }); ok {
			fs.SetFilter(filter)
		}
	case cfg.useWatchService:
		scanner = NewWatchScanner(filter, log)
	default:
		scanner = NewDefaultDirectoryScanner(filter)
	}

	return &SynchronizingSource{
		synchronizer: synchronizer,
		fileSource:   NewFileReadingSource(localDir, scanner, cfg.comparator, log),
		name:         cfg.name,
		localDir:     localDir,
		maxFetchSize: cfg.maxFetchSize,
		logger:       log.With("component", "synchronizing_source", "name", cfg.name),
		tracer:       tracer,
	}, nil
}

// Start starts the underlying local source.
func (s *SynchronizingSource) Start(ctx context.Context) error {
	return s.fileSource.Start(ctx)
}

// Stop halts the local source and closes the synchronizer's remote session.
// Close failures are logged, never propagated; shutdown always completes.
func (s *SynchronizingSource) Stop() error {
	err := s.fileSource.Stop()
	if cerr := s.synchronizer.Close(); cerr != nil {
		s.logger.Error(context.Background(), "failed to close remote session", "error", cerr)
	}
	return err
}

// IsRunning reports whether the underlying local source is running.
func (s *SynchronizingSource) IsRunning() bool { return s.fileSource.IsRunning() }

// Receive polls the local source; when it is empty it synchronizes up to
// MaxFetchSize new entries from the remote directory and polls once more.
// A nil file with nil error means nothing is currently available.
func (s *SynchronizingSource) Receive(ctx context.Context) (*File, error) {
	ctx, span := s.tracer.Start(ctx, "synchronizing_source.receive",
		trace.WithAttributes(attribute.String("name", s.name)))
	defer span.End()

	f, err := s.fileSource.Receive(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if f != nil {
		return f, nil
	}

	if err := s.synchronizer.SynchronizeToLocalDirectory(ctx, s.localDir, s.maxFetchSize); err != nil {
		// A failed remote sync is transient; the local view may still
		// have something deliverable.
		span.RecordError(err)
		s.logger.Error(ctx, "remote synchronization failed", "error", err)
	}

	return s.fileSource.Receive(ctx)
}

// OnFailure re-queues a previously received file for redelivery.
func (s *SynchronizingSource) OnFailure(f File) { s.fileSource.OnFailure(f) }
