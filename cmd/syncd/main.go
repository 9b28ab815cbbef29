package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/automaxprocs/maxprocs"

	appleader "github.com/ahrav/syncd/internal/app/leader"
	appsync "github.com/ahrav/syncd/internal/app/sync"
	"github.com/ahrav/syncd/internal/config"
	"github.com/ahrav/syncd/internal/config/fileloader"
	"github.com/ahrav/syncd/internal/domain/leader"
	"github.com/ahrav/syncd/internal/domain/messaging"
	domainsync "github.com/ahrav/syncd/internal/domain/sync"
	"github.com/ahrav/syncd/internal/infra/eventbus/kafka"
	lockk8s "github.com/ahrav/syncd/internal/infra/lock/kubernetes"
	lockmem "github.com/ahrav/syncd/internal/infra/lock/memory"
	lockpg "github.com/ahrav/syncd/internal/infra/lock/postgres"
	remotemem "github.com/ahrav/syncd/internal/infra/remote/memory"
	remoteminio "github.com/ahrav/syncd/internal/infra/remote/minio"
	storemem "github.com/ahrav/syncd/internal/infra/storage/metadata/memory"
	storepg "github.com/ahrav/syncd/internal/infra/storage/metadata/postgres"
	"github.com/ahrav/syncd/pkg/common"
	"github.com/ahrav/syncd/pkg/common/logger"
	"github.com/ahrav/syncd/pkg/common/otel"
)

const serviceType = "syncd"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n", r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("SYNCD-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prob := 1.0
	if v := os.Getenv("OTEL_SAMPLING_RATIO"); v != "" {
		prob, err = strconv.ParseFloat(v, 64)
		if err != nil {
			log.Error(ctx, "failed to parse OTEL_SAMPLING_RATIO", "error", err)
			os.Exit(1)
		}
	}
	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      os.Getenv("OTEL_SERVICE_NAME"),
		ExporterEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: prob,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(serviceType)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := fileloader.NewFileLoader(configPath).Load(ctx)
	if err != nil {
		log.Error(ctx, "failed to load configuration", "path", configPath, "error", err)
		os.Exit(1)
	}

	var pool *pgxpool.Pool
	if cfg.Metadata.Type == config.MetadataStorePostgres || cfg.Leader.Registry == config.LockRegistryPostgres {
		pool, err = openDatabase(ctx, cfg.Metadata.DSN)
		if err != nil {
			log.Error(ctx, "failed to open database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		if err := runMigrations(pool); err != nil {
			log.Error(ctx, "failed to run migrations", "error", err)
			os.Exit(1)
		}
		log.Info(ctx, "Migrations applied successfully")
	}

	var store domainsync.MetadataStore
	switch cfg.Metadata.Type {
	case config.MetadataStorePostgres:
		store = storepg.NewStore(pool, tracer)
	default:
		store = storemem.NewStore()
	}

	lister, err := buildLister(cfg)
	if err != nil {
		log.Error(ctx, "failed to create remote lister", "error", err)
		os.Exit(1)
	}

	source, err := buildSource(cfg, lister, store, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to create synchronizing source", "error", err)
		os.Exit(1)
	}
	if err := source.Start(ctx); err != nil {
		log.Error(ctx, "failed to start synchronizing source", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := source.Stop(); err != nil {
			log.Error(ctx, "failed to stop synchronizing source", "error", err)
		}
	}()

	var publisher *kafka.Publisher
	var electionPublisher leader.EventPublisher = leader.NewLoggingEventPublisher(log)
	if len(cfg.Kafka.Brokers) > 0 {
		codec := messaging.NewEmbeddedHeadersCodec(log)
		publisher, err = kafka.ConnectWithRetry(kafka.Config{
			Brokers:         cfg.Kafka.Brokers,
			ClientID:        cfg.Kafka.ClientID,
			FileTopic:       cfg.Kafka.FileTopic,
			LeadershipTopic: cfg.Kafka.LeadershipTopic,
		}, codec, log, tracer)
		if err != nil {
			log.Error(ctx, "failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		electionPublisher = publisher
	}

	leading := &atomic.Bool{}
	if cfg.Leader.Enabled {
		registry, err := buildLockRegistry(cfg, pool)
		if err != nil {
			log.Error(ctx, "failed to create lock registry", "error", err)
			os.Exit(1)
		}

		opts := []appleader.Option{
			appleader.WithEventPublisher(electionPublisher),
			appleader.WithPublishFailedEvents(cfg.Leader.PublishFailedEvents),
		}
		if cfg.Leader.HeartBeat > 0 {
			opts = append(opts, appleader.WithHeartBeat(cfg.Leader.HeartBeat))
		}
		if cfg.Leader.BusyWait > 0 {
			opts = append(opts, appleader.WithBusyWait(cfg.Leader.BusyWait))
		}

		initiator := appleader.NewLeaderInitiator(
			registry,
			&gateCandidate{role: cfg.Leader.Role, id: hostname, leading: leading},
			log,
			tracer,
			opts...,
		)
		if err := initiator.Start(ctx); err != nil {
			log.Error(ctx, "failed to start leader initiator", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := initiator.Stop(); err != nil {
				log.Error(ctx, "failed to stop leader initiator", "error", err)
			}
		}()
	} else {
		// No election: this instance always polls.
		leading.Store(true)
	}

	log.Info(ctx, "syncd initialized", "local_dir", cfg.Local.Dir, "remote_dir", cfg.Remote.Dir)
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runPollLoop(ctx, cfg, source, publisher, leading, log)
	}()

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error(ctx, "poll loop error", "error", err)
			os.Exit(1)
		}
	}
}

// gateCandidate flips an atomic flag consumed by the poll loop.
type gateCandidate struct {
	role    string
	id      string
	leading *atomic.Bool
}

func (c *gateCandidate) Role() string             { return c.role }
func (c *gateCandidate) ID() string               { return c.id }
func (c *gateCandidate) OnGranted(leader.Context) { c.leading.Store(true) }
func (c *gateCandidate) OnRevoked(leader.Context) { c.leading.Store(false) }

// runPollLoop drives the synchronizing source while this instance leads,
// publishing each delivered file. A failed publish requeues the file for the
// next cycle.
func runPollLoop(
	ctx context.Context,
	cfg *config.Config,
	source *appsync.SynchronizingSource,
	publisher *kafka.Publisher,
	leading *atomic.Bool,
	log *logger.Logger,
) error {
	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !leading.Load() {
			continue
		}

		for {
			file, err := source.Receive(ctx)
			if err != nil {
				log.Error(ctx, "receive failed", "error", err)
				break
			}
			if file == nil {
				break
			}

			if publisher == nil {
				log.Info(ctx, "file received", "name", file.Entry.Name, "path", file.Path)
				continue
			}

			event := kafka.FileEvent{
				Name:     file.Entry.Name,
				Path:     file.Path,
				Size:     file.Entry.Size,
				ModTime:  file.Entry.ModTime,
				SourceID: cfg.Local.SourceName,
			}
			if err := publisher.PublishFileReceived(ctx, event); err != nil {
				log.Error(ctx, "failed to publish file event; requeueing",
					"name", file.Entry.Name, "error", err)
				source.OnFailure(*file)
				break
			}
		}
	}
}

func buildLister(cfg *config.Config) (domainsync.RemoteFileLister, error) {
	switch cfg.Remote.Type {
	case config.RemoteTypeMemory:
		return remotemem.NewLister(".writing"), nil
	default:
		return remoteminio.NewLister(remoteminio.Config{
			Endpoint:        cfg.Remote.Minio.Endpoint,
			AccessKeyID:     cfg.Remote.Minio.AccessKeyID,
			SecretAccessKey: cfg.Remote.Minio.SecretAccessKey,
			UseSSL:          cfg.Remote.Minio.UseSSL,
			Bucket:          cfg.Remote.Minio.Bucket,
			TempFileSuffix:  cfg.Remote.Minio.TempFileSuffix,
		})
	}
}

func buildSource(
	cfg *config.Config,
	lister domainsync.RemoteFileLister,
	store domainsync.MetadataStore,
	log *logger.Logger,
	tracer trace.Tracer,
) (*appsync.SynchronizingSource, error) {
	remoteFilters := []domainsync.FileFilter{domainsync.NewAcceptOnceFilter()}
	if cfg.Remote.FilenamePattern != "" {
		rf, err := domainsync.NewRegexFilter(cfg.Remote.FilenamePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid remote filename pattern: %w", err)
		}
		remoteFilters = append([]domainsync.FileFilter{rf}, remoteFilters...)
	}

	syncOpts := []appsync.SynchronizerOption{
		appsync.WithRemoteFilter(domainsync.NewCompositeFilter(remoteFilters...)),
		appsync.WithDeleteRemoteFiles(cfg.Remote.DeleteAfterTransfer),
		appsync.WithPreserveTimestamp(cfg.Remote.PreserveTimestamp),
	}
	if cfg.Remote.ListRateLimit > 0 {
		syncOpts = append(syncOpts, appsync.WithRateLimiter(common.NewRateLimiter(cfg.Remote.ListRateLimit, 1)))
	}

	synchronizer := appsync.NewSynchronizer(lister, cfg.Remote.Dir, log, tracer, syncOpts...)

	return appsync.NewSynchronizingSource(
		synchronizer,
		store,
		cfg.Local.Dir,
		log,
		tracer,
		appsync.WithName(cfg.Local.SourceName),
		appsync.WithMaxFetchSize(cfg.Local.MaxFetchSize),
		appsync.WithAutoCreateDirectory(cfg.Local.AutoCreateDirEnabled()),
		appsync.WithWatchService(cfg.Local.WatchService),
	)
}

func buildLockRegistry(cfg *config.Config, pool *pgxpool.Pool) (leader.LockRegistry, error) {
	switch cfg.Leader.Registry {
	case config.LockRegistryPostgres:
		return lockpg.NewRegistry(pool), nil
	case config.LockRegistryKubernetes:
		client, err := lockk8s.NewClient()
		if err != nil {
			return nil, fmt.Errorf("creating kubernetes client: %w", err)
		}
		return lockk8s.NewRegistry(client, lockk8s.Config{
			Namespace:     cfg.Leader.Kubernetes.Namespace,
			Identity:      cfg.Leader.Kubernetes.Identity,
			LeaseDuration: cfg.Leader.Kubernetes.LeaseDuration,
		})
	default:
		return lockmem.NewRegistry(), nil
	}
}

func openDatabase(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConns = 10
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// runMigrations applies all up migrations from db/migrations.
func runMigrations(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	migrationsPath := os.Getenv("MIGRATIONS_PATH")
	if migrationsPath == "" {
		migrationsPath = "file://db/migrations"
	}
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}
