package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	votingsession "ballotbox/contexts/governance/voting-session"
	"ballotbox/contexts/governance/voting-session/adapters/memory"
	postgresadapter "ballotbox/contexts/governance/voting-session/adapters/postgres"
	sqliteadapter "ballotbox/contexts/governance/voting-session/adapters/sqlite"
	"ballotbox/contexts/governance/voting-session/adapters/sqlite/migrations"
	"ballotbox/contexts/governance/voting-session/ports"
	"ballotbox/internal/platform/config"
	"ballotbox/internal/platform/db"
	"ballotbox/internal/platform/httpserver"
	"ballotbox/internal/platform/messaging"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

// storage is the set of ports one storage driver satisfies.
type storage struct {
	sessions ports.SessionRepository
	outboxR  ports.OutboxRepository
	archive  ports.ResultArchive
	clock    ports.Clock
	idGen    ports.IDGenerator
	close    func() error
}

type APIApp struct {
	server          *httpserver.Server
	workers         votingsession.Workers
	runWorkers      bool
	pollInterval    time.Duration
	shutdownTimeout time.Duration
	store           storage
	logger          *slog.Logger
}

type WorkerApp struct {
	workers      votingsession.Workers
	pollInterval time.Duration
	store        storage
	logger       *slog.Logger
}

// NewLogger builds the process JSON logger at the configured level.
func NewLogger(cfg config.Config, process string) *slog.Logger {
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", cfg.ServiceName, "process", process)
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return BuildAPIFromConfig(cfg, NewLogger(cfg, "api"))
}

func BuildAPIFromConfig(cfg config.Config, logger *slog.Logger) (*APIApp, error) {
	store, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	kafka, err := openEventBus(cfg, logger)
	if err != nil {
		_ = store.close()
		return nil, err
	}

	module := votingsession.NewModule(votingsession.Dependencies{
		Sessions: store.sessions,
		Archive:  store.archive,
		Clock:    store.clock,
		IDGen:    store.idGen,
		Logger:   logger,
	})
	workers := buildWorkers(cfg, store, kafka, logger)

	return &APIApp{
		server:          httpserver.New(module, logger, normalizeAddr(cfg.HTTPPort)),
		workers:         workers,
		runWorkers:      cfg.EnableOutboxRelay,
		pollInterval:    cfg.OutboxPollInterval,
		shutdownTimeout: cfg.ShutdownTimeout,
		store:           store,
		logger:          logger,
	}, nil
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg, "worker")
	// The in-memory store is per process, so a standalone worker would never
	// see sessions written by the API.
	if cfg.StorageDriver == config.StorageMemory {
		return nil, fmt.Errorf("worker requires STORAGE_DRIVER=sqlite or postgres")
	}

	store, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	kafka, err := openEventBus(cfg, logger)
	if err != nil {
		_ = store.close()
		return nil, err
	}
	return &WorkerApp{
		workers:      buildWorkers(cfg, store, kafka, logger),
		pollInterval: cfg.OutboxPollInterval,
		store:        store,
		logger:       logger,
	}, nil
}

// openEventBus builds the bus shared by the outbox relay and the results
// finalizer and records which brokers it targets.
func openEventBus(cfg config.Config, logger *slog.Logger) (*messaging.Kafka, error) {
	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("event bus ready",
		"event", "event_bus_ready",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"brokers", kafka.Brokers(),
	)
	return kafka, nil
}

func buildWorkers(cfg config.Config, store storage, kafka *messaging.Kafka, logger *slog.Logger) votingsession.Workers {
	workers := votingsession.NewWorkers(votingsession.WorkerDependencies{
		Sessions:   store.sessions,
		Outbox:     store.outboxR,
		Archive:    store.archive,
		Publisher:  kafka,
		Subscriber: kafka,
		Clock:      store.clock,
		BatchSize:  cfg.OutboxBatchSize,
		Logger:     logger,
	})
	workers.Finalizer.Disabled = !cfg.EnableResultsArchive
	return workers
}

func openStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage, error) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		pg, err := db.Connect(cfg.PostgresDSN)
		if err != nil {
			return storage{}, err
		}
		repo := postgresadapter.NewRepository(pg.DB, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return storage{}, err
		}
		return storage{
			sessions: repo,
			outboxR:  repo,
			archive:  repo,
			clock:    postgresadapter.SystemClock{},
			idGen:    postgresadapter.UUIDGenerator{},
			close:    pg.Close,
		}, nil
	case config.StorageSQLite:
		handle, err := db.OpenSQLite(cfg.SQLitePath, migrations.FS)
		if err != nil {
			return storage{}, err
		}
		store := sqliteadapter.NewStore(handle.DB, logger)
		return storage{
			sessions: store,
			outboxR:  store,
			archive:  store,
			clock:    postgresadapter.SystemClock{},
			idGen:    postgresadapter.UUIDGenerator{},
			close:    handle.Close,
		}, nil
	default:
		store := memory.NewStore(nil)
		return storage{
			sessions: store,
			outboxR:  store,
			archive:  store,
			clock:    store,
			idGen:    store,
			close:    func() error { return nil },
		}, nil
	}
}

// Run serves HTTP and, when enabled, the outbox relay and results finalizer
// until ctx is cancelled or one of them fails.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"run_workers", a.runWorkers,
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(a.server.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.runWorkers {
		if err := a.workers.Finalizer.Start(groupCtx); err != nil {
			return err
		}
		group.Go(func() error {
			return a.workers.OutboxRelay.Run(groupCtx, a.pollInterval)
		})
	}
	return group.Wait()
}

func (a *APIApp) Close() error {
	return a.store.close()
}

func (w *WorkerApp) Run(ctx context.Context) error {
	if err := w.workers.Finalizer.Start(ctx); err != nil {
		return err
	}
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
	)
	return w.workers.OutboxRelay.Run(ctx, w.pollInterval)
}

func (w *WorkerApp) Close() error {
	return w.store.close()
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
