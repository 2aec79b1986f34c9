package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	experimentationengine "aegis/contexts/recommendation-optimization/experimentation-engine"
	"aegis/contexts/recommendation-optimization/experimentation-engine/adapters/memory"
	postgresadapter "aegis/contexts/recommendation-optimization/experimentation-engine/adapters/postgres"
	"aegis/contexts/recommendation-optimization/experimentation-engine/application/workers"
	"aegis/contexts/recommendation-optimization/experimentation-engine/domain/services"
	"aegis/contexts/recommendation-optimization/experimentation-engine/ports"
	"aegis/internal/platform/config"
	"aegis/internal/platform/db"
	"aegis/internal/platform/httpserver"
	"aegis/internal/platform/messaging"
	platformotel "aegis/internal/platform/otel"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

type APIApp struct {
	server          *httpserver.Server
	postgres        *db.Postgres
	shutdownTracing func(context.Context) error
	logger          *slog.Logger
}

type WorkerApp struct {
	postgres        *db.Postgres
	outboxRelay     workers.OutboxRelay
	auditConsumer   workers.LifecycleAuditConsumer
	sweeper         workers.ExpirySweeper
	sweepSchedule   string
	pollInterval    time.Duration
	shutdownTracing func(context.Context) error
	logger          *slog.Logger
}

// Runtime is a fully wired engine plus the handles needed to relay its outbox
// and release its resources.
type Runtime struct {
	Config    config.Config
	Module    experimentationengine.Module
	Outbox    ports.OutboxRepository
	Snapshots ports.ResultSnapshotRepository
	Postgres  *db.Postgres
	Logger    *slog.Logger
}

func (r *Runtime) Close() error {
	if r.Postgres != nil {
		return r.Postgres.Close()
	}
	return nil
}

// BuildRuntime loads config and wires the experimentation module onto the
// configured storage backend. Postgres tables are auto-migrated.
func BuildRuntime(ctx context.Context, process string) (*Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := slog.Default().With("service", cfg.ServiceName, "process", process)

	if cfg.StorageBackend == config.StorageBackendMemory {
		store := memory.NewStore(nil)
		module := experimentationengine.NewModule(engineDependencies(cfg, logger, store, store, store))
		module.Store = store
		logger.Warn("using in-memory storage",
			"event", "bootstrap_memory_storage",
			"module", "internal/app/bootstrap",
			"layer", "platform",
		)
		return &Runtime{
			Config:    cfg,
			Module:    module,
			Outbox:    store,
			Snapshots: store,
			Logger:    logger,
		}, nil
	}

	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}
	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, postgresadapter.Models()...); err != nil {
		_ = pg.Close()
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	module := experimentationengine.NewModule(engineDependencies(
		cfg, logger, repo, postgresadapter.SystemClock{}, postgresadapter.UUIDGenerator{},
	))
	return &Runtime{
		Config:    cfg,
		Module:    module,
		Outbox:    repo,
		Snapshots: repo,
		Postgres:  pg,
		Logger:    logger,
	}, nil
}

type engineStore interface {
	ports.ExperimentRepository
	ports.AssignmentRepository
	ports.EventLogRepository
	ports.ResultSnapshotRepository
	ports.IdempotencyStore
	ports.LifecycleWriter
}

func engineDependencies(
	cfg config.Config,
	logger *slog.Logger,
	store engineStore,
	clock ports.Clock,
	ids ports.IDGenerator,
) experimentationengine.Dependencies {
	return experimentationengine.Dependencies{
		Experiments:     store,
		Assignments:     store,
		Events:          store,
		Snapshots:       store,
		Idempotency:     store,
		Writer:          store,
		Clock:           clock,
		IDGen:           ids,
		Salting:         services.ParseBucketSalting(cfg.Experiments.BucketSalting),
		DecisionPolicy:  cfg.Experiments.DecisionPolicy,
		ConfidenceLevel: cfg.Experiments.ConfidenceLevel,
		IdempotencyTTL:  cfg.Experiments.IdempotencyTTL,
		Logger:          logger,
	}
}

func BuildAPI(ctx context.Context) (*APIApp, error) {
	runtime, err := BuildRuntime(ctx, "api")
	if err != nil {
		return nil, err
	}
	shutdownTracing, err := platformotel.Setup(ctx, runtime.Config.ServiceName, runtime.Config.OTelEndpoint)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	server := httpserver.New(runtime.Module, runtime.Logger, normalizeAddr(runtime.Config.HTTPPort))
	return &APIApp{
		server:          server,
		postgres:        runtime.Postgres,
		shutdownTracing: shutdownTracing,
		logger:          runtime.Logger,
	}, nil
}

func BuildWorker(ctx context.Context) (*WorkerApp, error) {
	runtime, err := BuildRuntime(ctx, "worker")
	if err != nil {
		return nil, err
	}
	if _, err := cron.ParseStandard(runtime.Config.Experiments.SweepSchedule); err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("parse EXPERIMENT_SWEEP_SCHEDULE: %w", err)
	}
	shutdownTracing, err := platformotel.Setup(ctx, runtime.Config.ServiceName, runtime.Config.OTelEndpoint)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("setup tracing: %w", err)
	}

	bus := messaging.NewBus(runtime.Config.KafkaBrokers, runtime.Logger)
	return &WorkerApp{
		postgres: runtime.Postgres,
		outboxRelay: workers.OutboxRelay{
			Outbox:    runtime.Outbox,
			Publisher: bus,
			Clock:     postgresadapter.SystemClock{},
			BatchSize: 100,
			Logger:    runtime.Logger,
		},
		auditConsumer: workers.LifecycleAuditConsumer{
			Subscriber: bus,
			Snapshots:  runtime.Snapshots,
			Logger:     runtime.Logger,
		},
		sweeper:         runtime.Module.Sweeper,
		sweepSchedule:   runtime.Config.Experiments.SweepSchedule,
		pollInterval:    runtime.Config.Experiments.OutboxPollInterval,
		shutdownTracing: shutdownTracing,
		logger:          runtime.Logger,
	}, nil
}

func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)

	errs := make(chan error, 1)
	go func() { errs <- a.server.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	}
}

func (a *APIApp) Close() error {
	return closeAll(a.shutdownTracing, a.postgres)
}

// Run subscribes the audit consumer to the bus, then drives the outbox relay
// on a fixed poll interval and the expiry sweep on its cron schedule until
// ctx is cancelled or the relay fails.
func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"poll_interval", w.pollInterval.String(),
		"sweep_schedule", w.sweepSchedule,
	)

	group, ctx := errgroup.WithContext(ctx)
	if err := w.auditConsumer.Start(ctx); err != nil {
		return fmt.Errorf("start lifecycle audit consumer: %w", err)
	}
	group.Go(func() error {
		return w.runRelay(ctx)
	})
	group.Go(func() error {
		return w.runSweeper(ctx)
	})
	return group.Wait()
}

func (w *WorkerApp) runRelay(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.outboxRelay.RunOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WorkerApp) runSweeper(ctx context.Context) error {
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := scheduler.AddFunc(w.sweepSchedule, func() {
		completed, err := w.sweeper.RunOnce(ctx)
		if err != nil {
			w.logger.Error("expiry sweep failed",
				"event", "bootstrap_expiry_sweep_failed",
				"module", "internal/app/bootstrap",
				"layer", "platform",
				"completed_count", completed,
				"error", err.Error(),
			)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule expiry sweep: %w", err)
	}

	scheduler.Start()
	<-ctx.Done()
	<-scheduler.Stop().Done()
	return nil
}

func (w *WorkerApp) Close() error {
	return closeAll(w.shutdownTracing, w.postgres)
}

func closeAll(shutdownTracing func(context.Context) error, pg *db.Postgres) error {
	var errs []error
	if shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, shutdownTracing(ctx))
		cancel()
	}
	if pg != nil {
		errs = append(errs, pg.Close())
	}
	return errors.Join(errs...)
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
