// Package app provides the shared entry point for the cronhub binary:
// configuration loading, wiring, and the run loop.
package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flemzord/cronhub/internal/catalog"
	"github.com/flemzord/cronhub/internal/config"
	"github.com/flemzord/cronhub/internal/dispatch"
	"github.com/flemzord/cronhub/internal/execlog"
	"github.com/flemzord/cronhub/internal/executor"
	"github.com/flemzord/cronhub/internal/executor/tasks"
	"github.com/flemzord/cronhub/internal/gateway"
	"github.com/flemzord/cronhub/internal/metrics"
	"github.com/flemzord/cronhub/internal/schedule"
	"github.com/flemzord/cronhub/internal/storage"
	"github.com/flemzord/cronhub/internal/telemetry"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level

	// SeedCatalog inserts the builtin task definitions at startup.
	SeedCatalog bool
}

// Run loads configuration, starts the execution substrate, dispatch
// runner, and HTTP gateway, and blocks until a shutdown signal arrives.
func Run(params RunParams) error {
	cfg, err := config.LoadOrDefault(params.ConfigPath)
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	ctx := context.Background()

	shutdownTrace, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceVersion: params.Version,
	}, logger)
	if err != nil {
		return err
	}

	db, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	catalogStore := catalog.NewStore(db)
	logStore := execlog.NewStore(db)
	registrar := dispatch.NewRegistrar(db)
	scheduleStore := schedule.NewStore(db, catalogStore, registrar, logger)
	m := metrics.New()

	if params.SeedCatalog {
		created, err := catalog.Seed(ctx, catalogStore, logger)
		if err != nil {
			return err
		}
		logger.Info("catalog seeded", "created", created)
	}

	bodies := executor.NewRegistry()
	if err := tasks.RegisterBuiltins(bodies, tasks.Options{Logger: logger}); err != nil {
		return err
	}

	feed := gateway.NewFeed(logger)

	exec := executor.New(executor.Config{
		Schedules: scheduleStore,
		Catalog:   catalogStore,
		Logs:      logStore,
		Bodies:    bodies,
		Observer:  feed,
		Counter:   m,
		Logger:    logger,
	})
	queue := executor.NewQueue(exec, executor.QueueConfig{
		Workers:         cfg.Executor.Workers,
		QueueSize:       cfg.Executor.QueueSize,
		StartsPerSecond: cfg.Executor.StartsPerSecond,
	}, logger)
	exec.SetRetryScheduler(queue)

	runner := dispatch.NewRunner(registrar, &countingSubmitter{queue: queue, metrics: m}, dispatch.RunnerConfig{
		Timezone:      cfg.Dispatch.Timezone,
		SweepInterval: cfg.Dispatch.SweepInterval,
	}, logger)

	// Repair trigger drift from unclean shutdowns before the runner
	// loads the table.
	if err := reconcileTriggers(ctx, scheduleStore, registrar, logger); err != nil {
		logger.Warn("trigger reconciliation failed", "error", err)
	}

	queue.Start(ctx)
	if err := runner.Start(ctx); err != nil {
		return err
	}

	gw := gateway.New(gateway.Config{
		Bind:            cfg.Server.Bind,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, gateway.Deps{
		Schedules: scheduleStore,
		Catalog:   catalogStore,
		Logs:      logStore,
		Metrics:   m,
		Feed:      feed,
		Runner:    runner,
		Queue:     queue,
		Bodies:    bodies,
		Logger:    logger,
	})
	if err := gw.Start(); err != nil {
		return err
	}

	logger.Info("cronhub started",
		"version", params.Version, "commit", params.Commit, "built", params.Date)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutdown signal received")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gw.Stop(stopCtx); err != nil {
		logger.Warn("gateway stop failed", "error", err)
	}
	if err := runner.Stop(stopCtx); err != nil {
		logger.Warn("dispatch runner stop failed", "error", err)
	}
	if err := queue.Stop(stopCtx); err != nil {
		logger.Warn("executor queue stop failed", "error", err)
	}
	if err := shutdownTrace(stopCtx); err != nil {
		logger.Warn("trace shutdown failed", "error", err)
	}

	logger.Info("cronhub stopped")
	return nil
}

// countingSubmitter wraps the run queue so trigger firings are counted
// before they enter it.
type countingSubmitter struct {
	queue   *executor.Queue
	metrics *metrics.Metrics
}

func (c *countingSubmitter) Submit(scheduleID int64, params map[string]any) {
	c.metrics.TriggerFired()
	c.queue.Submit(scheduleID, params)
}

// reconcileTriggers repairs trigger drift in both directions at boot.
// Registrar writes are best-effort at mutation time, so first the table
// repair disables or prunes triggers whose schedule went inactive or
// missing, then every active schedule is re-synced so absent or stale
// trigger rows get rebuilt.
func reconcileTriggers(ctx context.Context, scheds *schedule.Store, registrar *dispatch.Registrar, logger *slog.Logger) error {
	if err := registrar.Reconcile(ctx); err != nil {
		return err
	}
	enabled, err := scheds.ListEnabled(ctx)
	if err != nil {
		return err
	}
	for _, s := range enabled {
		if err := registrar.Sync(ctx, s); err != nil {
			logger.Warn("trigger re-sync failed", "schedule_id", s.ID, "error", err)
		}
	}
	return nil
}
