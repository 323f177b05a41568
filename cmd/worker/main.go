package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/supplyledger/internal/app"
	jobmetrics "github.com/odyssey-erp/supplyledger/internal/jobs"
	"github.com/odyssey-erp/supplyledger/internal/observability"
	"github.com/odyssey-erp/supplyledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    "supplyledger-worker",
		ServiceVersion: "1.0.0",
		Endpoint:       cfg.OtelEndpoint,
		Insecure:       cfg.OtelInsecure,
		SampleRatio:    cfg.OtelSampleRatio,
	})
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer func() {
		if err := shutdownTracing(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close resources", slog.Any("error", err))
		}
	}()

	metrics := jobmetrics.NewMetrics(nil)
	lowStock := &jobs.LowStockJob{
		Source:   c.Stock,
		Notifier: c.Jobs,
		Audit:    c.Audit,
		Logger:   logger,
		Metrics:  metrics,
	}
	reconcile := &jobs.ReconcileJob{Ledger: c.Stock, Logger: logger, Metrics: metrics}
	cleanup := &jobs.CleanupJob{Store: c.Idempotency, Retention: cfg.IdempotencyRetention, Logger: logger, Metrics: metrics}

	cron, err := jobs.Schedule(jobs.ScheduleConfig{
		Reconcile:          cfg.ReconcileCron,
		LowStockScan:       cfg.LowStockCron,
		IdempotencyCleanup: cfg.IdempotencyCleanupCron,
	}, time.Now().UTC())
	if err != nil {
		logger.Error("build cron tasks", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockAlert, Handler: lowStock.HandleAlert},
			{Type: jobs.TaskLowStockScan, Handler: lowStock.HandleScan},
			{Type: jobs.TaskLedgerReconcile, Handler: reconcile.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanup.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.Int("cron_entries", len(cron)))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
