package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/supplyledger/internal/audit"
	"github.com/odyssey-erp/supplyledger/internal/events"
	"github.com/odyssey-erp/supplyledger/internal/observability"
	"github.com/odyssey-erp/supplyledger/internal/orders"
	"github.com/odyssey-erp/supplyledger/internal/platform/cache"
	"github.com/odyssey-erp/supplyledger/internal/platform/db"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
	"github.com/odyssey-erp/supplyledger/jobs"
)

// Container holds the wired services shared by the API server, the worker and the tools.
type Container struct {
	Pool        *pgxpool.Pool
	Redis       *redis.Client
	Runner      *db.TxRunner
	Metrics     *observability.Metrics
	Audit       *shared.AuditLogger
	Timeline    *audit.Service
	Idempotency *db.IdempotencyStore
	Jobs        *jobs.Client
	Stock       *stock.Service
	Orders      *orders.Service

	closers []func() error
}

// Build connects to PostgreSQL and Redis and wires the ledger and order services.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger) (*Container, error) {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	c := &Container{Pool: pool}
	c.closers = append(c.closers, func() error { pool.Close(); return nil })

	c.Redis = cache.NewLazy(cfg.RedisAddr)
	c.closers = append(c.closers, c.Redis.Close)
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping failed, cache and approval lock will degrade", slog.Any("error", err))
	}

	c.Runner = db.NewTxRunner(pool, db.TxOptions{Timeout: cfg.StoreTimeout, MaxRetries: cfg.TxMaxRetries}, logger)
	c.Metrics = observability.NewMetrics()
	c.Audit = shared.NewAuditLogger(pool)
	c.Timeline = audit.NewService(audit.NewRepository(pool))
	c.Idempotency = db.NewIdempotencyStore(pool)

	c.Jobs = jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	c.closers = append(c.closers, c.Jobs.Close)

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaEnabled() {
		kafkaPublisher := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
		c.closers = append(c.closers, kafkaPublisher.Close)
		publisher = kafkaPublisher
	}

	c.Stock = stock.NewService(stock.NewRepository(c.Runner), stock.ServiceOptions{
		Idempotency: c.Idempotency,
		Cache:       stock.NewMovementCache(c.Redis, cfg.MovementCacheTTL),
		Notifier:    c.Jobs,
		Metrics:     c.Metrics,
		Audit:       c.Audit,
		Logger:      logger,
	})
	c.Orders = orders.NewService(orders.NewRepository(c.Runner), c.Stock, orders.Options{
		Audit:   c.Audit,
		Events:  publisher,
		Locker:  orders.NewRedisLocker(c.Redis),
		LockTTL: cfg.ApprovalLockTTL,
		Metrics: c.Metrics,
		Logger:  logger,
	})
	return c, nil
}

// Ready pings PostgreSQL. Redis is optional and not part of readiness.
func (c *Container) Ready(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
