package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// TxOptions tunes a TxRunner.
type TxOptions struct {
	// Timeout bounds each attempt. Zero disables the bound.
	Timeout time.Duration
	// MaxRetries is the number of extra attempts after a serialization failure or deadlock.
	MaxRetries int
}

// TxRunner runs units of work with a per-attempt timeout and transparent conflict retries.
// Callbacks must be re-runnable: they are invoked once per attempt.
type TxRunner struct {
	pool   *pgxpool.Pool
	opts   TxOptions
	logger *slog.Logger
}

// NewTxRunner constructs a TxRunner.
func NewTxRunner(pool *pgxpool.Pool, opts TxOptions, logger *slog.Logger) *TxRunner {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TxRunner{pool: pool, opts: opts, logger: logger}
}

// Pool exposes the underlying pool for read-only queries.
func (r *TxRunner) Pool() *pgxpool.Pool {
	return r.pool
}

// Run executes fn inside a RepeatableRead transaction. Infrastructure failures and exhausted
// retries surface as shared.ErrStorageUnavailable.
func (r *TxRunner) Run(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= r.opts.MaxRetries; attempt++ {
		err = r.attempt(ctx, fn)
		if err == nil || !IsConflict(err) {
			break
		}
		r.logger.Debug("retrying transaction after conflict", slog.Int("attempt", attempt+1), slog.Any("error", err))
		if ctx.Err() != nil {
			break
		}
	}
	return Classify(err)
}

func (r *TxRunner) attempt(ctx context.Context, fn func(context.Context, pgx.Tx) error) error {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}
	return WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
}

// Scoped derives a context bounded by the runner timeout for pool-level reads.
func (r *TxRunner) Scoped(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}
