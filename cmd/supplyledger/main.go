package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/supplyledger/cmd/supplyledger/cli"
	"github.com/odyssey-erp/supplyledger/internal/app"
	audithttp "github.com/odyssey-erp/supplyledger/internal/audit/http"
	"github.com/odyssey-erp/supplyledger/internal/auth"
	"github.com/odyssey-erp/supplyledger/internal/observability"
	"github.com/odyssey-erp/supplyledger/internal/orders"
	"github.com/odyssey-erp/supplyledger/internal/platform/db"
	"github.com/odyssey-erp/supplyledger/internal/stock"
	"github.com/odyssey-erp/supplyledger/jobs"
)

const usage = `usage: supplyledger [command]

commands:
  serve                 run the HTTP API (default)
  migrate               apply the database schema
  reconcile [-json]     compare stock with the ledger; exit 1 on drift
  jobs trigger <name>   enqueue ledger:reconcile, stock:low_scan or idempotency:cleanup
  jobs stats            print default queue statistics
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	code := run(ctx, cmd, args, cfg, logger)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, cmd string, args []string, cfg *app.Config, logger *slog.Logger) int {
	switch cmd {
	case "serve":
		return serve(ctx, cfg, logger)
	case "migrate":
		pool, err := db.New(ctx, cfg.PGDSN, 2)
		if err != nil {
			logger.Error("connect postgres", slog.Any("error", err))
			return 1
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			return 1
		}
		logger.Info("schema applied")
		return 0
	case "reconcile":
		fs := flag.NewFlagSet("reconcile", flag.ContinueOnError)
		jsonOut := fs.Bool("json", false, "print JSON")
		if err := fs.Parse(args); err != nil {
			return 2
		}
		c, err := app.Build(ctx, cfg, logger)
		if err != nil {
			logger.Error("bootstrap", slog.Any("error", err))
			return 2
		}
		defer closeContainer(c, logger)
		return cli.ReconcileCommand(ctx, c.Stock, cli.ReconcileOptions{JSONOutput: *jsonOut, Stdout: os.Stdout, Stderr: os.Stderr})
	case "jobs":
		return jobsCommand(ctx, args, cfg, logger)
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    "supplyledger-api",
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

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Error("init verifier", slog.Any("error", err))
		return 1
	}

	c, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap", slog.Any("error", err))
		return 1
	}
	defer closeContainer(c, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		Verifier:      verifier,
		OrdersHandler: orders.NewHandler(logger, c.Orders),
		StockHandler:  stock.NewHandler(logger, c.Stock),
		JobHandler:    jobs.NewHandler(inspector, logger),
		AuditHandler:  audithttp.NewHandler(logger, c.Timeline),
		Metrics:       c.Metrics,
		Ready:         c.Ready,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}
	if err := app.Serve(ctx, server, logger, cfg.AppShutdownTimeout); err != nil {
		logger.Error("http server", slog.Any("error", err))
		return 1
	}
	return 0
}

func jobsCommand(ctx context.Context, args []string, cfg *app.Config, logger *slog.Logger) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	jc := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() {
		if err := jc.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			fmt.Fprint(os.Stderr, usage)
			return 2
		}
		info, err := jc.Trigger(ctx, args[1])
		if err != nil {
			logger.Error("trigger job", slog.String("job", args[1]), slog.Any("error", err))
			return 1
		}
		logger.Info("job enqueued", slog.String("job", info.Type), slog.String("id", info.ID))
		return 0
	case "stats":
		stats, err := jc.InspectQueue()
		if err != nil {
			logger.Error("inspect queue", slog.Any("error", err))
			return 1
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func closeContainer(c *app.Container, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close resources", slog.Any("error", err))
	}
}
