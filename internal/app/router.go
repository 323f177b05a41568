package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	audithttp "github.com/odyssey-erp/supplyledger/internal/audit/http"
	"github.com/odyssey-erp/supplyledger/internal/auth"
	"github.com/odyssey-erp/supplyledger/internal/observability"
	"github.com/odyssey-erp/supplyledger/internal/orders"
	"github.com/odyssey-erp/supplyledger/internal/platform/httpx"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
	"github.com/odyssey-erp/supplyledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	Verifier      *auth.Verifier
	OrdersHandler *orders.Handler
	StockHandler  *stock.Handler
	JobHandler    *jobs.Handler
	AuditHandler  *audithttp.Handler
	Metrics       *observability.Metrics
	// Ready reports whether backing stores answer; nil means always ready.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Ready(ctx); err != nil {
				httpx.RespondError(w, shared.ErrStorageUnavailable)
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.Verifier.Middleware)
		if params.OrdersHandler != nil {
			r.Route("/orders", params.OrdersHandler.MountRoutes)
		}
		if params.StockHandler != nil {
			r.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.AuditHandler != nil {
			r.Route("/audit", params.AuditHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(auth.RequireAdmin)
				params.JobHandler.MountRoutes(r)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondError(w, shared.ErrNotFound)
	})
	return r
}
