package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/odyssey-erp/supplyledger/internal/audit"
	"github.com/odyssey-erp/supplyledger/internal/platform/httpx"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

const (
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error)
}

// Handler serves the audit trail to administrators.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	body, err := audit.WriteCSV(rows)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit-timeline.csv\"")
	if _, err := w.Write(body); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	var (
		f   audit.TimelineFilters
		err error
	)
	if f.To, err = httpx.QueryTime(r, "to"); err != nil {
		return f, err
	}
	if f.To.IsZero() {
		f.To = h.now().UTC()
	}
	if f.From, err = httpx.QueryTime(r, "from"); err != nil {
		return f, err
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-defaultDateRange)
	}
	if f.From.After(f.To) {
		return f, fmt.Errorf("%w: from must not be after to", shared.ErrValidation)
	}
	if f.To.Sub(f.From) > maxDateRange {
		return f, fmt.Errorf("%w: range exceeds 90 days", shared.ErrValidation)
	}
	if f.ActorID, err = httpx.QueryInt64(r, "actor_id"); err != nil {
		return f, err
	}
	if f.Page, err = httpx.QueryInt(r, "page"); err != nil {
		return f, err
	}
	if f.PageSize, err = httpx.QueryInt(r, "page_size"); err != nil {
		return f, err
	}
	q := r.URL.Query()
	f.Entity = strings.TrimSpace(q.Get("entity"))
	f.EntityID = strings.TrimSpace(q.Get("entity_id"))
	f.Action = strings.TrimSpace(q.Get("action"))
	return f, nil
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	status, _, _ := httpx.Classify(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, shared.ErrBusy) {
		h.logger.Error("audit request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
