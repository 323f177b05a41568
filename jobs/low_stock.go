package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/supplyledger/internal/jobs"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// LowStockSource lists products at or below threshold; satisfied by *stock.Service.
type LowStockSource interface {
	ListLowStock(ctx context.Context) ([]stock.Product, error)
}

// LowStockJob handles alert delivery and the periodic low stock scan.
type LowStockJob struct {
	Source   LowStockSource
	Notifier stock.LowStockNotifier
	Audit    shared.AuditPort
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// HandleAlert records one low stock alert. Delivery is the audit trail plus a warning log line
// that log-based alerting picks up.
func (j *LowStockJob) HandleAlert(ctx context.Context, t *asynq.Task) error {
	var payload LowStockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.ProductID <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskLowStockAlert)

	j.logger(TaskLowStockAlert).Warn("product low on stock",
		slog.Int64("product_id", payload.ProductID),
		slog.String("name", payload.Name),
		slog.Int("stock_qty", payload.StockQty),
		slog.Int("threshold", payload.Threshold),
	)
	var err error
	if j.Audit != nil {
		err = j.Audit.Record(ctx, shared.AuditLog{
			Action:   "stock:low_alert",
			Entity:   "product",
			EntityID: strconv.FormatInt(payload.ProductID, 10),
			Meta: map[string]any{
				"stock_qty": payload.StockQty,
				"threshold": payload.Threshold,
				"unit":      payload.Unit,
			},
			At: payload.ObservedAt,
		})
	}
	if err == nil {
		j.metrics().AddLowStockAlert(payload.ProductID)
	}
	return tracker.End(err)
}

// HandleScan enqueues an alert for every active product at or below threshold.
func (j *LowStockJob) HandleScan(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics().Track(TaskLowStockScan)
	if j.Source == nil || j.Notifier == nil {
		return tracker.End(errors.New("low stock scan: not configured"))
	}
	products, err := j.Source.ListLowStock(ctx)
	if err != nil {
		return tracker.End(err)
	}
	var errs []error
	for _, p := range products {
		if err := j.Notifier.NotifyLowStock(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	j.logger(TaskLowStockScan).Info("low stock scan completed",
		slog.Int("products", len(products)),
		slog.Int("failed", len(errs)),
	)
	return tracker.End(errors.Join(errs...))
}

func (j *LowStockJob) logger(job string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", job))
	}
	return slog.Default().With(slog.String("job", job))
}

func (j *LowStockJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
