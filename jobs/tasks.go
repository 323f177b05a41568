package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockAlert notifies operators that a product fell to its threshold.
	TaskLowStockAlert = "stock:low_alert"
	// TaskLowStockScan re-enqueues alerts for every product currently low on stock.
	TaskLowStockScan = "stock:low_scan"
	// TaskLedgerReconcile compares stock_qty with initial stock plus the ledger sum.
	TaskLedgerReconcile = "ledger:reconcile"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"

	// LowStockAlertWindow deduplicates alerts for the same product.
	LowStockAlertWindow = time.Hour
)

// LowStockAlertPayload describes a product observed at or below its threshold.
type LowStockAlertPayload struct {
	ProductID  int64     `json:"product_id"`
	Name       string    `json:"name"`
	Unit       string    `json:"unit"`
	StockQty   int       `json:"stock_qty"`
	Threshold  int       `json:"threshold"`
	ObservedAt time.Time `json:"observed_at"`
}

// ScheduledPayload carries scheduling metadata for cron tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewLowStockAlertTask constructs an alert task.
func NewLowStockAlertTask(payload LowStockAlertPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, data), nil
}

// NewScheduledTask constructs a cron task of the given type.
func NewScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	data, err := json.Marshal(ScheduledPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data, asynq.Queue(QueueDefault)), nil
}

// ScheduleConfig holds cron specs for the periodic jobs. Empty specs disable a job.
type ScheduleConfig struct {
	Reconcile          string
	LowStockScan       string
	IdempotencyCleanup string
}

// Schedule builds the cron registrations for the periodic jobs.
func Schedule(cfg ScheduleConfig, now time.Time) ([]CronRegistration, error) {
	var out []CronRegistration
	for _, entry := range []struct{ spec, task string }{
		{cfg.Reconcile, TaskLedgerReconcile},
		{cfg.LowStockScan, TaskLowStockScan},
		{cfg.IdempotencyCleanup, TaskIdempotencyCleanup},
	} {
		if entry.spec == "" {
			continue
		}
		task, err := NewScheduledTask(entry.task, now)
		if err != nil {
			return nil, err
		}
		out = append(out, CronRegistration{Spec: entry.spec, Task: task, Options: []asynq.Option{asynq.MaxRetry(3)}})
	}
	return out, nil
}
