package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/odyssey-erp/supplyledger/internal/jobs"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
)

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	seen  map[string]bool
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if id != "" && f.seen[id] {
		return nil, asynq.ErrTaskIDConflict
	}
	f.seen[id] = true
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: id, Type: task.Type()}, nil
}

func (f *fakeEnqueuer) Close() error { return nil }

type lowSource struct {
	products []stock.Product
	err      error
}

func (s lowSource) ListLowStock(context.Context) ([]stock.Product, error) {
	return s.products, s.err
}

type reconciler struct {
	found []stock.Discrepancy
	err   error
}

func (r reconciler) Reconcile(context.Context) ([]stock.Discrepancy, error) {
	return r.found, r.err
}

type auditSink struct {
	logs []shared.AuditLog
	err  error
}

func (a *auditSink) Record(ctx context.Context, log shared.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

func lowProduct(id int64) stock.Product {
	return stock.Product{ID: id, Name: "Arroz", Unit: "kg", StockQty: 2, LowStockThreshold: 5, IsActive: true}
}

func TestNotifyLowStockCollapsesDuplicates(t *testing.T) {
	enq := &fakeEnqueuer{}
	client := NewClientWith(enq)
	ctx := context.Background()

	require.NoError(t, client.NotifyLowStock(ctx, lowProduct(1)))
	require.NoError(t, client.NotifyLowStock(ctx, lowProduct(1)))
	require.NoError(t, client.NotifyLowStock(ctx, lowProduct(2)))
	require.Len(t, enq.tasks, 2)

	var payload LowStockAlertPayload
	require.NoError(t, json.Unmarshal(enq.tasks[0].Payload(), &payload))
	require.Equal(t, TaskLowStockAlert, enq.tasks[0].Type())
	require.Equal(t, int64(1), payload.ProductID)
	require.Equal(t, 5, payload.Threshold)

	enq.err = errors.New("redis down")
	require.Error(t, client.NotifyLowStock(ctx, lowProduct(3)))
}

func TestHandleAlertAuditsAndCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	audit := &auditSink{}
	job := &LowStockJob{Audit: audit, Metrics: metrics}

	task, err := NewLowStockAlertTask(LowStockAlertPayload{ProductID: 7, StockQty: 1, Threshold: 3})
	require.NoError(t, err)
	require.NoError(t, job.HandleAlert(context.Background(), task))
	require.Len(t, audit.logs, 1)
	require.Equal(t, "7", audit.logs[0].EntityID)

	err = job.HandleAlert(context.Background(), asynq.NewTask(TaskLowStockAlert, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	count, err := testutil.GatherAndCount(registry, "supply_low_stock_alerts_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestHandleScanEnqueuesEveryLowProduct(t *testing.T) {
	enq := &fakeEnqueuer{}
	job := &LowStockJob{
		Source:   lowSource{products: []stock.Product{lowProduct(1), lowProduct(2)}},
		Notifier: NewClientWith(enq),
		Metrics:  jobmetrics.NewMetrics(prometheus.NewRegistry()),
	}
	require.NoError(t, job.HandleScan(context.Background(), nil))
	require.Len(t, enq.tasks, 2)

	job.Source = lowSource{err: errors.New("timeout")}
	require.Error(t, job.HandleScan(context.Background(), nil))

	require.Error(t, (&LowStockJob{}).HandleScan(context.Background(), nil))
}

func TestReconcileReportsDrift(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	job := &ReconcileJob{Ledger: reconciler{}, Metrics: metrics}
	require.NoError(t, job.Handle(context.Background(), nil))

	job.Ledger = reconciler{found: []stock.Discrepancy{{ProductID: 1, StockQty: 4, Expected: 5}}}
	err := job.Handle(context.Background(), nil)
	require.ErrorIs(t, err, ErrLedgerDrift)
	require.ErrorIs(t, err, asynq.SkipRetry)

	require.Equal(t, 1.0, gaugeValue(t, registry, "supply_ledger_discrepancies"))
}

func gaugeValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

type keyPurger struct {
	removed   int64
	err       error
	olderThan time.Duration
}

func (p *keyPurger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.olderThan = olderThan
	return p.removed, p.err
}

func TestIdempotencyCleanup(t *testing.T) {
	purger := &keyPurger{removed: 4}
	job := &CleanupJob{Store: purger, Retention: 48 * time.Hour, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	require.NoError(t, job.Handle(context.Background(), nil))
	require.Equal(t, 48*time.Hour, purger.olderThan)

	purger.err = errors.New("timeout")
	require.Error(t, job.Handle(context.Background(), nil))
}

func TestSchedule(t *testing.T) {
	regs, err := Schedule(ScheduleConfig{Reconcile: "0 2 * * *", IdempotencyCleanup: "0 3 * * *"}, time.Now())
	require.NoError(t, err)
	require.Len(t, regs, 2)
	require.Equal(t, TaskLedgerReconcile, regs[0].Task.Type())
	require.Equal(t, TaskIdempotencyCleanup, regs[1].Task.Type())
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func TestJobsHealthEndpoint(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3}}, nil).MountRoutes)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":3,"retry":0,"archived":0,"processed":0}`, rr.Body.String())

	r = chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{err: errors.New("down")}, nil).MountRoutes)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
