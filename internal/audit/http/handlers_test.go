package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/supplyledger/internal/audit"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.TimelineRow
	lastFilters audit.TimelineFilters
	called      bool
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.called = true
	s.lastFilters = filters
	return s.result, nil
}

func (s *stubTimelineService) Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.TimelineRow, error) {
	s.called = true
	s.lastFilters = filters
	return s.exportRows, nil
}

func newAuditRouter(service *stubTimelineService) http.Handler {
	handler := NewHandler(nil, service)
	handler.now = func() time.Time { return time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	r.Route("/audit", handler.MountRoutes)
	return r
}

func request(target string, id *shared.Identity) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if id != nil {
		req = req.WithContext(shared.ContextWithIdentity(req.Context(), *id))
	}
	return req
}

var admin = &shared.Identity{UserID: 1, Role: shared.RoleAdmin}

func TestTimelineRequiresAdmin(t *testing.T) {
	service := &stubTimelineService{}
	router := newAuditRouter(service)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit/", &shared.Identity{UserID: 5, Role: shared.RoleUser}))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if service.called {
		t.Fatalf("service must not be reached")
	}
}

func TestTimelineReturnsRowsWithDefaultWindow(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), ActorID: 1, Action: "order:approve", Entity: "order", EntityID: "7"}}
	service := &stubTimelineService{result: audit.Result{Rows: rows, Paging: audit.PagingInfo{Page: 1, PageSize: 20}}}
	router := newAuditRouter(service)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit/?entity=order&entity_id=7&actor_id=1", admin))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Action != "order:approve" {
		t.Fatalf("unexpected body %+v", body)
	}
	f := service.lastFilters
	if f.Entity != "order" || f.EntityID != "7" || f.ActorID != 1 {
		t.Fatalf("filters not forwarded: %+v", f)
	}
	if !f.To.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) || f.To.Sub(f.From) != defaultDateRange {
		t.Fatalf("unexpected default window %v..%v", f.From, f.To)
	}
}

func TestTimelineRejectsBadRanges(t *testing.T) {
	cases := map[string]string{
		"inverted":  "/audit/?from=2024-03-10&to=2024-03-01",
		"too wide":  "/audit/?from=2023-01-01&to=2024-03-01",
		"bad date":  "/audit/?from=yesterday",
		"bad actor": "/audit/?actor_id=abc",
	}
	for name, target := range cases {
		t.Run(name, func(t *testing.T) {
			service := &stubTimelineService{}
			rr := httptest.NewRecorder()
			newAuditRouter(service).ServeHTTP(rr, request(target, admin))
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if service.called {
				t.Fatalf("service must not be reached")
			}
		})
	}
}

func TestExportWritesCSV(t *testing.T) {
	rows := []audit.TimelineRow{{At: time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC), Action: "order:deliver", Entity: "order", EntityID: "9"}}
	service := &stubTimelineService{exportRows: rows}
	rr := httptest.NewRecorder()
	newAuditRouter(service).ServeHTTP(rr, request("/audit/export.csv", admin))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "order:deliver,order,9") {
		t.Fatalf("csv missing row: %q", rr.Body.String())
	}
}

func TestExportIsRateLimitedPerUser(t *testing.T) {
	router := newAuditRouter(&stubTimelineService{})
	var last int
	for i := 0; i <= rateLimit; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, request("/audit/export.csv", admin))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after %d exports, got %d", rateLimit, last)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, request("/audit/export.csv", &shared.Identity{UserID: 2, Role: shared.RoleAdmin}))
	if rr.Code != http.StatusOK {
		t.Fatalf("other admin should not share the bucket, got %d", rr.Code)
	}
}
