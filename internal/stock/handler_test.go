package stock

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/supplyledger/internal/platform/httpx"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/stock", NewHandler(nil, svc).MountRoutes)
	return r
}

func asIdentity(req *http.Request, id shared.Identity) *http.Request {
	return req.WithContext(shared.ContextWithIdentity(req.Context(), id))
}

var admin = shared.Identity{UserID: 1, Role: shared.RoleAdmin}

func TestRecordMovementEndpoint(t *testing.T) {
	repo := newMemoryRepo(rice(5))
	router := newTestRouter(NewService(repo, ServiceOptions{Idempotency: &memoryIdempotency{}}))

	body := []byte(`{"product_id":1,"kind":"INBOUND","qty":3,"note":"doação"}`)
	req := asIdentity(httptest.NewRequest(http.MethodPost, "/stock/movements", bytes.NewReader(body)), admin)
	req.Header.Set("Idempotency-Key", "abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var mv Movement
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &mv))
	require.Equal(t, 8, mv.BalanceAfter)
	require.Equal(t, int64(1), *mv.ActorID)

	req = asIdentity(httptest.NewRequest(http.MethodPost, "/stock/movements", bytes.NewReader(body)), admin)
	req.Header.Set("Idempotency-Key", "abc")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), httpx.CodeDuplicate)
}

func TestRecordMovementEndpointErrors(t *testing.T) {
	router := newTestRouter(NewService(newMemoryRepo(rice(1)), ServiceOptions{}))
	cases := []struct {
		name   string
		body   string
		id     shared.Identity
		status int
		code   string
	}{
		{"non admin", `{"product_id":1,"kind":"INBOUND","qty":1}`, shared.Identity{UserID: 2, Role: shared.RoleUser}, http.StatusForbidden, httpx.CodeForbidden},
		{"zero qty", `{"product_id":1,"kind":"INBOUND","qty":0}`, admin, http.StatusUnprocessableEntity, httpx.CodeInvalidQuantity},
		{"qty above int32", `{"product_id":1,"kind":"INBOUND","qty":3000000000}`, admin, http.StatusBadRequest, httpx.CodeValidation},
		{"bad kind", `{"product_id":1,"kind":"GIFT","qty":1}`, admin, http.StatusBadRequest, httpx.CodeValidation},
		{"overdraft", `{"product_id":1,"kind":"LOSS","qty":2}`, admin, http.StatusConflict, httpx.CodeInsufficientStock},
		{"unknown product", `{"product_id":5,"kind":"LOSS","qty":1}`, admin, http.StatusNotFound, httpx.CodeProductNotFound},
		{"malformed", `{"product_id":`, admin, http.StatusBadRequest, httpx.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := asIdentity(httptest.NewRequest(http.MethodPost, "/stock/movements", bytes.NewBufferString(tc.body)), tc.id)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			require.Equal(t, tc.status, rr.Code)

			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
			require.Equal(t, tc.code, problem.Code)
		})
	}
}

func TestListMovementsEndpoint(t *testing.T) {
	repo := newMemoryRepo(rice(0))
	svc := NewService(repo, ServiceOptions{})
	router := newTestRouter(svc)
	for i := 0; i < 3; i++ {
		_, err := svc.Record(t.Context(), MovementInput{ProductID: 1, Kind: KindInbound, Qty: 1})
		require.NoError(t, err)
	}

	req := asIdentity(httptest.NewRequest(http.MethodGet, "/stock/movements?product_id=1&per_page=2&kind=INBOUND", nil), shared.Identity{UserID: 4, Role: shared.RoleUser})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var page MovementPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, 3, page.Pagination.Total)

	req = asIdentity(httptest.NewRequest(http.MethodGet, "/stock/movements?start=yesterday", nil), admin)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestLowStockEndpoint(t *testing.T) {
	router := newTestRouter(NewService(newMemoryRepo(rice(1)), ServiceOptions{}))
	req := asIdentity(httptest.NewRequest(http.MethodGet, "/stock/low", nil), admin)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp LowStockResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
}

func serve(router http.Handler, method, target, body string, id shared.Identity) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, asIdentity(httptest.NewRequest(method, target, bytes.NewBufferString(body)), id))
	return rr
}

func TestProductCatalogEndpoints(t *testing.T) {
	repo := newMemoryRepo(rice(5))
	audit := &recordingAudit{}
	router := newTestRouter(NewService(repo, ServiceOptions{Audit: audit}))
	user := shared.Identity{UserID: 2, Role: shared.RoleUser}

	rr := serve(router, http.MethodPost, "/stock/products", `{"name":"Feijão","unit":"kg","price":"8.90","initial_stock":4,"low_stock_threshold":1}`, admin)
	require.Equal(t, http.StatusCreated, rr.Code)
	var created Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, int64(2), created.ID)
	require.Equal(t, 4, created.StockQty)
	require.True(t, created.IsActive)

	rr = serve(router, http.MethodPut, "/stock/products/2", `{"price":"9.10","unit":"pct"}`, admin)
	require.Equal(t, http.StatusOK, rr.Code)
	var updated Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	require.Equal(t, "9.1", updated.Price.String())
	require.Equal(t, "pct", updated.Unit)
	require.Equal(t, "Feijão", updated.Name)

	rr = serve(router, http.MethodPatch, "/stock/products/2/toggle-active", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	require.False(t, repo.products[2].IsActive)

	rr = serve(router, http.MethodPost, "/stock/products/1/duplicate", "", admin)
	require.Equal(t, http.StatusCreated, rr.Code)
	var dup Product
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dup))
	require.Equal(t, "Arroz (copy)", dup.Name)
	require.Zero(t, dup.StockQty)

	actions := make([]string, 0, len(audit.logs))
	for _, log := range audit.logs {
		require.Equal(t, admin.UserID, log.ActorID)
		require.Equal(t, "product", log.Entity)
		actions = append(actions, log.Action)
	}
	require.Equal(t, []string{"product:create", "product:update", "product:toggle_active", "product:duplicate"}, actions)

	// Members see active products only, even when asking for the rest.
	rr = serve(router, http.MethodGet, "/stock/products?include_inactive=true", "", user)
	require.Equal(t, http.StatusOK, rr.Code)
	var page ProductPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, 50, page.Pagination.PerPage)

	rr = serve(router, http.MethodGet, "/stock/products?include_inactive=true&search=fei&limit=500", "", admin)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	require.Equal(t, 100, page.Pagination.PerPage)

	require.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/stock/products/2", "", user).Code)
	require.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/stock/products/2", "", admin).Code)
}

func TestProductCatalogEndpointErrors(t *testing.T) {
	router := newTestRouter(NewService(newMemoryRepo(rice(5)), ServiceOptions{}))
	user := shared.Identity{UserID: 2, Role: shared.RoleUser}
	cases := []struct {
		name   string
		method string
		target string
		body   string
		id     shared.Identity
		status int
		code   string
	}{
		{"create as member", http.MethodPost, "/stock/products", `{"name":"Sal","unit":"kg"}`, user, http.StatusForbidden, httpx.CodeForbidden},
		{"update as member", http.MethodPut, "/stock/products/1", `{"name":"Sal"}`, user, http.StatusForbidden, httpx.CodeForbidden},
		{"toggle as member", http.MethodPatch, "/stock/products/1/toggle-active", "", user, http.StatusForbidden, httpx.CodeForbidden},
		{"duplicate as member", http.MethodPost, "/stock/products/1/duplicate", "", user, http.StatusForbidden, httpx.CodeForbidden},
		{"missing name", http.MethodPost, "/stock/products", `{"unit":"kg"}`, admin, http.StatusBadRequest, httpx.CodeValidation},
		{"stock above int32", http.MethodPost, "/stock/products", `{"name":"Sal","unit":"kg","initial_stock":3000000000}`, admin, http.StatusBadRequest, httpx.CodeValidation},
		{"price too large", http.MethodPost, "/stock/products", `{"name":"Sal","unit":"kg","price":"10000000000"}`, admin, http.StatusBadRequest, httpx.CodeValidation},
		{"negative price", http.MethodPut, "/stock/products/1", `{"price":"-1"}`, admin, http.StatusBadRequest, httpx.CodeValidation},
		{"update unknown", http.MethodPut, "/stock/products/9", `{"name":"Sal"}`, admin, http.StatusNotFound, httpx.CodeProductNotFound},
		{"toggle unknown", http.MethodPatch, "/stock/products/9/toggle-active", "", admin, http.StatusNotFound, httpx.CodeProductNotFound},
		{"duplicate unknown", http.MethodPost, "/stock/products/9/duplicate", "", admin, http.StatusNotFound, httpx.CodeProductNotFound},
		{"bad id", http.MethodPut, "/stock/products/abc", `{"name":"Sal"}`, admin, http.StatusBadRequest, httpx.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := serve(router, tc.method, tc.target, tc.body, tc.id)
			require.Equal(t, tc.status, rr.Code)

			var problem httpx.ProblemDetail
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
			require.Equal(t, tc.code, problem.Code)
		})
	}
}
