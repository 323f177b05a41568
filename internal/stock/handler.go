package stock

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/supplyledger/internal/auth"
	"github.com/odyssey-erp/supplyledger/internal/platform/httpx"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// Handler exposes ledger endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler creates a new handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers routes under /stock. Callers must already be authenticated.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/movements", h.listMovements)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAdmin)
		r.Post("/movements", h.recordMovement)
		r.Get("/low", h.lowStock)
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Post("/", h.createProduct)
			r.Put("/{id}", h.updateProduct)
			r.Patch("/{id}/toggle-active", h.toggleActive)
			r.Post("/{id}/duplicate", h.duplicateProduct)
		})
	})
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req RecordMovementRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	if req.Qty <= 0 {
		h.respond(w, r, ErrInvalidQuantity)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	mv, err := h.service.Record(r.Context(), MovementInput{
		ProductID:      req.ProductID,
		Kind:           MovementKind(req.Kind),
		Qty:            req.Qty,
		Note:           req.Note,
		RelatedOrderID: req.RelatedOrderID,
		ActorID:        id.UserID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mv)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	filter, err := parseMovementFilter(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	page, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func parseMovementFilter(r *http.Request) (MovementFilter, error) {
	var (
		filter MovementFilter
		err    error
	)
	if filter.ProductID, err = httpx.QueryInt64(r, "product_id"); err != nil {
		return filter, err
	}
	if filter.From, err = httpx.QueryTime(r, "start"); err != nil {
		return filter, err
	}
	if filter.To, err = httpx.QueryTime(r, "end"); err != nil {
		return filter, err
	}
	if filter.Page, err = httpx.QueryInt(r, "page"); err != nil {
		return filter, err
	}
	if filter.PerPage, err = httpx.QueryInt(r, "per_page"); err != nil {
		return filter, err
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		filter.Kind = MovementKind(kind)
		if !filter.Kind.IsValid() {
			return filter, fmt.Errorf("%w: unknown kind %q", ErrInvalidMovement, kind)
		}
	}
	return filter, nil
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListLowStock(r.Context())
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if items == nil {
		items = []Product{}
	}
	httpx.JSON(w, http.StatusOK, LowStockResponse{Items: items})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	filter := ProductFilter{Search: r.URL.Query().Get("search")}
	var err error
	if filter.Page, err = httpx.QueryInt(r, "page"); err != nil {
		h.respond(w, r, err)
		return
	}
	if filter.PerPage, err = httpx.QueryInt(r, "limit"); err != nil {
		h.respond(w, r, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	filter.IncludeInactive = id.IsAdmin() && r.URL.Query().Get("include_inactive") == "true"

	page, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

// getProduct hides inactive products from non-admin callers.
func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(chi.URLParam(r, "id"), "product id")
	if err != nil {
		h.respond(w, r, err)
		return
	}
	p, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	if id, _ := shared.IdentityFromContext(r.Context()); !p.IsActive && !id.IsAdmin() {
		h.respond(w, r, ErrProductNotFound)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	p, err := h.service.CreateProduct(r.Context(), id.UserID, ProductInput{
		Name:              req.Name,
		Unit:              req.Unit,
		Price:             req.Price,
		InitialStock:      req.InitialStock,
		LowStockThreshold: req.LowStockThreshold,
		Inactive:          req.IsActive != nil && !*req.IsActive,
	})
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(chi.URLParam(r, "id"), "product id")
	if err != nil {
		h.respond(w, r, err)
		return
	}
	var req UpdateProductRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	p, err := h.service.UpdateProduct(r.Context(), id.UserID, productID, ProductUpdate{
		Name:              req.Name,
		Unit:              req.Unit,
		Price:             req.Price,
		LowStockThreshold: req.LowStockThreshold,
		IsActive:          req.IsActive,
	})
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) toggleActive(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(chi.URLParam(r, "id"), "product id")
	if err != nil {
		h.respond(w, r, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	p, err := h.service.ToggleActive(r.Context(), id.UserID, productID)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) duplicateProduct(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathInt64(chi.URLParam(r, "id"), "product id")
	if err != nil {
		h.respond(w, r, err)
		return
	}
	id, _ := shared.IdentityFromContext(r.Context())
	p, err := h.service.Duplicate(r.Context(), id.UserID, productID)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	status, _, _ := httpx.Classify(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, shared.ErrBusy) {
		h.logger.Error("stock request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
