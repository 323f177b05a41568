package orders

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

// Handler exposes the order workflow over HTTP.
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

// MountRoutes registers routes under /orders. Callers must already be authenticated.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Put("/", h.update)
		r.Put("/sign", h.sign)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Put("/approve", h.approve)
			r.Put("/deliver", h.deliver)
		})
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	var req CreateOrderRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	if !id.IsAdmin() && len(id.ChurchIDs) > 0 && !id.BelongsTo(req.ChurchID) {
		h.respond(w, r, fmt.Errorf("%w: church %d", shared.ErrForbidden, req.ChurchID))
		return
	}
	order, err := h.service.Create(r.Context(), id.UserID, req.ChurchID, req.Items)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var (
		filter ListFilter
		err    error
	)
	if filter.RequesterID, err = httpx.QueryInt64(r, "requester_id"); err != nil {
		h.respond(w, r, err)
		return
	}
	if filter.ChurchID, err = httpx.QueryInt64(r, "church_id"); err != nil {
		h.respond(w, r, err)
		return
	}
	if filter.Page, err = httpx.QueryInt(r, "page"); err != nil {
		h.respond(w, r, err)
		return
	}
	if filter.PerPage, err = httpx.QueryInt(r, "per_page"); err != nil {
		h.respond(w, r, err)
		return
	}
	filter.Status = Status(r.URL.Query().Get("status"))
	if id := identity(r); !id.IsAdmin() {
		filter.RequesterID = id.UserID
	}
	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	order, err := h.visibleOrder(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	current, err := h.visibleOrder(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	var req UpdateOrderRequest
	if err := httpx.Bind(r, h.validate, &req); err != nil {
		h.respond(w, r, err)
		return
	}
	order, err := h.service.Update(r.Context(), identity(r).UserID, current.ID, req.Items)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathInt64(chi.URLParam(r, "id"), "order id")
	if err != nil {
		h.respond(w, r, err)
		return
	}
	order, err := h.service.Approve(r.Context(), identity(r).UserID, orderID)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.PathInt64(chi.URLParam(r, "id"), "order id")
	if err != nil {
		h.respond(w, r, err)
		return
	}
	order, err := h.service.Deliver(r.Context(), identity(r).UserID, orderID)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) sign(w http.ResponseWriter, r *http.Request) {
	current, err := h.visibleOrder(r)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	id := identity(r)
	signer := id.UserID
	if r.ContentLength != 0 {
		var req SignOrderRequest
		if err := httpx.Bind(r, h.validate, &req); err != nil {
			h.respond(w, r, err)
			return
		}
		if req.SignerID != 0 && req.SignerID != id.UserID {
			if !id.IsAdmin() {
				h.respond(w, r, fmt.Errorf("%w: only administrators sign on behalf of others", shared.ErrForbidden))
				return
			}
			signer = req.SignerID
		}
	}
	order, err := h.service.Sign(r.Context(), id.UserID, current.ID, signer)
	if err != nil {
		h.respond(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

// visibleOrder loads the order named in the path. Orders of other requesters are reported as
// missing to non-admin callers.
func (h *Handler) visibleOrder(r *http.Request) (Order, error) {
	orderID, err := httpx.PathInt64(chi.URLParam(r, "id"), "order id")
	if err != nil {
		return Order{}, err
	}
	order, err := h.service.Get(r.Context(), orderID)
	if err != nil {
		return Order{}, err
	}
	if id := identity(r); !id.IsAdmin() && order.RequesterID != id.UserID {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	return order, nil
}

func identity(r *http.Request) shared.Identity {
	id, _ := shared.IdentityFromContext(r.Context())
	return id
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, err error) {
	status, _, _ := httpx.Classify(err)
	if status >= http.StatusInternalServerError && !errors.Is(err, shared.ErrBusy) {
		h.logger.Error("order request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
