package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/supplyledger/internal/platform/db"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

const idempotencyModule = "stock"

const (
	productPageSize    = 50
	maxProductPageSize = 100
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error)
	ListLowStock(ctx context.Context) ([]Product, error)
	Reconcile(ctx context.Context) ([]Discrepancy, error)
	InsertProduct(ctx context.Context, input ProductInput) (Product, error)
	ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error)
	UpdateProduct(ctx context.Context, id int64, apply func(*Product) error) (Product, error)
}

// IdempotencyGuard claims request keys; satisfied by db.IdempotencyStore.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// LowStockNotifier is told about products that reached their alert threshold.
type LowStockNotifier interface {
	NotifyLowStock(ctx context.Context, product Product) error
}

// MetricsPort counts committed movements.
type MetricsPort interface {
	ObserveMovement(kind string)
}

// ServiceOptions groups optional collaborators. Nil members are skipped.
type ServiceOptions struct {
	Idempotency IdempotencyGuard
	Cache       *MovementCache
	Notifier    LowStockNotifier
	Metrics     MetricsPort
	Audit       shared.AuditPort
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service is the ledger store and product inventory.
type Service struct {
	repo     RepositoryPort
	idem     IdempotencyGuard
	cache    *MovementCache
	notifier LowStockNotifier
	metrics  MetricsPort
	audit    shared.AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, opts ServiceOptions) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     repo,
		idem:     opts.Idempotency,
		cache:    opts.Cache,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		audit:    opts.Audit,
		logger:   logger,
		now:      now,
	}
}

// Record appends one movement in its own transaction and updates the product projection.
func (s *Service) Record(ctx context.Context, input MovementInput) (Movement, error) {
	if err := validateMovement(input); err != nil {
		return Movement{}, err
	}
	claimed := false
	if input.IdempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, input.IdempotencyKey, idempotencyModule); err != nil {
			return Movement{}, db.Classify(err)
		}
		claimed = true
	}

	var posting Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := s.RecordTx(ctx, tx, input)
		if err != nil {
			return err
		}
		posting = p
		return nil
	})
	if err != nil {
		if claimed {
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), input.IdempotencyKey, idempotencyModule); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", input.IdempotencyKey), slog.Any("error", delErr))
			}
		}
		return Movement{}, err
	}

	s.Committed(ctx, posting)
	s.recordAudit(ctx, input.ActorID, posting.Movement)
	return posting.Movement, nil
}

// RecordTx applies one movement on a caller-owned transaction. The product row is locked
// for the rest of that transaction. Nothing is written when an error is returned.
func (s *Service) RecordTx(ctx context.Context, tx TxRepository, input MovementInput) (Posting, error) {
	if err := validateMovement(input); err != nil {
		return Posting{}, err
	}
	product, err := tx.GetProductForUpdate(ctx, input.ProductID)
	if err != nil {
		return Posting{}, err
	}
	next := int64(product.StockQty) + int64(input.Kind.Delta(input.Qty))
	if next < 0 {
		return Posting{}, fmt.Errorf("%w: product %d has %d %s, movement needs %d",
			ErrInsufficientStock, product.ID, product.StockQty, product.Unit, input.Qty)
	}
	if next > MaxQty {
		return Posting{}, fmt.Errorf("%w: product %d balance would exceed %d", ErrInvalidQuantity, product.ID, MaxQty)
	}
	balance := int(next)
	if err := tx.UpdateStockQty(ctx, product.ID, balance); err != nil {
		return Posting{}, err
	}

	movement := Movement{
		ProductID:      product.ID,
		Kind:           input.Kind,
		Qty:            input.Qty,
		Note:           input.Note,
		RelatedOrderID: input.RelatedOrderID,
		BalanceAfter:   balance,
		CreatedAt:      s.now().UTC(),
	}
	if input.ActorID != 0 {
		actor := input.ActorID
		movement.ActorID = &actor
	}
	movement, err = tx.InsertMovement(ctx, movement)
	if err != nil {
		return Posting{}, err
	}
	product.StockQty = balance
	return Posting{Movement: movement, Product: product}, nil
}

// Committed runs post-commit side effects for postings. Failures are logged only.
func (s *Service) Committed(ctx context.Context, postings ...Posting) {
	if len(postings) == 0 {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump movement cache", slog.Any("error", err))
	}
	for _, p := range postings {
		if s.metrics != nil {
			s.metrics.ObserveMovement(string(p.Movement.Kind))
		}
		if s.notifier == nil || p.Movement.Delta() >= 0 || !p.Product.IsActive || !p.Product.IsLowStock() {
			continue
		}
		if err := s.notifier.NotifyLowStock(ctx, p.Product); err != nil {
			s.logger.Warn("enqueue low stock alert", slog.Int64("product_id", p.Product.ID), slog.Any("error", err))
		}
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, m Movement) {
	if s.audit == nil {
		return
	}
	meta := map[string]any{
		"product_id":    m.ProductID,
		"qty":           m.Qty,
		"balance_after": m.BalanceAfter,
		"note":          m.Note,
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "stock:" + strings.ToLower(string(m.Kind)),
		Entity:   "stock_movement",
		EntityID: strconv.FormatInt(m.ID, 10),
		Meta:     meta,
		At:       m.CreatedAt,
	}); err != nil {
		s.logger.Warn("audit stock movement", slog.Int64("movement_id", m.ID), slog.Any("error", err))
	}
}

func validateMovement(input MovementInput) error {
	if input.Qty <= 0 {
		return ErrInvalidQuantity
	}
	if input.Qty > MaxQty {
		return fmt.Errorf("%w: quantity exceeds %d", ErrInvalidQuantity, MaxQty)
	}
	if input.ProductID <= 0 {
		return ErrProductNotFound
	}
	if !input.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMovement, input.Kind)
	}
	if input.Kind == KindOutboundOrder && input.RelatedOrderID == nil {
		return fmt.Errorf("%w: %s requires a related order", ErrInvalidMovement, KindOutboundOrder)
	}
	if utf8.RuneCountInString(input.Note) > MaxNoteLength {
		return fmt.Errorf("%w: note exceeds %d characters", ErrInvalidMovement, MaxNoteLength)
	}
	return nil
}

// GetActive returns an active product; inactive products are reported as not found.
func (s *Service) GetActive(ctx context.Context, id int64) (Product, error) {
	p, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if !p.IsActive {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

// CheckAvailable reports whether the product is active with at least qty on hand.
func (s *Service) CheckAvailable(ctx context.Context, id int64, qty int) (bool, error) {
	p, err := s.GetActive(ctx, id)
	if errors.Is(err, ErrProductNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.Available(qty), nil
}

// ListMovements returns a page of movements, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) (MovementPage, error) {
	if filter.Kind != "" && !filter.Kind.IsValid() {
		return MovementPage{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidMovement, filter.Kind)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.From.After(filter.To) {
		return MovementPage{}, fmt.Errorf("%w: start after end", shared.ErrValidation)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	return s.cache.FetchPage(ctx, filter, func(ctx context.Context) (MovementPage, error) {
		items, total, err := s.repo.ListMovements(ctx, filter)
		if err != nil {
			return MovementPage{}, err
		}
		return MovementPage{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
	})
}

// ListLowStock returns active products at or below their alert threshold.
func (s *Service) ListLowStock(ctx context.Context) ([]Product, error) {
	return s.repo.ListLowStock(ctx)
}

// RegisterProduct creates a product with its opening stock.
func (s *Service) RegisterProduct(ctx context.Context, input ProductInput) (Product, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Unit = strings.TrimSpace(input.Unit)
	switch {
	case input.Name == "" || input.Unit == "":
		return Product{}, fmt.Errorf("%w: name and unit required", shared.ErrValidation)
	case input.InitialStock < 0 || input.LowStockThreshold < 0:
		return Product{}, fmt.Errorf("%w: stock and threshold must be >= 0", shared.ErrValidation)
	case input.InitialStock > MaxQty || input.LowStockThreshold > MaxQty:
		return Product{}, fmt.Errorf("%w: stock and threshold must be <= %d", shared.ErrValidation, MaxQty)
	}
	if err := validatePrice(input.Price); err != nil {
		return Product{}, err
	}
	return s.repo.InsertProduct(ctx, input)
}

// CreateProduct registers a product on behalf of actorID and audits it.
func (s *Service) CreateProduct(ctx context.Context, actorID int64, input ProductInput) (Product, error) {
	p, err := s.RegisterProduct(ctx, input)
	if err != nil {
		return Product{}, err
	}
	s.auditProduct(ctx, actorID, "product:create", p, map[string]any{"initial_stock": p.InitialStock})
	return p, nil
}

// ListProducts returns a page of products ordered by name. Inactive products are hidden unless
// the filter asks for them.
func (s *Service) ListProducts(ctx context.Context, filter ProductFilter) (ProductPage, error) {
	filter.Search = strings.TrimSpace(filter.Search)
	if filter.PerPage <= 0 {
		filter.PerPage = productPageSize
	}
	filter.PerPage = min(filter.PerPage, maxProductPageSize)
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.ListProducts(ctx, filter)
	if err != nil {
		return ProductPage{}, err
	}
	if items == nil {
		items = []Product{}
	}
	return ProductPage{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// GetProduct returns a product regardless of its active flag.
func (s *Service) GetProduct(ctx context.Context, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// UpdateProduct applies a partial catalog change. Existing orders keep their price snapshot.
func (s *Service) UpdateProduct(ctx context.Context, actorID, id int64, change ProductUpdate) (Product, error) {
	if change.IsEmpty() {
		return s.repo.GetProduct(ctx, id)
	}
	if change.Name != nil {
		trimmed := strings.TrimSpace(*change.Name)
		if trimmed == "" {
			return Product{}, fmt.Errorf("%w: name must not be blank", shared.ErrValidation)
		}
		change.Name = &trimmed
	}
	if change.Unit != nil {
		trimmed := strings.TrimSpace(*change.Unit)
		if trimmed == "" {
			return Product{}, fmt.Errorf("%w: unit must not be blank", shared.ErrValidation)
		}
		change.Unit = &trimmed
	}
	if change.Price != nil {
		if err := validatePrice(*change.Price); err != nil {
			return Product{}, err
		}
	}
	if t := change.LowStockThreshold; t != nil && (*t < 0 || *t > MaxQty) {
		return Product{}, fmt.Errorf("%w: threshold must be between 0 and %d", shared.ErrValidation, MaxQty)
	}

	meta := map[string]any{}
	p, err := s.repo.UpdateProduct(ctx, id, func(p *Product) error {
		if change.Name != nil && *change.Name != p.Name {
			meta["name"] = map[string]any{"from": p.Name, "to": *change.Name}
			p.Name = *change.Name
		}
		if change.Unit != nil && *change.Unit != p.Unit {
			meta["unit"] = map[string]any{"from": p.Unit, "to": *change.Unit}
			p.Unit = *change.Unit
		}
		if change.Price != nil && !change.Price.Equal(p.Price) {
			meta["price"] = map[string]any{"from": p.Price.StringFixed(2), "to": change.Price.StringFixed(2)}
			p.Price = *change.Price
		}
		if change.LowStockThreshold != nil && *change.LowStockThreshold != p.LowStockThreshold {
			meta["low_stock_threshold"] = map[string]any{"from": p.LowStockThreshold, "to": *change.LowStockThreshold}
			p.LowStockThreshold = *change.LowStockThreshold
		}
		if change.IsActive != nil && *change.IsActive != p.IsActive {
			meta["is_active"] = map[string]any{"from": p.IsActive, "to": *change.IsActive}
			p.IsActive = *change.IsActive
		}
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	if len(meta) > 0 {
		s.auditProduct(ctx, actorID, "product:update", p, meta)
	}
	return p, nil
}

// SetActive activates or deactivates a product. Inactive products cannot be ordered.
func (s *Service) SetActive(ctx context.Context, actorID, id int64, active bool) (Product, error) {
	return s.UpdateProduct(ctx, actorID, id, ProductUpdate{IsActive: &active})
}

// ToggleActive flips the active flag of a product.
func (s *Service) ToggleActive(ctx context.Context, actorID, id int64) (Product, error) {
	var toggled bool
	p, err := s.repo.UpdateProduct(ctx, id, func(p *Product) error {
		p.IsActive = !p.IsActive
		toggled = p.IsActive
		return nil
	})
	if err != nil {
		return Product{}, err
	}
	s.auditProduct(ctx, actorID, "product:toggle_active", p, map[string]any{
		"is_active": map[string]any{"from": !toggled, "to": toggled},
	})
	return p, nil
}

// Duplicate copies a catalog entry with no stock. The copy has no ledger history.
func (s *Service) Duplicate(ctx context.Context, actorID, id int64) (Product, error) {
	src, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	dup, err := s.repo.InsertProduct(ctx, ProductInput{
		Name:              src.Name + " (copy)",
		Unit:              src.Unit,
		Price:             src.Price,
		LowStockThreshold: src.LowStockThreshold,
		Inactive:          !src.IsActive,
	})
	if err != nil {
		return Product{}, err
	}
	s.auditProduct(ctx, actorID, "product:duplicate", dup, map[string]any{"source_id": src.ID})
	return dup, nil
}

func validatePrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("%w: price must be >= 0", shared.ErrValidation)
	}
	if price.GreaterThanOrEqual(MaxPrice) {
		return fmt.Errorf("%w: price must be below %s", shared.ErrValidation, MaxPrice.String())
	}
	return nil
}

func (s *Service) auditProduct(ctx context.Context, actorID int64, action string, p Product, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
		At:       s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit product change", slog.Int64("product_id", p.ID), slog.String("action", action), slog.Any("error", err))
	}
}

// Reconcile reports products whose stock_qty no longer equals initial stock plus the ledger sum.
func (s *Service) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	return s.repo.Reconcile(ctx)
}
