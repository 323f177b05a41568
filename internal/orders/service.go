package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/supplyledger/internal/events"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
}

// Ledger is the stock ledger as seen by the workflow; satisfied by *stock.Service.
type Ledger interface {
	RecordTx(ctx context.Context, tx stock.TxRepository, input stock.MovementInput) (stock.Posting, error)
	Committed(ctx context.Context, postings ...stock.Posting)
}

// MetricsPort counts workflow transitions.
type MetricsPort interface {
	ObserveTransition(transition, outcome string)
}

// Options groups optional collaborators. Nil members are skipped.
type Options struct {
	Audit   shared.AuditPort
	Events  events.Publisher
	Locker  Locker
	LockTTL time.Duration
	Tracer  trace.Tracer
	Metrics MetricsPort
	Logger  *slog.Logger
	Now     func() time.Time
}

// Service coordinates the order workflow. Every mutating call is one transaction.
type Service struct {
	repo    RepositoryPort
	ledger  Ledger
	audit   shared.AuditPort
	events  events.Publisher
	locker  Locker
	lockTTL time.Duration
	tracer  trace.Tracer
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, ledger Ledger, opts Options) *Service {
	s := &Service{
		repo:    repo,
		ledger:  ledger,
		audit:   opts.Audit,
		events:  opts.Events,
		locker:  opts.Locker,
		lockTTL: opts.LockTTL,
		tracer:  opts.Tracer,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.audit == nil {
		s.audit = shared.NopAudit{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.lockTTL <= 0 {
		s.lockTTL = 30 * time.Second
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("github.com/odyssey-erp/supplyledger/internal/orders")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Create validates lines against current stock and persists a PENDING order.
// No stock is reserved.
func (s *Service) Create(ctx context.Context, requesterID, churchID int64, lines []LineInput) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Create", trace.WithAttributes(
		attribute.Int64("church.id", churchID),
		attribute.Int("order.items", len(lines)),
	))
	defer span.End()

	if requesterID <= 0 || churchID <= 0 {
		return Order{}, s.fail(span, "create", fmt.Errorf("%w: requester and church required", ErrInvalidOrder))
	}
	if err := ValidateLines(lines); err != nil {
		return Order{}, s.fail(span, "create", err)
	}

	var created Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.ChurchExists(ctx, churchID)
		if err != nil {
			return fmt.Errorf("check church: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: church %d not found", ErrInvalidOrder, churchID)
		}
		products, err := tx.Ledger().LockProducts(ctx, ProductIDs(lines))
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		if err := checkDemand(Demand(lines), products); err != nil {
			return err
		}
		if err := checkSubtotals(lines, products); err != nil {
			return err
		}

		order, err := tx.InsertOrder(ctx, Order{
			RequesterID: requesterID,
			ChurchID:    churchID,
			Status:      StatusPending,
			CreatedAt:   s.now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		items, err := insertItems(ctx, tx, buildItems(order.ID, lines, products))
		if err != nil {
			return err
		}
		order.SetItems(items)
		created = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(span, "create", err)
	}

	span.SetAttributes(attribute.Int64("order.id", created.ID))
	s.committed(ctx, "create", events.OrderCreated, requesterID, created)
	return created, nil
}

// Update replaces the item list of a PENDING order. Nil lines leave the order untouched.
func (s *Service) Update(ctx context.Context, actorID, orderID int64, lines []LineInput) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Update", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int("order.items", len(lines)),
	))
	defer span.End()

	if lines == nil {
		o, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return Order{}, s.fail(span, "update", err)
		}
		if !o.Status.CanEdit() {
			return Order{}, s.fail(span, "update", fmt.Errorf("%w: order %d is %s", ErrNotPending, o.ID, o.Status))
		}
		return o, nil
	}
	if err := ValidateLines(lines); err != nil {
		return Order{}, s.fail(span, "update", err)
	}

	var updated Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanEdit() {
			return fmt.Errorf("%w: order %d is %s", ErrNotPending, order.ID, order.Status)
		}
		products, err := tx.Ledger().LockProducts(ctx, ProductIDs(lines))
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		if err := checkDemand(Demand(lines), products); err != nil {
			return err
		}
		if err := checkSubtotals(lines, products); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, order.ID); err != nil {
			return fmt.Errorf("delete items: %w", err)
		}
		items, err := insertItems(ctx, tx, buildItems(order.ID, lines, products))
		if err != nil {
			return err
		}
		order.SetItems(items)
		updated = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(span, "update", err)
	}

	s.committed(ctx, "update", events.OrderUpdated, actorID, updated)
	return updated, nil
}

// Approve re-validates stock under product row locks, posts one OUTBOUND_ORDER movement per
// item and marks the order APPROVED, all in one transaction.
func (s *Service) Approve(ctx context.Context, actorID, orderID int64) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Approve", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	release, err := s.obtainLock(ctx, shared.ApprovalLockKey(orderID))
	if err != nil {
		return Order{}, s.fail(span, "approve", err)
	}
	defer release()

	var (
		approved Order
		postings []stock.Posting
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		postings = nil
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.CanApprove() {
			return fmt.Errorf("%w: order %d is %s", ErrNotPending, order.ID, order.Status)
		}
		ok, err := tx.ChurchExists(ctx, order.ChurchID)
		if err != nil {
			return fmt.Errorf("check church: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: church %d not found", ErrInvalidOrder, order.ChurchID)
		}

		lines := make([]LineInput, 0, len(order.Items))
		for _, it := range order.Items {
			lines = append(lines, LineInput{ProductID: it.ProductID, Qty: it.Qty})
		}
		ledgerTx := tx.Ledger()
		products, err := ledgerTx.LockProducts(ctx, ProductIDs(lines))
		if err != nil {
			return fmt.Errorf("lock products: %w", err)
		}
		if err := checkStock(Demand(lines), products); err != nil {
			return err
		}

		relatedID := order.ID
		for _, it := range order.Items {
			posting, err := s.ledger.RecordTx(ctx, ledgerTx, stock.MovementInput{
				ProductID:      it.ProductID,
				Kind:           stock.KindOutboundOrder,
				Qty:            it.Qty,
				Note:           "Order #" + strconv.FormatInt(order.ID, 10),
				RelatedOrderID: &relatedID,
				ActorID:        actorID,
			})
			if err != nil {
				return fmt.Errorf("record movement for product %d: %w", it.ProductID, err)
			}
			postings = append(postings, posting)
		}

		if err := order.Approve(s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, order); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		approved = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(span, "approve", err)
	}

	span.SetAttributes(attribute.Int("order.movements", len(postings)))
	s.ledger.Committed(ctx, postings...)
	s.committed(ctx, "approve", events.OrderApproved, actorID, approved)
	return approved, nil
}

// Deliver marks an APPROVED order as DELIVERED. Stock is unaffected.
func (s *Service) Deliver(ctx context.Context, actorID, orderID int64) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Deliver", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	var delivered Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.Deliver(s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, order); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		delivered = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(span, "deliver", err)
	}

	s.committed(ctx, "deliver", events.OrderDelivered, actorID, delivered)
	return delivered, nil
}

// Sign records signerID as the signer of the order, in any state. actorID is the caller and
// differs from signerID when an administrator signs on someone's behalf.
func (s *Service) Sign(ctx context.Context, actorID, orderID, signerID int64) (Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.Sign", trace.WithAttributes(
		attribute.Int64("order.id", orderID),
		attribute.Int64("order.signer", signerID),
		attribute.Int64("order.actor", actorID),
	))
	defer span.End()

	var signed Order
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.Sign(signerID, s.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateSignature(ctx, order); err != nil {
			return fmt.Errorf("update signature: %w", err)
		}
		signed = order
		return nil
	})
	if err != nil {
		return Order{}, s.fail(span, "sign", err)
	}

	s.committed(ctx, "sign", events.OrderSigned, actorID, signed)
	return signed, nil
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id int64) (Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns a page of orders, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) (OrderPage, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return OrderPage{}, fmt.Errorf("%w: unknown status %q", shared.ErrValidation, filter.Status)
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return OrderPage{}, err
	}
	if items == nil {
		items = []Order{}
	}
	return OrderPage{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

func insertItems(ctx context.Context, tx TxRepository, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		saved, err := tx.InsertItem(ctx, it)
		if err != nil {
			return nil, fmt.Errorf("insert item: %w", err)
		}
		out = append(out, saved)
	}
	return out, nil
}

// obtainLock takes the cross-replica approval lock. Lock backend failures are logged and
// ignored; database row locks stay authoritative.
func (s *Service) obtainLock(ctx context.Context, key string) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	release, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if errors.Is(err, ErrBusy) {
		return noop, err
	}
	if err != nil {
		s.logger.Warn("approval lock unavailable, relying on row locks", slog.String("key", key), slog.Any("error", err))
		return noop, nil
	}
	return func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release approval lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

func (s *Service) fail(span trace.Span, transition string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if s.metrics != nil {
		s.metrics.ObserveTransition(transition, outcome(err))
	}
	return err
}

func outcome(err error) string {
	switch {
	case errors.Is(err, shared.ErrStorageUnavailable):
		return "unavailable"
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrNotPending), errors.Is(err, ErrNotApproved):
		return "conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "rejected"
	}
}

// committed runs post-commit side effects. The unit of work is durable, so failures are logged only.
func (s *Service) committed(ctx context.Context, transition, eventType string, actorID int64, o Order) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(transition, "ok")
	}
	id := strconv.FormatInt(o.ID, 10)
	meta := map[string]any{
		"status":    o.Status,
		"church_id": o.ChurchID,
		"items":     len(o.Items),
		"total":     o.Total.StringFixed(2),
	}
	if o.SignedBy != nil {
		meta["signed_by"] = *o.SignedBy
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   "order:" + transition,
		Entity:   "order",
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit order transition", slog.String("transition", transition), slog.Int64("order_id", o.ID), slog.Any("error", err))
	}
	if err := s.events.Publish(ctx, events.New(eventType, id, actorID, s.now(), o)); err != nil {
		s.logger.Warn("publish order event", slog.String("type", eventType), slog.Int64("order_id", o.ID), slog.Any("error", err))
	}
	s.logger.Info("order transition", slog.String("transition", transition), slog.Int64("order_id", o.ID), slog.String("status", string(o.Status)))
}
