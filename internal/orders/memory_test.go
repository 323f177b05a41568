package orders

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
)

// memoryStore serializes transactions with a mutex, which is the observable effect of the
// product row locks taken by the PostgreSQL repository.
type memoryStore struct {
	mu        sync.Mutex
	products  map[int64]stock.Product
	movements []stock.Movement
	orders    map[int64]Order
	churches  map[int64]bool

	nextOrder    int64
	nextItem     int64
	nextMovement int64

	// failMovementAt fails the n-th movement insert (1-based) of a transaction.
	failMovementAt int
	txMovements    int

	// calls lists transactional repository calls in the order they were made.
	calls []string
}

func newMemoryStore(products ...stock.Product) *memoryStore {
	s := &memoryStore{
		products: make(map[int64]stock.Product),
		orders:   make(map[int64]Order),
		churches: map[int64]bool{1: true},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func product(id int64, name string, stockQty int, price string) stock.Product {
	return stock.Product{
		ID: id, Name: name, Unit: "un", Price: decimal.RequireFromString(price),
		InitialStock: stockQty, StockQty: stockQty, IsActive: true,
	}
}

func cloneOrders(in map[int64]Order) map[int64]Order {
	out := make(map[int64]Order, len(in))
	for id, o := range in {
		o.Items = slices.Clone(o.Items)
		out[id] = o
	}
	return out
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	products := maps.Clone(s.products)
	movements := slices.Clone(s.movements)
	orders := cloneOrders(s.orders)
	s.txMovements = 0
	if err := fn(ctx, &memoryTx{store: s}); err != nil {
		s.products, s.movements, s.orders = products, movements, orders
		return err
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, id int64) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (s *memoryStore) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []Order
	for _, o := range s.orders {
		if filter.RequesterID != 0 && o.RequesterID != filter.RequesterID {
			continue
		}
		if filter.ChurchID != 0 && o.ChurchID != filter.ChurchID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		matched = append(matched, o)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	start := min(shared.Offset(page, perPage), len(matched))
	end := min(start+perPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (s *memoryStore) stockOf(id int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].StockQty
}

func (s *memoryStore) resetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *memoryStore) callLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *memoryStore) movementsFor(orderID int64) []stock.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []stock.Movement
	for _, m := range s.movements {
		if m.RelatedOrderID != nil && *m.RelatedOrderID == orderID {
			out = append(out, m)
		}
	}
	return out
}

type memoryTx struct {
	store *memoryStore
}

func (t *memoryTx) Ledger() stock.TxRepository { return t }

func (t *memoryTx) ChurchExists(ctx context.Context, id int64) (bool, error) {
	t.store.calls = append(t.store.calls, "ChurchExists")
	return t.store.churches[id], nil
}

func (t *memoryTx) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	t.store.calls = append(t.store.calls, "GetForUpdate")
	o, ok := t.store.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	o.Items = slices.Clone(o.Items)
	return o, nil
}

func (t *memoryTx) InsertOrder(ctx context.Context, o Order) (Order, error) {
	t.store.nextOrder++
	o.ID = t.store.nextOrder
	t.store.orders[o.ID] = o
	return o, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) (Item, error) {
	o, ok := t.store.orders[item.OrderID]
	if !ok {
		return Item{}, ErrNotFound
	}
	t.store.nextItem++
	item.ID = t.store.nextItem
	o.SetItems(append(o.Items, item))
	t.store.orders[o.ID] = o
	return item, nil
}

func (t *memoryTx) DeleteItems(ctx context.Context, orderID int64) error {
	o := t.store.orders[orderID]
	o.SetItems(nil)
	t.store.orders[orderID] = o
	return nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, o Order) error {
	t.store.calls = append(t.store.calls, "UpdateStatus")
	cur, ok := t.store.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	cur.Status, cur.ApprovedAt, cur.DeliveredAt = o.Status, o.ApprovedAt, o.DeliveredAt
	t.store.orders[o.ID] = cur
	return nil
}

func (t *memoryTx) UpdateSignature(ctx context.Context, o Order) error {
	cur, ok := t.store.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	cur.SignedBy, cur.SignedAt = o.SignedBy, o.SignedAt
	t.store.orders[o.ID] = cur
	return nil
}

func (t *memoryTx) GetProductForUpdate(ctx context.Context, id int64) (stock.Product, error) {
	t.store.calls = append(t.store.calls, "GetProductForUpdate")
	p, ok := t.store.products[id]
	if !ok {
		return stock.Product{}, stock.ErrProductNotFound
	}
	return p, nil
}

func (t *memoryTx) LockProducts(ctx context.Context, ids []int64) (map[int64]stock.Product, error) {
	t.store.calls = append(t.store.calls, "LockProducts")
	out := make(map[int64]stock.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.store.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (t *memoryTx) UpdateStockQty(ctx context.Context, productID int64, qty int) error {
	t.store.calls = append(t.store.calls, "UpdateStockQty")
	p := t.store.products[productID]
	p.StockQty = qty
	t.store.products[productID] = p
	return nil
}

func (t *memoryTx) InsertMovement(ctx context.Context, m stock.Movement) (stock.Movement, error) {
	t.store.calls = append(t.store.calls, "InsertMovement")
	t.store.txMovements++
	if t.store.failMovementAt != 0 && t.store.txMovements == t.store.failMovementAt {
		return stock.Movement{}, errors.New("disk full")
	}
	t.store.nextMovement++
	m.ID = t.store.nextMovement
	t.store.movements = append(t.store.movements, m)
	return m, nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type stubLocker struct {
	err      error
	released int
}

func (l *stubLocker) Obtain(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	return func(context.Context) error {
		l.released++
		return nil
	}, nil
}
