package stock

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/supplyledger/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	products  map[int64]Product
	movements []Movement
	nextID    int64
	failTx    error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(products ...Product) *memoryRepo {
	r := &memoryRepo{products: make(map[int64]Product)}
	for _, p := range products {
		r.products[p.ID] = p
	}
	return r
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make(map[int64]Product, len(r.products))
	for id, p := range r.products {
		products[id] = p
	}
	movements := slices.Clone(r.movements)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products, r.movements = products, movements
		return err
	}
	if r.failTx != nil {
		r.products, r.movements = products, movements
		return r.failTx
	}
	return nil
}

func (r *memoryRepo) GetProduct(ctx context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Movement
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.Kind != "" && m.Kind != filter.Kind {
			continue
		}
		matched = append(matched, m)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	start := min(shared.Offset(page, perPage), len(matched))
	end := min(start+perPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Product
	for _, p := range r.products {
		if p.IsActive && p.IsLowStock() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryRepo) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Discrepancy
	for _, p := range r.products {
		expected := p.InitialStock
		for _, m := range r.movements {
			if m.ProductID == p.ID {
				expected += m.Delta()
			}
		}
		if expected != p.StockQty {
			out = append(out, Discrepancy{ProductID: p.ID, Name: p.Name, StockQty: p.StockQty, Expected: expected})
		}
	}
	return out, nil
}

func (r *memoryRepo) InsertProduct(ctx context.Context, input ProductInput) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var id int64
	for existing := range r.products {
		id = max(id, existing)
	}
	id++
	p := Product{
		ID: id, Name: input.Name, Unit: input.Unit, Price: input.Price,
		InitialStock: input.InitialStock, StockQty: input.InitialStock,
		LowStockThreshold: input.LowStockThreshold, IsActive: !input.Inactive, CreatedAt: time.Now(),
	}
	r.products[id] = p
	return p, nil
}

func (r *memoryRepo) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Product
	for _, p := range r.products {
		if !filter.IncludeInactive && !p.IsActive {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Search)) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Name != matched[j].Name {
			return matched[i].Name < matched[j].Name
		}
		return matched[i].ID < matched[j].ID
	})
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	start := min(shared.Offset(page, perPage), len(matched))
	end := min(start+perPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepo) UpdateProduct(ctx context.Context, id int64, apply func(*Product) error) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	stockQty, initial := p.StockQty, p.InitialStock
	if err := apply(&p); err != nil {
		return Product{}, err
	}
	p.StockQty, p.InitialStock = stockQty, initial
	r.products[id] = p
	return p, nil
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	out := make(map[int64]Product, len(ids))
	for _, id := range ids {
		if p, ok := tx.repo.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (tx *memoryTx) UpdateStockQty(ctx context.Context, productID int64, qty int) error {
	p, ok := tx.repo.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.StockQty = qty
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.movements = append(tx.repo.movements, m)
	return m, nil
}

type memoryIdempotency struct {
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[module+":"+key] {
		return shared.ErrDuplicate
	}
	m.keys[module+":"+key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key, module string) error {
	delete(m.keys, module+":"+key)
	return nil
}

type recordingNotifier struct {
	products []Product
}

func (n *recordingNotifier) NotifyLowStock(ctx context.Context, p Product) error {
	n.products = append(n.products, p)
	return nil
}

type countingMetrics struct {
	kinds map[string]int
}

func (m *countingMetrics) ObserveMovement(kind string) {
	if m.kinds == nil {
		m.kinds = make(map[string]int)
	}
	m.kinds[kind]++
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}
