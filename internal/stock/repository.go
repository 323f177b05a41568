package stock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/supplyledger/internal/platform/db"
	"github.com/odyssey-erp/supplyledger/internal/shared"
)

// TxRepository exposes the row-locking operations used inside a unit of work.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	UpdateStockQty(ctx context.Context, productID int64, qty int) error
	InsertMovement(ctx context.Context, m Movement) (Movement, error)
}

// Repository persists products and ledger entries in PostgreSQL.
type Repository struct {
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// WithTx executes fn inside a repeatable-read transaction with conflict retries.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

// NewTxRepository binds ledger operations to a caller-owned transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepo{tx: tx}
}

type txRepo struct {
	tx pgx.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, unit, price, initial_stock, stock_qty, low_stock_threshold, is_active, created_at`

const movementColumns = `id, product_id, kind, qty, note, related_order_id, balance_after, actor_id, created_at`

func scanProduct(row scanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Unit, &p.Price, &p.InitialStock, &p.StockQty, &p.LowStockThreshold, &p.IsActive, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

func scanMovement(row scanner) (Movement, error) {
	var (
		m    Movement
		kind string
		note *string
	)
	if err := row.Scan(&m.ID, &m.ProductID, &kind, &m.Qty, &note, &m.RelatedOrderID, &m.BalanceAfter, &m.ActorID, &m.CreatedAt); err != nil {
		return Movement{}, err
	}
	m.Kind = MovementKind(kind)
	if note != nil {
		m.Note = *note
	}
	return m, nil
}

func (r *txRepo) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return scanProduct(row)
}

// LockProducts locks rows in ascending id order so concurrent approvals cannot deadlock.
func (r *txRepo) LockProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	rows, err := r.tx.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, sorted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locked := make(map[int64]Product, len(sorted))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		locked[p.ID] = p
	}
	return locked, rows.Err()
}

func (r *txRepo) UpdateStockQty(ctx context.Context, productID int64, qty int) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock_qty = $2 WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	var note *string
	if m.Note != "" {
		note = &m.Note
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, kind, qty, note, related_order_id, balance_after, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`, m.ProductID, string(m.Kind), m.Qty, note, m.RelatedOrderID, m.BalanceAfter, m.ActorID, m.CreatedAt).Scan(&m.ID)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// GetProduct loads a product regardless of its active flag.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()
	p, err := scanProduct(r.runner.Pool().QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, db.Classify(err)
}

// ListMovements returns one page of movements newest first and the total match count.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()

	where, args := movementWhere(filter)
	pool := r.runner.Pool()

	var total int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_movements`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	query := fmt.Sprintf(`SELECT %s FROM stock_movements%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		movementColumns, where, len(args)-1, len(args))
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	items := make([]Movement, 0, perPage)
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, 0, db.Classify(err)
		}
		items = append(items, m)
	}
	return items, total, db.Classify(rows.Err())
}

func movementWhere(filter MovementFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.ProductID != 0 {
		add("product_id = $%d", filter.ProductID)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListLowStock returns active products at or below their threshold.
func (r *Repository) ListLowStock(ctx context.Context) ([]Product, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()
	rows, err := r.runner.Pool().Query(ctx, `SELECT `+productColumns+` FROM products
WHERE is_active AND stock_qty <= low_stock_threshold
ORDER BY stock_qty ASC, id ASC`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, db.Classify(err)
		}
		products = append(products, p)
	}
	return products, db.Classify(rows.Err())
}

// Reconcile lists products whose stock_qty differs from initial_stock plus the signed ledger sum.
func (r *Repository) Reconcile(ctx context.Context) ([]Discrepancy, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()
	rows, err := r.runner.Pool().Query(ctx, `
SELECT p.id, p.name, p.stock_qty, p.initial_stock + COALESCE(SUM(CASE WHEN m.kind = 'INBOUND' THEN m.qty ELSE -m.qty END), 0) AS expected
FROM products p
LEFT JOIN stock_movements m ON m.product_id = p.id
GROUP BY p.id
HAVING p.stock_qty <> p.initial_stock + COALESCE(SUM(CASE WHEN m.kind = 'INBOUND' THEN m.qty ELSE -m.qty END), 0)
ORDER BY p.id`)
	if err != nil {
		return nil, db.Classify(err)
	}
	defer rows.Close()

	var out []Discrepancy
	for rows.Next() {
		var d Discrepancy
		if err := rows.Scan(&d.ProductID, &d.Name, &d.StockQty, &d.Expected); err != nil {
			return nil, db.Classify(err)
		}
		out = append(out, d)
	}
	return out, db.Classify(rows.Err())
}

// InsertProduct registers a product; initial stock seeds both initial_stock and stock_qty.
func (r *Repository) InsertProduct(ctx context.Context, input ProductInput) (Product, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()
	row := r.runner.Pool().QueryRow(ctx, `INSERT INTO products (name, unit, price, initial_stock, stock_qty, low_stock_threshold, is_active)
VALUES ($1, $2, $3, $4, $4, $5, NOT $6)
RETURNING `+productColumns, input.Name, input.Unit, input.Price, input.InitialStock, input.LowStockThreshold, input.Inactive)
	p, err := scanProduct(row)
	return p, db.Classify(err)
}

// ListProducts returns one page of products ordered by name and the total match count.
func (r *Repository) ListProducts(ctx context.Context, filter ProductFilter) ([]Product, int, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()

	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeInactive {
		clauses = append(clauses, "is_active")
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		clauses = append(clauses, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	pool := r.runner.Pool()

	var total int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY name ASC, id ASC LIMIT $%d OFFSET $%d`,
		productColumns, where, len(args)-1, len(args))
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	defer rows.Close()

	items := make([]Product, 0, perPage)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, db.Classify(err)
		}
		items = append(items, p)
	}
	return items, total, db.Classify(rows.Err())
}

// UpdateProduct locks the product row, lets apply edit it, and writes the catalog columns back.
// Stock columns are owned by the ledger and never written here.
func (r *Repository) UpdateProduct(ctx context.Context, id int64, apply func(*Product) error) (Product, error) {
	var updated Product
	err := r.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		p, err := scanProduct(tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if err := apply(&p); err != nil {
			return err
		}
		updated, err = scanProduct(tx.QueryRow(ctx, `UPDATE products
SET name = $2, unit = $3, price = $4, low_stock_threshold = $5, is_active = $6
WHERE id = $1
RETURNING `+productColumns, p.ID, p.Name, p.Unit, p.Price, p.LowStockThreshold, p.IsActive))
		return err
	})
	if err != nil {
		return Product{}, db.Classify(err)
	}
	return updated, nil
}
