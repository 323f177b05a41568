package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/supplyledger/internal/platform/db"
	"github.com/odyssey-erp/supplyledger/internal/shared"
	"github.com/odyssey-erp/supplyledger/internal/stock"
)

// Repository persists orders in PostgreSQL.
type Repository struct {
	runner *db.TxRunner
}

// NewRepository constructs Repository.
func NewRepository(runner *db.TxRunner) *Repository {
	return &Repository{runner: runner}
}

// TxRepository exposes the operations used inside one unit of work.
type TxRepository interface {
	ChurchExists(ctx context.Context, id int64) (bool, error)
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	InsertOrder(ctx context.Context, o Order) (Order, error)
	InsertItem(ctx context.Context, item Item) (Item, error)
	DeleteItems(ctx context.Context, orderID int64) error
	UpdateStatus(ctx context.Context, o Order) error
	UpdateSignature(ctx context.Context, o Order) error
	Ledger() stock.TxRepository
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx     pgx.Tx
	ledger stock.TxRepository
}

// WithTx executes fn inside a repeatable-read transaction with conflict retries.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.runner.Run(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, ledger: stock.NewTxRepository(tx)})
	})
}

// Get loads an order with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()
	pool := r.runner.Pool()
	o, err := scanOrder(pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return Order{}, db.Classify(err)
	}
	items, err := loadItems(ctx, pool, []int64{id})
	if err != nil {
		return Order{}, db.Classify(err)
	}
	o.SetItems(items[id])
	return o, nil
}

// List returns one page of orders newest first with items, and the total match count.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	ctx, cancel := r.runner.Scoped(ctx)
	defer cancel()
	pool := r.runner.Pool()

	var (
		clauses []string
		args    []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.RequesterID != 0 {
		add("requester_id = $%d", filter.RequesterID)
	}
	if filter.ChurchID != 0 {
		add("church_id = $%d", filter.ChurchID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	var total int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, db.Classify(err)
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, shared.Offset(page, perPage))
	rows, err := pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		orderColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	var (
		list []Order
		ids  []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, 0, db.Classify(err)
		}
		list = append(list, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, db.Classify(err)
	}
	if len(ids) == 0 {
		return list, total, nil
	}

	items, err := loadItems(ctx, pool, ids)
	if err != nil {
		return nil, 0, db.Classify(err)
	}
	for i := range list {
		list[i].SetItems(items[list[i].ID])
	}
	return list, total, nil
}

const orderColumns = `id, requester_id, church_id, status, created_at, approved_at, delivered_at, signed_by, signed_at`

const itemColumns = `id, order_id, product_id, qty, unit_price, subtotal`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (Order, error) {
	var (
		o      Order
		status string
	)
	err := row.Scan(&o.ID, &o.RequesterID, &o.ChurchID, &status, &o.CreatedAt, &o.ApprovedAt, &o.DeliveredAt, &o.SignedBy, &o.SignedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]Item, error) {
	rows, err := q.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]Item, len(orderIDs))
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPrice, &it.Subtotal); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (t *txRepository) Ledger() stock.TxRepository {
	return t.ledger
}

func (t *txRepository) ChurchExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM churches WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// GetForUpdate locks the order row and loads its items.
func (t *txRepository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Order{}, err
	}
	items, err := loadItems(ctx, t.tx, []int64{id})
	if err != nil {
		return Order{}, err
	}
	o.SetItems(items[id])
	return o, nil
}

func (t *txRepository) InsertOrder(ctx context.Context, o Order) (Order, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (requester_id, church_id, status, created_at)
VALUES ($1, $2, $3, $4)
RETURNING id`, o.RequesterID, o.ChurchID, string(o.Status), o.CreatedAt).Scan(&o.ID)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Order{}, fmt.Errorf("%w: unknown requester or church", ErrInvalidOrder)
		}
		return Order{}, err
	}
	return o, nil
}

func (t *txRepository) InsertItem(ctx context.Context, item Item) (Item, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, qty, unit_price, subtotal)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`, item.OrderID, item.ProductID, item.Qty, item.UnitPrice, item.Subtotal).Scan(&item.ID)
	return item, err
}

func (t *txRepository) DeleteItems(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	return err
}

func (t *txRepository) UpdateStatus(ctx context.Context, o Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, approved_at = $3, delivered_at = $4 WHERE id = $1`,
		o.ID, string(o.Status), o.ApprovedAt, o.DeliveredAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) UpdateSignature(ctx context.Context, o Order) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET signed_by = $2, signed_at = $3 WHERE id = $1`, o.ID, o.SignedBy, o.SignedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: unknown signer", shared.ErrValidation)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
