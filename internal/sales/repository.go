package sales

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Repository provides PostgreSQL backed persistence for sales operations.
type Repository struct {
	pool *pgxpool.Pool
	tx   shared.Transactor
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, tx shared.Transactor) *Repository {
	return &Repository{pool: pool, tx: tx}
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	// Sales Order operations
	CreateSalesOrder(ctx context.Context, order SalesOrder) (SalesOrder, error)
	LockSalesOrder(ctx context.Context, id int64) (SalesOrder, error)
	UpdateSalesOrder(ctx context.Context, order SalesOrder) (SalesOrder, error)

	// Line operations
	InsertLine(ctx context.Context, line SalesOrderLine) (SalesOrderLine, error)
	ListLines(ctx context.Context, salesOrderID int64) ([]SalesOrderLine, error)
}

type txRepo struct {
	q shared.Querier
}

// WithTx runs fn inside the transaction bound to ctx, opening one when absent.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: shared.QuerierFrom(ctx, r.pool)})
	})
}

const orderColumns = `id, customer_name, status, created_by, created_at, confirmed_by, confirmed_at,
	cancelled_by, cancelled_at, cancel_reason, version`

const lineColumns = `id, sales_order_id, product_id, quantity, unit_price`

// GetSalesOrder loads an order and its lines.
func (r *Repository) GetSalesOrder(ctx context.Context, id int64) (*SalesOrder, []SalesOrderLine, error) {
	q := shared.QuerierFrom(ctx, r.pool)
	so, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1`, id), id)
	if err != nil {
		return nil, nil, err
	}
	lines, err := listLines(ctx, q, id)
	if err != nil {
		return nil, nil, err
	}
	return &so, lines, nil
}

// ListSalesOrders returns orders newest first.
func (r *Repository) ListSalesOrders(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrder, error) {
	status := ""
	if req.Status != nil {
		status = string(*req.Status)
	}
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, `SELECT `+orderColumns+` FROM sales_orders
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, status, req.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []SalesOrder
	for rows.Next() {
		so, err := scanOrder(rows, 0)
		if err != nil {
			return nil, err
		}
		orders = append(orders, so)
	}
	return orders, rows.Err()
}

func (r *txRepo) CreateSalesOrder(ctx context.Context, order SalesOrder) (SalesOrder, error) {
	return scanOrder(r.q.QueryRow(ctx, `INSERT INTO sales_orders (customer_name, status, created_by)
VALUES ($1, $2, NULLIF($3, 0))
RETURNING `+orderColumns, order.CustomerName, string(order.Status), order.CreatedBy), 0)
}

func (r *txRepo) LockSalesOrder(ctx context.Context, id int64) (SalesOrder, error) {
	return scanOrder(r.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM sales_orders WHERE id = $1 FOR UPDATE`, id), id)
}

func (r *txRepo) UpdateSalesOrder(ctx context.Context, order SalesOrder) (SalesOrder, error) {
	updated, err := scanOrder(r.q.QueryRow(ctx, `UPDATE sales_orders
SET status = $3, confirmed_by = $4, confirmed_at = $5, cancelled_by = $6, cancelled_at = $7,
	cancel_reason = $8, version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+orderColumns,
		order.ID, order.Version, string(order.Status), order.ConfirmedBy, order.ConfirmedAt,
		order.CancelledBy, order.CancelledAt, order.CancelReason), order.ID)
	if errors.Is(err, ErrSalesOrderNotFound) {
		return SalesOrder{}, fmt.Errorf("sales order %d version %d: %w", order.ID, order.Version, shared.ErrConcurrencyConflict)
	}
	return updated, err
}

func (r *txRepo) InsertLine(ctx context.Context, line SalesOrderLine) (SalesOrderLine, error) {
	return scanLine(r.q.QueryRow(ctx, `INSERT INTO sales_order_lines (sales_order_id, product_id, quantity, unit_price)
VALUES ($1, $2, $3, $4)
RETURNING `+lineColumns, line.SalesOrderID, line.ProductID, line.Quantity, line.UnitPrice))
}

func (r *txRepo) ListLines(ctx context.Context, salesOrderID int64) ([]SalesOrderLine, error) {
	return listLines(ctx, r.q, salesOrderID)
}

func listLines(ctx context.Context, q shared.Querier, salesOrderID int64) ([]SalesOrderLine, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM sales_order_lines WHERE sales_order_id = $1 ORDER BY id`, salesOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []SalesOrderLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanOrder(row pgx.Row, id int64) (SalesOrder, error) {
	var so SalesOrder
	var status string
	var createdBy *int64
	err := row.Scan(&so.ID, &so.CustomerName, &status, &createdBy, &so.CreatedAt, &so.ConfirmedBy, &so.ConfirmedAt,
		&so.CancelledBy, &so.CancelledAt, &so.CancelReason, &so.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SalesOrder{}, fmt.Errorf("%w: %d", ErrSalesOrderNotFound, id)
		}
		return SalesOrder{}, err
	}
	so.Status = SalesOrderStatus(status)
	if createdBy != nil {
		so.CreatedBy = *createdBy
	}
	return so, nil
}

func scanLine(row pgx.Row) (SalesOrderLine, error) {
	var line SalesOrderLine
	if err := row.Scan(&line.ID, &line.SalesOrderID, &line.ProductID, &line.Quantity, &line.UnitPrice); err != nil {
		return SalesOrderLine{}, err
	}
	return line, nil
}
