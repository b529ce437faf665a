package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Repository persists inventory data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	tx   shared.Transactor
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, tx shared.Transactor) *Repository {
	return &Repository{pool: pool, tx: tx}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	LockProduct(ctx context.Context, id int64) (Product, error)
	LockProducts(ctx context.Context) ([]Product, error)
	InsertMovement(ctx context.Context, m StockMovement) (StockMovement, bool, error)
	SetStock(ctx context.Context, productID, stock int64) error
	MovementTotals(ctx context.Context) (map[int64]int64, error)
}

type txRepo struct {
	q shared.Querier
}

// WithTx executes the callback inside the transaction bound to ctx, opening one when absent.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: shared.QuerierFrom(ctx, r.pool)})
	})
}

const productColumns = `id, sku, name, is_active, stock`

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(shared.QuerierFrom(ctx, r.pool).QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id), id)
}

const movementColumns = `id, product_id, movement_type, quantity, source_type, source_id, event, line_ref, idempotency_key, note, created_by, created_at`

// ListMovements returns movements newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]StockMovement, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf("product_id = $%d", len(args)))
	}
	if filter.SourceType != "" {
		args = append(args, filter.SourceType)
		where = append(where, fmt.Sprintf("source_type = $%d", len(args)))
	}
	if filter.SourceID != 0 {
		args = append(args, filter.SourceID)
		where = append(where, fmt.Sprintf("source_id = $%d", len(args)))
	}
	sql := `SELECT ` + movementColumns + ` FROM stock_movements`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	sql += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockMovement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepo) LockProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id), id)
}

func (r *txRepo) LockProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.q.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id FOR UPDATE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var products []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Active, &p.Stock); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *txRepo) InsertMovement(ctx context.Context, m StockMovement) (StockMovement, bool, error) {
	row := r.q.QueryRow(ctx, `INSERT INTO stock_movements (product_id, movement_type, quantity, source_type, source_id, event, line_ref, idempotency_key, note, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, 0))
ON CONFLICT (idempotency_key) DO NOTHING
RETURNING `+movementColumns,
		m.ProductID, string(m.Type), m.Qty, m.SourceType, m.SourceID, m.Event, m.LineRef, m.IdempotencyKey, m.Note, m.CreatedBy)
	inserted, err := scanMovement(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return StockMovement{}, false, err
	}
	existing, err := scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM stock_movements WHERE idempotency_key = $1`, m.IdempotencyKey))
	if err != nil {
		return StockMovement{}, false, err
	}
	return existing, false, nil
}

func (r *txRepo) SetStock(ctx context.Context, productID, stock int64) error {
	tag, err := r.q.Exec(ctx, `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`, productID, stock)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrProductNotFound, productID)
	}
	return nil
}

func (r *txRepo) MovementTotals(ctx context.Context) (map[int64]int64, error) {
	rows, err := r.q.Query(ctx, `SELECT product_id,
	COALESCE(SUM(CASE WHEN movement_type = 'IN' THEN quantity ELSE -quantity END), 0)::bigint
FROM stock_movements
GROUP BY product_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]int64)
	for rows.Next() {
		var productID, total int64
		if err := rows.Scan(&productID, &total); err != nil {
			return nil, err
		}
		totals[productID] = total
	}
	return totals, rows.Err()
}

func scanProduct(row pgx.Row, id int64) (Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Active, &p.Stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
		return Product{}, err
	}
	return p, nil
}

func scanMovement(row pgx.Row) (StockMovement, error) {
	var (
		m         StockMovement
		mType     string
		createdBy *int64
	)
	if err := row.Scan(&m.ID, &m.ProductID, &mType, &m.Qty, &m.SourceType, &m.SourceID, &m.Event, &m.LineRef, &m.IdempotencyKey, &m.Note, &createdBy, &m.CreatedAt); err != nil {
		return StockMovement{}, err
	}
	m.Type = MovementType(mType)
	if createdBy != nil {
		m.CreatedBy = *createdBy
	}
	return m, nil
}
