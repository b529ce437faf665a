package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
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
	CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	LockPO(ctx context.Context, id int64) (PurchaseOrder, error)
	// UpdatePO persists po when its Version still matches and returns it with the next version.
	UpdatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	ListLines(ctx context.Context, poID int64) ([]POLine, error)
	GetLine(ctx context.Context, poID, lineID int64) (POLine, error)
	FindLineByProduct(ctx context.Context, poID, productID int64) (POLine, bool, error)
	InsertLine(ctx context.Context, line POLine) (POLine, error)
	UpdateLine(ctx context.Context, line POLine) error
	DeleteLine(ctx context.Context, poID, lineID int64) error
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

const poColumns = `id, supplier_id, supplier_invoice, status, note, created_by, created_at,
	confirmed_by, confirmed_at, received_by, received_at, cancelled_by, cancelled_at, version`

const lineColumns = `id, purchase_order_id, product_id, quantity, unit_cost`

// GetPO loads an order and its lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	q := shared.QuerierFrom(ctx, r.pool)
	po, err := scanPO(q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1`, id), id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	lines, err := listLines(ctx, q, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

// ListPOs returns orders newest first.
func (r *Repository) ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, `SELECT `+poColumns+` FROM purchase_orders
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseOrder
	for rows.Next() {
		po, err := scanPO(rows, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

func (r *txRepo) CreatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	return scanPO(r.q.QueryRow(ctx, `INSERT INTO purchase_orders (supplier_id, supplier_invoice, status, note, created_by)
VALUES ($1, $2, $3, $4, NULLIF($5, 0))
RETURNING `+poColumns, po.SupplierID, po.SupplierInvoice, string(po.Status), po.Note, po.CreatedBy), 0)
}

func (r *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, error) {
	return scanPO(r.q.QueryRow(ctx, `SELECT `+poColumns+` FROM purchase_orders WHERE id = $1 FOR UPDATE`, id), id)
}

func (r *txRepo) UpdatePO(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error) {
	updated, err := scanPO(r.q.QueryRow(ctx, `UPDATE purchase_orders
SET status = $3, note = $4, supplier_invoice = $5,
	confirmed_by = NULLIF($6, 0), confirmed_at = $7,
	received_by = NULLIF($8, 0), received_at = $9,
	cancelled_by = NULLIF($10, 0), cancelled_at = $11,
	version = version + 1, updated_at = NOW()
WHERE id = $1 AND version = $2
RETURNING `+poColumns,
		po.ID, po.Version, string(po.Status), po.Note, po.SupplierInvoice,
		po.ConfirmedBy, po.ConfirmedAt, po.ReceivedBy, po.ReceivedAt, po.CancelledBy, po.CancelledAt), po.ID)
	if errors.Is(err, ErrPONotFound) {
		return PurchaseOrder{}, fmt.Errorf("procurement: purchase order %d version %d: %w", po.ID, po.Version, shared.ErrConcurrencyConflict)
	}
	return updated, err
}

func (r *txRepo) ListLines(ctx context.Context, poID int64) ([]POLine, error) {
	return listLines(ctx, r.q, poID)
}

func (r *txRepo) GetLine(ctx context.Context, poID, lineID int64) (POLine, error) {
	line, err := scanLine(r.q.QueryRow(ctx, `SELECT `+lineColumns+` FROM purchase_order_lines WHERE purchase_order_id = $1 AND id = $2`, poID, lineID))
	if errors.Is(err, pgx.ErrNoRows) {
		return POLine{}, fmt.Errorf("%w: %d", ErrLineNotFound, lineID)
	}
	return line, err
}

func (r *txRepo) FindLineByProduct(ctx context.Context, poID, productID int64) (POLine, bool, error) {
	line, err := scanLine(r.q.QueryRow(ctx, `SELECT `+lineColumns+` FROM purchase_order_lines WHERE purchase_order_id = $1 AND product_id = $2`, poID, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return POLine{}, false, nil
	}
	if err != nil {
		return POLine{}, false, err
	}
	return line, true, nil
}

func (r *txRepo) InsertLine(ctx context.Context, line POLine) (POLine, error) {
	return scanLine(r.q.QueryRow(ctx, `INSERT INTO purchase_order_lines (purchase_order_id, product_id, quantity, unit_cost)
VALUES ($1, $2, $3, $4)
RETURNING `+lineColumns, line.POID, line.ProductID, line.Qty, line.UnitCost))
}

func (r *txRepo) UpdateLine(ctx context.Context, line POLine) error {
	tag, err := r.q.Exec(ctx, `UPDATE purchase_order_lines SET quantity = $3, unit_cost = $4 WHERE purchase_order_id = $1 AND id = $2`,
		line.POID, line.ID, line.Qty, line.UnitCost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrLineNotFound, line.ID)
	}
	return nil
}

func (r *txRepo) DeleteLine(ctx context.Context, poID, lineID int64) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM purchase_order_lines WHERE purchase_order_id = $1 AND id = $2`, poID, lineID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrLineNotFound, lineID)
	}
	return nil
}

func listLines(ctx context.Context, q shared.Querier, poID int64) ([]POLine, error) {
	rows, err := q.Query(ctx, `SELECT `+lineColumns+` FROM purchase_order_lines WHERE purchase_order_id = $1 ORDER BY id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func scanPO(row pgx.Row, id int64) (PurchaseOrder, error) {
	var po PurchaseOrder
	var status string
	var createdBy, confirmedBy, receivedBy, cancelledBy *int64
	err := row.Scan(&po.ID, &po.SupplierID, &po.SupplierInvoice, &status, &po.Note, &createdBy, &po.CreatedAt,
		&confirmedBy, &po.ConfirmedAt, &receivedBy, &po.ReceivedAt, &cancelledBy, &po.CancelledAt, &po.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, fmt.Errorf("%w: %d", ErrPONotFound, id)
		}
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)
	po.CreatedBy = deref(createdBy)
	po.ConfirmedBy = deref(confirmedBy)
	po.ReceivedBy = deref(receivedBy)
	po.CancelledBy = deref(cancelledBy)
	return po, nil
}

func scanLine(row pgx.Row) (POLine, error) {
	var line POLine
	if err := row.Scan(&line.ID, &line.POID, &line.ProductID, &line.Qty, &line.UnitCost); err != nil {
		return POLine{}, err
	}
	return line, nil
}

func deref(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
