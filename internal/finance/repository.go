package finance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// TxRepository exposes transactional operations used by Service.
type TxRepository interface {
	LockMovement(ctx context.Context, id int64) (Movement, error)
	LockBySource(ctx context.Context, mType MovementType, sType SourceType, sourceID int64) (Movement, bool, error)
	// InsertMovement stores m unless the (type, source) triple exists, in which case
	// the existing row is returned locked and inserted is false.
	InsertMovement(ctx context.Context, m Movement) (Movement, bool, error)
	// UpdateMovement writes m when its Version still matches and returns it with the next version.
	UpdateMovement(ctx context.Context, m Movement) (Movement, error)
}

// Repository persists financial movements in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
	tx   shared.Transactor
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, tx shared.Transactor) *Repository {
	return &Repository{pool: pool, tx: tx}
}

type txRepo struct {
	q shared.Querier
}

// WithTx executes fn inside the transaction bound to ctx, opening one when absent.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.tx.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, &txRepo{q: shared.QuerierFrom(ctx, r.pool)})
	})
}

const movementColumns = `id, movement_type, source_type, source_id, amount, status, notes, created_at, paid_at, voided_at, version`

// GetMovement loads a movement without locking it.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(shared.QuerierFrom(ctx, r.pool).QueryRow(ctx, `SELECT `+movementColumns+` FROM financial_movements WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, fmt.Errorf("%w: %d", ErrMovementNotFound, id)
	}
	return m, err
}

// Totals aggregates counts and amounts per type and status.
func (r *Repository) Totals(ctx context.Context, filter SummaryFilter) ([]TotalRow, error) {
	var (
		where []string
		args  []any
	)
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	sql := `SELECT movement_type, status, COUNT(*), COALESCE(SUM(amount), 0) FROM financial_movements`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` GROUP BY movement_type, status ORDER BY movement_type, status`

	rows, err := shared.QuerierFrom(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TotalRow
	for rows.Next() {
		var (
			row           TotalRow
			mType, status string
		)
		if err := rows.Scan(&mType, &status, &row.Count, &row.Amount); err != nil {
			return nil, err
		}
		row.Type = MovementType(mType)
		row.Status = Status(status)
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *txRepo) LockMovement(ctx context.Context, id int64) (Movement, error) {
	m, err := scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM financial_movements WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, fmt.Errorf("%w: %d", ErrMovementNotFound, id)
	}
	return m, err
}

func (r *txRepo) LockBySource(ctx context.Context, mType MovementType, sType SourceType, sourceID int64) (Movement, bool, error) {
	m, err := scanMovement(r.q.QueryRow(ctx, `SELECT `+movementColumns+` FROM financial_movements
WHERE movement_type = $1 AND source_type = $2 AND source_id = $3
FOR UPDATE`, string(mType), string(sType), sourceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, false, nil
	}
	if err != nil {
		return Movement{}, false, err
	}
	return m, true, nil
}

func (r *txRepo) InsertMovement(ctx context.Context, m Movement) (Movement, bool, error) {
	inserted, err := scanMovement(r.q.QueryRow(ctx, `INSERT INTO financial_movements (movement_type, source_type, source_id, amount, status, notes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (movement_type, source_type, source_id) DO NOTHING
RETURNING `+movementColumns,
		string(m.Type), string(m.SourceType), m.SourceID, m.Amount, string(m.Status), m.Notes))
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, false, err
	}
	existing, found, err := r.LockBySource(ctx, m.Type, m.SourceType, m.SourceID)
	if err != nil {
		return Movement{}, false, err
	}
	if !found {
		return Movement{}, false, fmt.Errorf("finance: %s for %s #%d vanished: %w", m.Type, m.SourceType, m.SourceID, shared.ErrConcurrencyConflict)
	}
	return existing, false, nil
}

func (r *txRepo) UpdateMovement(ctx context.Context, m Movement) (Movement, error) {
	updated, err := scanMovement(r.q.QueryRow(ctx, `UPDATE financial_movements
SET amount = $3, status = $4, notes = $5, paid_at = $6, voided_at = $7, version = version + 1
WHERE id = $1 AND version = $2
RETURNING `+movementColumns,
		m.ID, m.Version, m.Amount, string(m.Status), m.Notes, m.PaidAt, m.VoidedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, fmt.Errorf("finance: movement %d version %d: %w", m.ID, m.Version, shared.ErrConcurrencyConflict)
	}
	return updated, err
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m             Movement
		mType, sType  string
		status, notes string
	)
	if err := row.Scan(&m.ID, &mType, &sType, &m.SourceID, &m.Amount, &status, &notes, &m.CreatedAt, &m.PaidAt, &m.VoidedAt, &m.Version); err != nil {
		return Movement{}, err
	}
	m.Type = MovementType(mType)
	m.SourceType = SourceType(sType)
	m.Status = Status(status)
	m.Notes = notes
	return m, nil
}
