package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

var _ shared.Transactor = (*TxManager)(nil)

// TxManager binds a RepeatableRead transaction to the context handed to fn.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager constructs the manager.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// WithinTransaction executes fn within a transaction. A context already carrying a
// transaction is reused so domain services compose into one atomic unit.
func (m *TxManager) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := shared.TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return WithTx(ctx, m.pool, func(tx pgx.Tx) error {
		return fn(shared.ContextWithTx(ctx, tx))
	})
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return MapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return MapError(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// MapError converts serialization failures and deadlocks into shared.ErrConcurrencyConflict.
func MapError(err error) error {
	if err == nil || errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	if shared.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %w", shared.ErrConcurrencyConflict, err)
	}
	return err
}
