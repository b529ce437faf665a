package memstore

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Finance returns the finance.RepositoryPort view of the store.
func (s *Store) Finance() finance.RepositoryPort {
	return financeRepo{s: s}
}

type financeRepo struct {
	s *Store
}

type financeTx struct {
	s  *Store
	st *state
}

func (r financeRepo) WithTx(ctx context.Context, fn func(context.Context, finance.TxRepository) error) error {
	return r.s.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, financeTx{s: r.s, st: &r.s.st})
	})
}

func (r financeRepo) GetMovement(ctx context.Context, id int64) (finance.Movement, error) {
	var m finance.Movement
	err := r.s.view(ctx, func(st *state) error {
		var ok bool
		if m, ok = st.financials[id]; !ok {
			return fmt.Errorf("%w: %d", finance.ErrMovementNotFound, id)
		}
		return nil
	})
	return m, err
}

func (r financeRepo) Totals(ctx context.Context, filter finance.SummaryFilter) ([]finance.TotalRow, error) {
	type key struct {
		t finance.MovementType
		s finance.Status
	}
	var out []finance.TotalRow
	err := r.s.view(ctx, func(st *state) error {
		index := make(map[key]int)
		for _, m := range st.financials {
			if !filter.From.IsZero() && m.CreatedAt.Before(filter.From) {
				continue
			}
			if !filter.To.IsZero() && !m.CreatedAt.Before(filter.To) {
				continue
			}
			k := key{m.Type, m.Status}
			i, ok := index[k]
			if !ok {
				i = len(out)
				index[k] = i
				out = append(out, finance.TotalRow{Type: m.Type, Status: m.Status, Amount: decimal.Zero})
			}
			out[i].Count++
			out[i].Amount = out[i].Amount.Add(m.Amount)
		}
		return nil
	})
	return out, err
}

func (tx financeTx) LockMovement(_ context.Context, id int64) (finance.Movement, error) {
	m, ok := tx.st.financials[id]
	if !ok {
		return finance.Movement{}, fmt.Errorf("%w: %d", finance.ErrMovementNotFound, id)
	}
	return m, nil
}

func (tx financeTx) LockBySource(_ context.Context, mType finance.MovementType, sType finance.SourceType, sourceID int64) (finance.Movement, bool, error) {
	for _, m := range tx.st.financials {
		if m.Type == mType && m.SourceType == sType && m.SourceID == sourceID {
			return m, true, nil
		}
	}
	return finance.Movement{}, false, nil
}

func (tx financeTx) InsertMovement(ctx context.Context, m finance.Movement) (finance.Movement, bool, error) {
	if existing, found, _ := tx.LockBySource(ctx, m.Type, m.SourceType, m.SourceID); found {
		return existing, false, nil
	}
	m.ID = tx.st.nextID()
	m.Version = 1
	m.CreatedAt = tx.s.now()
	tx.st.financials[m.ID] = m
	return m, true, nil
}

func (tx financeTx) UpdateMovement(_ context.Context, m finance.Movement) (finance.Movement, error) {
	current, ok := tx.st.financials[m.ID]
	if !ok || current.Version != m.Version {
		return finance.Movement{}, fmt.Errorf("memstore: financial movement %d: %w", m.ID, shared.ErrConcurrencyConflict)
	}
	m.Version++
	tx.st.financials[m.ID] = m
	return m, nil
}
