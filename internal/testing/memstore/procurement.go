package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Procurement returns the procurement.RepositoryPort view of the store.
func (s *Store) Procurement() procurement.RepositoryPort {
	return procurementRepo{s: s}
}

type procurementRepo struct {
	s *Store
}

type procurementTx struct {
	s  *Store
	st *state
}

func (r procurementRepo) WithTx(ctx context.Context, fn func(context.Context, procurement.TxRepository) error) error {
	return r.s.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, procurementTx{s: r.s, st: &r.s.st})
	})
}

func (r procurementRepo) GetPO(ctx context.Context, id int64) (procurement.PurchaseOrder, []procurement.POLine, error) {
	var (
		po    procurement.PurchaseOrder
		lines []procurement.POLine
	)
	err := r.s.view(ctx, func(st *state) error {
		var ok bool
		if po, ok = st.orders[id]; !ok {
			return fmt.Errorf("%w: %d", procurement.ErrPONotFound, id)
		}
		lines = orderLines(st, id)
		return nil
	})
	return po, lines, err
}

func (r procurementRepo) ListPOs(ctx context.Context, filter procurement.ListFilter) ([]procurement.PurchaseOrder, error) {
	var out []procurement.PurchaseOrder
	err := r.s.view(ctx, func(st *state) error {
		for _, po := range st.orders {
			if filter.Status == "" || po.Status == filter.Status {
				out = append(out, po)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b procurement.PurchaseOrder) int { return int(b.ID - a.ID) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}

func (tx procurementTx) CreatePO(_ context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	po.ID = tx.st.nextID()
	po.CreatedAt = tx.s.now()
	po.Version = 1
	tx.st.orders[po.ID] = po
	return po, nil
}

func (tx procurementTx) LockPO(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := tx.st.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, fmt.Errorf("%w: %d", procurement.ErrPONotFound, id)
	}
	return po, nil
}

func (tx procurementTx) UpdatePO(_ context.Context, po procurement.PurchaseOrder) (procurement.PurchaseOrder, error) {
	current, ok := tx.st.orders[po.ID]
	if !ok || current.Version != po.Version {
		return procurement.PurchaseOrder{}, fmt.Errorf("memstore: purchase order %d: %w", po.ID, shared.ErrConcurrencyConflict)
	}
	po.Version++
	tx.st.orders[po.ID] = po
	return po, nil
}

func (tx procurementTx) ListLines(_ context.Context, poID int64) ([]procurement.POLine, error) {
	return orderLines(tx.st, poID), nil
}

func (tx procurementTx) GetLine(_ context.Context, poID, lineID int64) (procurement.POLine, error) {
	line, ok := tx.st.orderLines[lineID]
	if !ok || line.POID != poID {
		return procurement.POLine{}, fmt.Errorf("%w: %d", procurement.ErrLineNotFound, lineID)
	}
	return line, nil
}

func (tx procurementTx) FindLineByProduct(_ context.Context, poID, productID int64) (procurement.POLine, bool, error) {
	for _, line := range orderLines(tx.st, poID) {
		if line.ProductID == productID {
			return line, true, nil
		}
	}
	return procurement.POLine{}, false, nil
}

func (tx procurementTx) InsertLine(_ context.Context, line procurement.POLine) (procurement.POLine, error) {
	line.ID = tx.st.nextID()
	tx.st.orderLines[line.ID] = line
	return line, nil
}

func (tx procurementTx) UpdateLine(ctx context.Context, line procurement.POLine) error {
	if _, err := tx.GetLine(ctx, line.POID, line.ID); err != nil {
		return err
	}
	tx.st.orderLines[line.ID] = line
	return nil
}

func (tx procurementTx) DeleteLine(ctx context.Context, poID, lineID int64) error {
	if _, err := tx.GetLine(ctx, poID, lineID); err != nil {
		return err
	}
	delete(tx.st.orderLines, lineID)
	return nil
}

func orderLines(st *state, poID int64) []procurement.POLine {
	var lines []procurement.POLine
	for _, line := range st.orderLines {
		if line.POID == poID {
			lines = append(lines, line)
		}
	}
	slices.SortFunc(lines, func(a, b procurement.POLine) int { return int(a.ID - b.ID) })
	return lines
}
