package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/odyssey-erp/authzcore/internal/sales"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Sales returns the sales.RepositoryPort view of the store.
func (s *Store) Sales() sales.RepositoryPort {
	return salesRepo{s: s}
}

type salesRepo struct {
	s *Store
}

type salesTx struct {
	s  *Store
	st *state
}

func (r salesRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return r.s.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, salesTx{s: r.s, st: &r.s.st})
	})
}

func (r salesRepo) GetSalesOrder(ctx context.Context, id int64) (*sales.SalesOrder, []sales.SalesOrderLine, error) {
	var (
		so    sales.SalesOrder
		lines []sales.SalesOrderLine
	)
	err := r.s.view(ctx, func(st *state) error {
		var ok bool
		if so, ok = st.sales[id]; !ok {
			return fmt.Errorf("%w: %d", sales.ErrSalesOrderNotFound, id)
		}
		lines = saleLines(st, id)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &so, lines, nil
}

func (r salesRepo) ListSalesOrders(ctx context.Context, req sales.ListSalesOrdersRequest) ([]sales.SalesOrder, error) {
	var out []sales.SalesOrder
	err := r.s.view(ctx, func(st *state) error {
		for _, so := range st.sales {
			if req.Status == nil || so.Status == *req.Status {
				out = append(out, so)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b sales.SalesOrder) int { return int(b.ID - a.ID) })
	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, err
}

func (tx salesTx) CreateSalesOrder(_ context.Context, order sales.SalesOrder) (sales.SalesOrder, error) {
	order.ID = tx.st.nextID()
	order.CreatedAt = tx.s.now()
	order.Version = 1
	tx.st.sales[order.ID] = order
	return order, nil
}

func (tx salesTx) LockSalesOrder(_ context.Context, id int64) (sales.SalesOrder, error) {
	so, ok := tx.st.sales[id]
	if !ok {
		return sales.SalesOrder{}, fmt.Errorf("%w: %d", sales.ErrSalesOrderNotFound, id)
	}
	return so, nil
}

func (tx salesTx) UpdateSalesOrder(_ context.Context, order sales.SalesOrder) (sales.SalesOrder, error) {
	current, ok := tx.st.sales[order.ID]
	if !ok || current.Version != order.Version {
		return sales.SalesOrder{}, fmt.Errorf("memstore: sales order %d: %w", order.ID, shared.ErrConcurrencyConflict)
	}
	order.Version++
	tx.st.sales[order.ID] = order
	return order, nil
}

func (tx salesTx) InsertLine(_ context.Context, line sales.SalesOrderLine) (sales.SalesOrderLine, error) {
	line.ID = tx.st.nextID()
	tx.st.saleLines[line.ID] = line
	return line, nil
}

func (tx salesTx) ListLines(_ context.Context, salesOrderID int64) ([]sales.SalesOrderLine, error) {
	return saleLines(tx.st, salesOrderID), nil
}

func saleLines(st *state, salesOrderID int64) []sales.SalesOrderLine {
	var lines []sales.SalesOrderLine
	for _, line := range st.saleLines {
		if line.SalesOrderID == salesOrderID {
			lines = append(lines, line)
		}
	}
	slices.SortFunc(lines, func(a, b sales.SalesOrderLine) int { return int(a.ID - b.ID) })
	return lines
}
