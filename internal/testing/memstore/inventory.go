package memstore

import (
	"context"
	"fmt"
	"slices"

	"github.com/odyssey-erp/authzcore/internal/inventory"
)

// Inventory returns the inventory.RepositoryPort view of the store.
func (s *Store) Inventory() inventory.RepositoryPort {
	return inventoryRepo{s: s}
}

type inventoryRepo struct {
	s *Store
}

type inventoryTx struct {
	s  *Store
	st *state
}

func (r inventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.s.WithinTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, inventoryTx{s: r.s, st: &r.s.st})
	})
}

func (r inventoryRepo) GetProduct(ctx context.Context, id int64) (inventory.Product, error) {
	var p inventory.Product
	err := r.s.view(ctx, func(st *state) error {
		var ok bool
		if p, ok = st.products[id]; !ok {
			return fmt.Errorf("%w: %d", inventory.ErrProductNotFound, id)
		}
		return nil
	})
	return p, err
}

func (r inventoryRepo) ListMovements(ctx context.Context, filter inventory.MovementFilter) ([]inventory.StockMovement, error) {
	var out []inventory.StockMovement
	err := r.s.view(ctx, func(st *state) error {
		for _, m := range slices.Backward(st.movements) {
			if filter.ProductID != 0 && m.ProductID != filter.ProductID {
				continue
			}
			if filter.SourceType != "" && m.SourceType != filter.SourceType {
				continue
			}
			if filter.SourceID != 0 && m.SourceID != filter.SourceID {
				continue
			}
			out = append(out, m)
			if filter.Limit > 0 && len(out) == filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (tx inventoryTx) LockProduct(_ context.Context, id int64) (inventory.Product, error) {
	p, ok := tx.st.products[id]
	if !ok {
		return inventory.Product{}, fmt.Errorf("%w: %d", inventory.ErrProductNotFound, id)
	}
	return p, nil
}

func (tx inventoryTx) LockProducts(context.Context) ([]inventory.Product, error) {
	out := make([]inventory.Product, 0, len(tx.st.products))
	for _, p := range tx.st.products {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b inventory.Product) int { return int(a.ID - b.ID) })
	return out, nil
}

func (tx inventoryTx) InsertMovement(_ context.Context, m inventory.StockMovement) (inventory.StockMovement, bool, error) {
	for _, existing := range tx.st.movements {
		if existing.IdempotencyKey == m.IdempotencyKey {
			return existing, false, nil
		}
	}
	m.ID = tx.st.nextID()
	m.CreatedAt = tx.s.now()
	tx.st.movements = append(tx.st.movements, m)
	return m, true, nil
}

func (tx inventoryTx) SetStock(_ context.Context, productID, stock int64) error {
	p, ok := tx.st.products[productID]
	if !ok {
		return fmt.Errorf("%w: %d", inventory.ErrProductNotFound, productID)
	}
	p.Stock = stock
	tx.st.products[productID] = p
	return nil
}

func (tx inventoryTx) MovementTotals(context.Context) (map[int64]int64, error) {
	totals := make(map[int64]int64)
	for _, m := range tx.st.movements {
		totals[m.ProductID] += m.Delta()
	}
	return totals, nil
}
