// Package memstore is a transactional in-memory backend for the domain
// repositories. A single mutex stands in for row locks: top-level transactions
// run one at a time, nested ones join the caller, and a failing transaction
// restores the snapshot taken when it began.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/sales"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

var _ shared.Transactor = (*Store)(nil)

type state struct {
	seq        int64
	products   map[int64]inventory.Product
	movements  []inventory.StockMovement
	financials map[int64]finance.Movement
	orders     map[int64]procurement.PurchaseOrder
	orderLines map[int64]procurement.POLine
	sales      map[int64]sales.SalesOrder
	saleLines  map[int64]sales.SalesOrderLine
	audit      []shared.AuditLog
}

func newState() state {
	return state{
		products:   make(map[int64]inventory.Product),
		financials: make(map[int64]finance.Movement),
		orders:     make(map[int64]procurement.PurchaseOrder),
		orderLines: make(map[int64]procurement.POLine),
		sales:      make(map[int64]sales.SalesOrder),
		saleLines:  make(map[int64]sales.SalesOrderLine),
	}
}

func (st state) clone() state {
	return state{
		seq:        st.seq,
		products:   maps.Clone(st.products),
		movements:  slices.Clone(st.movements),
		financials: maps.Clone(st.financials),
		orders:     maps.Clone(st.orders),
		orderLines: maps.Clone(st.orderLines),
		sales:      maps.Clone(st.sales),
		saleLines:  maps.Clone(st.saleLines),
		audit:      slices.Clone(st.audit),
	}
}

func (st *state) nextID() int64 {
	st.seq++
	return st.seq
}

// Store holds every table of the domain packages.
type Store struct {
	mu        sync.Mutex
	st        state
	conflicts int
	commits   int
	now       func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), now: func() time.Time { return time.Now().UTC() }}
}

type txKey struct{}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// WithinTransaction implements shared.Transactor.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	if s.conflicts > 0 {
		s.conflicts--
		s.st = snapshot
		return fmt.Errorf("memstore: commit: %w", shared.ErrConcurrencyConflict)
	}
	s.commits++
	return nil
}

// InjectConflicts makes the next n top-level commits fail with shared.ErrConcurrencyConflict.
func (s *Store) InjectConflicts(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts = n
}

// Commits counts successful top-level transactions.
func (s *Store) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

// view runs fn against the live state, locking only outside a transaction.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if s.inTx(ctx) {
		return fn(&s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.st)
}

// Record implements shared.AuditRecorder. Entries written inside a transaction
// roll back with it.
func (s *Store) Record(ctx context.Context, log shared.AuditLog) error {
	if err := log.Validate(); err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = s.now()
	}
	if log.ActorID == 0 {
		log.ActorID = shared.ActorFromContext(ctx)
	}
	return s.view(ctx, func(st *state) error {
		st.audit = append(st.audit, log)
		return nil
	})
}

// AuditLogs returns a copy of the committed audit trail.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.audit)
}

// AddProduct seeds a product and returns it with its assigned id.
func (s *Store) AddProduct(p inventory.Product) inventory.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.st.nextID()
	} else if p.ID > s.st.seq {
		s.st.seq = p.ID
	}
	s.st.products[p.ID] = p
	return p
}

// SetProductActive flips the active flag of a seeded product.
func (s *Store) SetProductActive(id int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.st.products[id]
	p.Active = active
	s.st.products[id] = p
}

// StockMovements returns a copy of the stock ledger.
func (s *Store) StockMovements() []inventory.StockMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.movements)
}

// FinancialMovements returns the financial movements ordered by id.
func (s *Store) FinancialMovements() []finance.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := slices.Collect(maps.Values(s.st.financials))
	slices.SortFunc(out, func(a, b finance.Movement) int { return int(a.ID - b.ID) })
	return out
}
