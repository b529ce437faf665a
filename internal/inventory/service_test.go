package inventory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	products  map[int64]Product
	movements []StockMovement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(products ...Product) *memoryRepo {
	repo := &memoryRepo{products: make(map[int64]Product)}
	for _, p := range products {
		repo.products[p.ID] = p
	}
	return repo
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	products := make(map[int64]Product, len(r.products))
	for id, p := range r.products {
		products[id] = p
	}
	movements := append([]StockMovement(nil), r.movements...)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.products = products
		r.movements = movements
		return err
	}
	return nil
}

func (r *memoryRepo) GetProduct(_ context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (r *memoryRepo) ListMovements(_ context.Context, filter MovementFilter) ([]StockMovement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []StockMovement
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.SourceType != "" && m.SourceType != filter.SourceType {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (tx *memoryTx) LockProduct(_ context.Context, id int64) (Product, error) {
	p, ok := tx.repo.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return p, nil
}

func (tx *memoryTx) LockProducts(context.Context) ([]Product, error) {
	var out []Product
	for id := int64(1); id <= int64(len(tx.repo.products)); id++ {
		if p, ok := tx.repo.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m StockMovement) (StockMovement, bool, error) {
	for _, existing := range tx.repo.movements {
		if existing.IdempotencyKey == m.IdempotencyKey {
			return existing, false, nil
		}
	}
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.CreatedAt = time.Now().UTC()
	tx.repo.movements = append(tx.repo.movements, m)
	return m, true, nil
}

func (tx *memoryTx) SetStock(_ context.Context, productID, stock int64) error {
	p, ok := tx.repo.products[productID]
	if !ok {
		return ErrProductNotFound
	}
	p.Stock = stock
	tx.repo.products[productID] = p
	return nil
}

func (tx *memoryTx) MovementTotals(context.Context) (map[int64]int64, error) {
	totals := make(map[int64]int64)
	for _, m := range tx.repo.movements {
		totals[m.ProductID] += m.Delta()
	}
	return totals, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
	err  error
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	if a.err != nil {
		return a.err
	}
	a.logs = append(a.logs, log)
	return nil
}

func newTestService(repo *memoryRepo) (*Service, *recordingAudit) {
	audit := &recordingAudit{}
	return NewService(repo, audit, slog.New(slog.NewTextHandler(io.Discard, nil))), audit
}

func purchaseIn(productID, qty int64, lineRef string) MovementInput {
	return MovementInput{
		ProductID:  productID,
		Type:       MovementIn,
		Qty:        qty,
		SourceType: SourcePurchase,
		SourceID:   7,
		Event:      "RECEIVE",
		LineRef:    lineRef,
		ActorID:    3,
	}
}

func TestPostForSourceIsIdempotent(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, SKU: "A-1", Name: "Tornillo", Active: true})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.PostForSource(ctx, purchaseIn(1, 10, "line-1"))
	require.NoError(t, err)
	require.True(t, first.Applied)
	require.Equal(t, int64(10), first.Stock)

	second, err := svc.PostForSource(ctx, purchaseIn(1, 10, "line-1"))
	require.NoError(t, err)
	require.False(t, second.Applied)
	require.Equal(t, first.Movement.ID, second.Movement.ID)
	require.Equal(t, int64(10), second.Stock)

	require.Len(t, repo.movements, 1)
	require.Equal(t, int64(10), repo.products[1].Stock)
	require.Equal(t, shared.IdempotencyKey(SourcePurchase, 7, "RECEIVE", "line-1"), repo.movements[0].IdempotencyKey)
}

func TestPostForSourceDistinctLinesApplySeparately(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Active: true})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.PostForSource(ctx, purchaseIn(1, 4, "line-1"))
	require.NoError(t, err)
	res, err := svc.PostForSource(ctx, purchaseIn(1, 6, "line-2"))
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, int64(10), res.Stock)
}

func TestPostForSourceRejectsNegativeStock(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Active: true, Stock: 2})
	svc, _ := newTestService(repo)

	out := MovementInput{ProductID: 1, Type: MovementOut, Qty: 3, SourceType: SourceSale, SourceID: 9, Event: "CONFIRM", LineRef: "1"}
	_, err := svc.PostForSource(context.Background(), out)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.movements)
	require.Equal(t, int64(2), repo.products[1].Stock)
}

func TestPostForSourceRejectsInactiveProduct(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Active: false})
	svc, _ := newTestService(repo)

	_, err := svc.PostForSource(context.Background(), purchaseIn(1, 1, "x"))
	require.ErrorIs(t, err, ErrInactiveProduct)
	require.Empty(t, repo.movements)
}

func TestPostForSourceValidatesInput(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Active: true})
	svc, _ := newTestService(repo)

	cases := map[string]MovementInput{
		"zero qty":     {ProductID: 1, Type: MovementIn, Qty: 0, SourceType: SourcePurchase, Event: "RECEIVE"},
		"bad type":     {ProductID: 1, Type: "MOVE", Qty: 1, SourceType: SourcePurchase, Event: "RECEIVE"},
		"no product":   {Type: MovementIn, Qty: 1, SourceType: SourcePurchase, Event: "RECEIVE"},
		"no event":     {ProductID: 1, Type: MovementIn, Qty: 1, SourceType: SourcePurchase},
		"no source":    {ProductID: 1, Type: MovementIn, Qty: 1, Event: "RECEIVE"},
		"negative qty": {ProductID: 1, Type: MovementOut, Qty: -2, SourceType: SourceSale, Event: "CONFIRM"},
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.PostForSource(context.Background(), input)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Empty(t, repo.movements)
}

func TestPostForSourceUnknownProduct(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo())
	_, err := svc.PostForSource(context.Background(), purchaseIn(99, 1, "x"))
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostManualAuditsInsideTransaction(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Active: true, Stock: 5})
	svc, audit := newTestService(repo)
	ctx := context.Background()

	res, err := svc.PostManual(ctx, 4, ManualInput{ProductID: 1, Type: MovementOut, Qty: 2, Note: "rotura"})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Equal(t, int64(3), res.Stock)
	require.Equal(t, SourceManual, res.Movement.SourceType)
	require.Len(t, audit.logs, 1)
	require.Equal(t, "STOCK_MANUAL", audit.logs[0].Action)
	require.Equal(t, shared.AuditApplied, audit.logs[0].Outcome)
	require.Equal(t, int64(4), audit.logs[0].ActorID)

	audit.err = errors.New("audit down")
	_, err = svc.PostManual(ctx, 4, ManualInput{ProductID: 1, Type: MovementIn, Qty: 1, Note: "ajuste"})
	require.Error(t, err)
	require.Equal(t, int64(3), repo.products[1].Stock)
	require.Len(t, repo.movements, 1)
}

func TestPostManualRequestIDMakesRetriesIdempotent(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Active: true})
	svc, audit := newTestService(repo)
	ctx := context.Background()
	input := ManualInput{ProductID: 1, Type: MovementIn, Qty: 3, Note: "conteo", RequestID: uuid.NewString()}

	_, err := svc.PostManual(ctx, 2, input)
	require.NoError(t, err)
	res, err := svc.PostManual(ctx, 2, input)
	require.NoError(t, err)
	require.False(t, res.Applied)
	require.Equal(t, int64(3), repo.products[1].Stock)
	require.Len(t, audit.logs, 1)

	withoutID := input
	withoutID.RequestID = ""
	_, err = svc.PostManual(ctx, 2, withoutID)
	require.NoError(t, err)
	_, err = svc.PostManual(ctx, 2, withoutID)
	require.NoError(t, err)
	require.Equal(t, int64(9), repo.products[1].Stock)
}

func TestPostManualRequiresNote(t *testing.T) {
	svc, _ := newTestService(newMemoryRepo(Product{ID: 1, Active: true}))
	_, err := svc.PostManual(context.Background(), 1, ManualInput{ProductID: 1, Type: MovementIn, Qty: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReconcileReportsAndFixesDrift(t *testing.T) {
	repo := newMemoryRepo(
		Product{ID: 1, Active: true},
		Product{ID: 2, Active: true},
		Product{ID: 3, Active: true, Stock: 4},
	)
	var buf bytes.Buffer
	svc := NewService(repo, nil, slog.New(slog.NewTextHandler(&buf, nil)))
	ctx := context.Background()

	_, err := svc.PostForSource(ctx, purchaseIn(1, 5, "a"))
	require.NoError(t, err)
	_, err = svc.PostForSource(ctx, purchaseIn(2, 8, "b"))
	require.NoError(t, err)

	repo.products[2] = Product{ID: 2, Active: true, Stock: 11}
	repo.movements = append(repo.movements, StockMovement{ID: 99, ProductID: 3, Type: MovementOut, Qty: 1})

	report, err := svc.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 3, report.Checked)
	require.Equal(t, []Drift{
		{ProductID: 2, Recorded: 11, Computed: 8},
		{ProductID: 3, Recorded: 4, Computed: -1},
	}, report.Drifts)
	require.Zero(t, report.Fixed)
	require.Equal(t, int64(11), repo.products[2].Stock)

	report, err = svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Equal(t, 1, report.Fixed)
	require.Equal(t, int64(8), repo.products[2].Stock)
	require.Equal(t, int64(4), repo.products[3].Stock)
	require.Contains(t, buf.String(), "stock rebuild skipped")

	report, err = svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
}
