package sales_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/sales"
	"github.com/odyssey-erp/authzcore/internal/shared"
	"github.com/odyssey-erp/authzcore/internal/testing/memstore"
)

const clerk int64 = 7

// ============================================================================
// FIXTURES
// ============================================================================

type fixture struct {
	*memstore.Domain
	widget inventory.Product
	gadget inventory.Product
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d := memstore.NewDomain(finance.Policy{})
	return fixture{
		Domain: d,
		widget: d.Store.AddProduct(inventory.Product{SKU: "WID-1", Name: "Widget", Active: true, Stock: 10}),
		gadget: d.Store.AddProduct(inventory.Product{SKU: "GAD-1", Name: "Gadget", Active: true, Stock: 3}),
	}
}

func (f fixture) draft(t *testing.T, widgets, gadgets int64) *sales.SalesOrder {
	t.Helper()
	req := sales.CreateSalesOrderRequest{CustomerName: "  Toko Maju  "}
	if widgets > 0 {
		req.Lines = append(req.Lines, sales.CreateSalesOrderLineRequest{ProductID: f.widget.ID, Quantity: widgets, UnitPrice: decimal.RequireFromString("12.50")})
	}
	if gadgets > 0 {
		req.Lines = append(req.Lines, sales.CreateSalesOrderLineRequest{ProductID: f.gadget.ID, Quantity: gadgets, UnitPrice: decimal.RequireFromString("40")})
	}
	so, err := f.Sales.CreateSalesOrder(context.Background(), req, clerk)
	require.NoError(t, err)
	return so
}

func (f fixture) stock(t *testing.T, id int64) int64 {
	t.Helper()
	p, err := f.Inventory.Product(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// ============================================================================
// CREATE
// ============================================================================

func TestCreateSalesOrder(t *testing.T) {
	f := newFixture(t)
	so := f.draft(t, 2, 1)

	assert.Equal(t, sales.SalesOrderStatusDraft, so.Status)
	assert.Equal(t, "Toko Maju", so.CustomerName)
	assert.Equal(t, clerk, so.CreatedBy)
	assert.Equal(t, int64(1), so.Version)

	_, lines, err := f.Sales.GetSalesOrder(context.Background(), so.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "65.00", sales.OrderTotal(lines).StringFixed(2))
}

func TestCreateSalesOrderValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  sales.CreateSalesOrderRequest
	}{
		{"missing customer", sales.CreateSalesOrderRequest{}},
		{"zero quantity", sales.CreateSalesOrderRequest{CustomerName: "A", Lines: []sales.CreateSalesOrderLineRequest{{ProductID: f.widget.ID}}}},
		{"negative price", sales.CreateSalesOrderRequest{CustomerName: "A", Lines: []sales.CreateSalesOrderLineRequest{{ProductID: f.widget.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Sales.CreateSalesOrder(ctx, tt.req, clerk)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestAddLineOnlyOnDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	so := f.draft(t, 1, 0)

	line, err := f.Sales.AddLine(ctx, so.ID, sales.CreateSalesOrderLineRequest{ProductID: f.gadget.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(40)}, clerk)
	require.NoError(t, err)
	assert.Equal(t, so.ID, line.SalesOrderID)

	_, err = f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.NoError(t, err)

	_, err = f.Sales.AddLine(ctx, so.ID, sales.CreateSalesOrderLineRequest{ProductID: f.gadget.ID, Quantity: 1, UnitPrice: decimal.NewFromInt(40)}, clerk)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.Sales.AddLine(ctx, 999, sales.CreateSalesOrderLineRequest{ProductID: f.gadget.ID, Quantity: 1}, clerk)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// ============================================================================
// CONFIRM
// ============================================================================

func TestConfirmSalesOrderBooksStockAndReceivable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	so := f.draft(t, 4, 2)

	confirmed, err := f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.NoError(t, err)
	assert.Equal(t, sales.SalesOrderStatusConfirmed, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedBy)
	assert.Equal(t, clerk, *confirmed.ConfirmedBy)
	require.NotNil(t, confirmed.ConfirmedAt)

	assert.Equal(t, int64(6), f.stock(t, f.widget.ID))
	assert.Equal(t, int64(1), f.stock(t, f.gadget.ID))

	movements := f.Store.StockMovements()
	require.Len(t, movements, 2)
	for _, m := range movements {
		assert.Equal(t, inventory.MovementOut, m.Type)
		assert.Equal(t, inventory.SourceSale, m.SourceType)
		assert.Equal(t, so.ID, m.SourceID)
	}

	receivables := f.Store.FinancialMovements()
	require.Len(t, receivables, 1)
	assert.Equal(t, finance.MovementReceivable, receivables[0].Type)
	assert.Equal(t, finance.SourceSale, receivables[0].SourceType)
	assert.Equal(t, "130.00", receivables[0].Amount.StringFixed(2))

	_, err = f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	assert.Len(t, f.Store.StockMovements(), 2)
}

func TestConfirmSalesOrderInsufficientStockRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	so := f.draft(t, 5, 4)

	_, err := f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	assert.Equal(t, int64(10), f.stock(t, f.widget.ID))
	assert.Equal(t, int64(3), f.stock(t, f.gadget.ID))
	assert.Empty(t, f.Store.StockMovements())
	assert.Empty(t, f.Store.FinancialMovements())

	current, _, err := f.Sales.GetSalesOrder(ctx, so.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.SalesOrderStatusDraft, current.Status)
}

func TestConfirmSalesOrderRequiresPricedLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	empty := f.draft(t, 0, 0)
	_, err := f.Sales.ConfirmSalesOrder(ctx, empty.ID, clerk)
	require.ErrorIs(t, err, shared.ErrValidation)

	free, err := f.Sales.CreateSalesOrder(ctx, sales.CreateSalesOrderRequest{
		CustomerName: "B",
		Lines:        []sales.CreateSalesOrderLineRequest{{ProductID: f.widget.ID, Quantity: 1}},
	}, clerk)
	require.NoError(t, err)
	_, err = f.Sales.ConfirmSalesOrder(ctx, free.ID, clerk)
	require.ErrorIs(t, err, shared.ErrValidation)
}

// ============================================================================
// CANCEL
// ============================================================================

func TestCancelDraftHasNoEffects(t *testing.T) {
	f := newFixture(t)
	so := f.draft(t, 1, 0)

	cancelled, err := f.Sales.CancelSalesOrder(context.Background(), so.ID, clerk, "  duplicate  ")
	require.NoError(t, err)
	assert.Equal(t, sales.SalesOrderStatusCancelled, cancelled.Status)
	assert.Equal(t, "duplicate", cancelled.CancelReason)
	assert.Empty(t, f.Store.StockMovements())

	_, err = f.Sales.CancelSalesOrder(context.Background(), so.ID, clerk, "")
	require.ErrorIs(t, err, shared.ErrAlreadyTerminal)
}

func TestCancelConfirmedRestocksAndVoidsReceivable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	so := f.draft(t, 4, 2)
	_, err := f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.NoError(t, err)

	cancelled, err := f.Sales.CancelSalesOrder(ctx, so.ID, clerk, "customer withdrew")
	require.NoError(t, err)
	assert.Equal(t, sales.SalesOrderStatusCancelled, cancelled.Status)

	assert.Equal(t, int64(10), f.stock(t, f.widget.ID))
	assert.Equal(t, int64(3), f.stock(t, f.gadget.ID))
	assert.Len(t, f.Store.StockMovements(), 4)

	receivables := f.Store.FinancialMovements()
	require.Len(t, receivables, 1)
	assert.Equal(t, finance.StatusVoid, receivables[0].Status)
	assert.Equal(t, "customer withdrew", receivables[0].Notes)

	var actions []string
	for _, log := range f.Store.AuditLogs() {
		if log.Entity == "sales_order" {
			actions = append(actions, log.Action)
		}
	}
	assert.Equal(t, []string{"SO_CREATE", "SO_CONFIRM", "SO_CANCEL"}, actions)
}

func TestCancelAfterReceivablePaidLeavesStockIntact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	so := f.draft(t, 4, 0)
	_, err := f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.NoError(t, err)

	receivable := f.Store.FinancialMovements()[0]
	_, err = f.Finance.Pay(ctx, clerk, receivable.ID)
	require.NoError(t, err)

	_, err = f.Sales.CancelSalesOrder(ctx, so.ID, clerk, "")
	require.ErrorIs(t, err, shared.ErrInvalidState)

	assert.Equal(t, int64(6), f.stock(t, f.widget.ID))
	assert.Len(t, f.Store.StockMovements(), 1)
	current, _, err := f.Sales.GetSalesOrder(ctx, so.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.SalesOrderStatusConfirmed, current.Status)
}

func TestCancelRetryAfterConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	so := f.draft(t, 2, 0)
	_, err := f.Sales.ConfirmSalesOrder(ctx, so.ID, clerk)
	require.NoError(t, err)

	f.Store.InjectConflicts(1)
	_, err = f.Sales.CancelSalesOrder(ctx, so.ID, clerk, "")
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	assert.Equal(t, int64(8), f.stock(t, f.widget.ID))

	_, err = f.Sales.CancelSalesOrder(ctx, so.ID, clerk, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), f.stock(t, f.widget.ID))
}

func TestListSalesOrdersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.draft(t, 1, 0)
	second := f.draft(t, 1, 0)
	_, err := f.Sales.ConfirmSalesOrder(ctx, second.ID, clerk)
	require.NoError(t, err)

	draft := sales.SalesOrderStatusDraft
	orders, err := f.Sales.ListSalesOrders(ctx, sales.ListSalesOrdersRequest{Status: &draft})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, first.ID, orders[0].ID)

	all, err := f.Sales.ListSalesOrders(ctx, sales.ListSalesOrdersRequest{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)
}
