package workflow_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/rbac"
	"github.com/odyssey-erp/authzcore/internal/shared"
	"github.com/odyssey-erp/authzcore/internal/testing/memstore"
	"github.com/odyssey-erp/authzcore/internal/workflow"
)

type staticGraph struct {
	roles map[int64][]rbac.Role
}

func (g staticGraph) RolesOf(_ context.Context, principalID int64) ([]rbac.Role, error) {
	return g.roles[principalID], nil
}

func (g staticGraph) RolePermissions(_ context.Context, roleID int64) ([]string, error) {
	for _, roles := range g.roles {
		for _, role := range roles {
			if role.ID == roleID {
				return role.Permissions, nil
			}
		}
	}
	return nil, nil
}

var (
	warehouse = rbac.Identity{ID: 10, Username: "deposito", Active: true}
	buyer     = rbac.Identity{ID: 11, Username: "compras", Active: true}
	treasurer = rbac.Identity{ID: 12, Username: "tesoreria", Active: true}
	admin     = rbac.Identity{ID: 1, Username: "root", Active: true, Superuser: true}
)

type fixture struct {
	*memstore.Domain
	dispatcher *workflow.Dispatcher
	product    inventory.Product
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	policy, err := rbac.DefaultPolicy()
	require.NoError(t, err)
	registry := policy.Registry()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	graph := rbac.NewGraph(staticGraph{roles: map[int64][]rbac.Role{
		warehouse.ID: {{ID: 1, Name: "Depósito", Active: true, Permissions: []string{"purchases.order.receive", "stock.movement.create"}}},
		buyer.ID:     {{ID: 2, Name: "Compras", Active: true, Permissions: []string{"purchases.order.edit", "purchases.order.confirm", "purchases.order.cancel"}}},
		treasurer.ID: {{ID: 3, Name: "Tesorería", Active: true, Permissions: []string{"finance.movement.pay", "finance.movement.void"}}},
	}}, registry, nil, logger)
	authz := rbac.NewAuthorizer(registry, graph, rbac.FallbackMap{}, nil, logger)

	d := memstore.NewDomain(finance.Policy{})
	dispatcher := workflow.NewDispatcher(authz, workflow.Services{
		Purchases: d.Procurement,
		Finance:   d.Finance,
		Sales:     d.Sales,
		Stock:     d.Inventory,
	}, d.Store, logger)
	return fixture{
		Domain:     d,
		dispatcher: dispatcher,
		product:    d.Store.AddProduct(inventory.Product{SKU: "YER-1", Name: "Yerba", Active: true}),
	}
}

func (f fixture) confirmedPO(t *testing.T) int64 {
	t.Helper()
	ctx := context.Background()
	unitCost := decimal.RequireFromString("3.20")
	po, err := f.Procurement.Create(ctx, buyer.ID, procurement.CreatePOInput{
		SupplierID: 5,
		Lines:      []procurement.LineInput{{ProductID: f.product.ID, Qty: 12, UnitCost: &unitCost}},
	})
	require.NoError(t, err)
	res, err := f.dispatcher.Apply(ctx, buyer, workflow.Request{Action: workflow.ActionPurchaseConfirm, EntityID: po.ID})
	require.NoError(t, err)
	require.Equal(t, "CONFIRMED", res.Status)
	return po.ID
}

func (f fixture) auditOutcomes(action workflow.Action) []shared.AuditOutcome {
	var out []shared.AuditOutcome
	for _, log := range f.Store.AuditLogs() {
		if log.Action == string(action) {
			out = append(out, log.Outcome)
		}
	}
	return out
}

func TestPolicyTableUsesRegisteredPermissions(t *testing.T) {
	policy, err := rbac.DefaultPolicy()
	require.NoError(t, err)
	registry := policy.Registry()
	actions := workflow.Actions()
	require.Len(t, actions, 10)
	for _, action := range actions {
		code, ok := workflow.Permission(action)
		require.True(t, ok, action)
		require.True(t, registry.Has(code), "%s → %s", action, code)
	}
	_, ok := workflow.Permission("purchase.delete")
	require.False(t, ok)
}

func TestApplyRunsAuthorizedAction(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)

	res, err := f.dispatcher.Apply(context.Background(), warehouse, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.NoError(t, err)
	require.Equal(t, workflow.ActionPurchaseReceive, res.Action)
	require.Equal(t, poID, res.EntityID)
	require.Equal(t, "RECEIVED", res.Status)

	product, err := f.Inventory.Product(context.Background(), f.product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(12), product.Stock)
	require.Len(t, f.Store.FinancialMovements(), 1)
}

func TestApplyDeniesAndAudits(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)
	ctx := context.Background()

	_, err := f.dispatcher.Apply(ctx, buyer, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.dispatcher.Apply(ctx, rbac.Identity{ID: 40, Active: false}, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	_, err = f.dispatcher.Apply(ctx, nil, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.ErrorIs(t, err, shared.ErrUnauthenticated)

	require.Empty(t, f.Store.StockMovements())
	require.Equal(t, []shared.AuditOutcome{shared.AuditDenied, shared.AuditDenied, shared.AuditDenied}, f.auditOutcomes(workflow.ActionPurchaseReceive))

	logs := f.Store.AuditLogs()
	denial := logs[len(logs)-3]
	require.Equal(t, buyer.ID, denial.ActorID)
	require.Equal(t, "purchase_order", denial.Entity)
	require.Equal(t, "forbidden", denial.Reason)
	require.Equal(t, "purchases.order.receive", denial.Meta["permission"])
	require.Zero(t, logs[len(logs)-1].ActorID)
}

func TestApplySuperuserBypass(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)

	res, err := f.dispatcher.Apply(context.Background(), admin, workflow.Request{Action: workflow.ActionPurchaseCancel, EntityID: poID, Reason: "duplicada"})
	require.NoError(t, err)
	require.Equal(t, "CANCELLED", res.Status)
}

func TestApplyRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)
	ctx := context.Background()

	_, err := f.dispatcher.Apply(ctx, warehouse, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.NoError(t, err)
	_, err = f.dispatcher.Apply(ctx, warehouse, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.ErrorIs(t, err, shared.ErrAlreadyReceived)

	_, err = f.dispatcher.Apply(ctx, buyer, workflow.Request{Action: workflow.ActionPurchaseCancel, EntityID: poID, Reason: "late"})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	require.Len(t, f.Store.StockMovements(), 1)
	require.Equal(t, []shared.AuditOutcome{shared.AuditRejected}, f.auditOutcomes(workflow.ActionPurchaseReceive))
	logs := f.Store.AuditLogs()
	last := logs[len(logs)-1]
	require.Equal(t, shared.AuditRejected, last.Outcome)
	require.Equal(t, "late", last.Meta["reason"])
	require.Contains(t, last.Reason, "invalid state transition")
}

func TestApplyRetriesOneConflict(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)

	f.Store.InjectConflicts(1)
	res, err := f.dispatcher.Apply(context.Background(), warehouse, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.NoError(t, err)
	require.Equal(t, "RECEIVED", res.Status)
	require.Len(t, f.Store.StockMovements(), 1)
	require.Empty(t, f.auditOutcomes(workflow.ActionPurchaseReceive))
}

func TestApplyGivesUpAfterSecondConflict(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)

	f.Store.InjectConflicts(2)
	_, err := f.dispatcher.Apply(context.Background(), warehouse, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.ErrorIs(t, err, shared.ErrConcurrencyConflict)
	require.Empty(t, f.Store.StockMovements())
	require.Equal(t, []shared.AuditOutcome{shared.AuditRejected}, f.auditOutcomes(workflow.ActionPurchaseReceive))
}

func TestApplyUnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.dispatcher.Apply(context.Background(), admin, workflow.Request{Action: "purchase.delete", EntityID: 1})
	require.ErrorIs(t, err, workflow.ErrUnknownAction)
	require.ErrorIs(t, err, shared.ErrValidation)

	partial := workflow.NewDispatcher(nil, workflow.Services{}, nil, nil)
	_, err = partial.Apply(context.Background(), admin, workflow.Request{Action: workflow.ActionFinancePay, EntityID: 1})
	require.ErrorIs(t, err, workflow.ErrUnknownAction)
	require.Empty(t, f.Store.AuditLogs())
}

func TestApplyFinanceAndStockActions(t *testing.T) {
	f := newFixture(t)
	poID := f.confirmedPO(t)
	ctx := context.Background()
	_, err := f.dispatcher.Apply(ctx, warehouse, workflow.Request{Action: workflow.ActionPurchaseReceive, EntityID: poID})
	require.NoError(t, err)
	payable := f.Store.FinancialMovements()[0]

	_, err = f.dispatcher.Apply(ctx, warehouse, workflow.Request{Action: workflow.ActionFinancePay, EntityID: payable.ID})
	require.ErrorIs(t, err, shared.ErrForbidden)
	res, err := f.dispatcher.Apply(ctx, treasurer, workflow.Request{Action: workflow.ActionFinancePay, EntityID: payable.ID})
	require.NoError(t, err)
	require.Equal(t, "PAID", res.Status)
	_, err = f.dispatcher.Apply(ctx, treasurer, workflow.Request{Action: workflow.ActionFinanceVoid, EntityID: payable.ID, Reason: "error"})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	manual := inventory.ManualInput{ProductID: f.product.ID, Type: inventory.MovementOut, Qty: 2, Note: "merma"}
	res, err = f.dispatcher.Apply(ctx, warehouse, workflow.Request{Action: workflow.ActionStockManual, Input: manual})
	require.NoError(t, err)
	require.Equal(t, f.product.ID, res.EntityID)
	require.Equal(t, "POSTED", res.Status)

	_, err = f.dispatcher.Apply(ctx, warehouse, workflow.Request{Action: workflow.ActionStockManual, EntityID: f.product.ID, Input: "two units"})
	require.ErrorIs(t, err, shared.ErrValidation)

	product, err := f.Inventory.Product(ctx, f.product.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), product.Stock)
}

func TestApplyPurchaseLineEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po, err := f.Procurement.Create(ctx, buyer.ID, procurement.CreatePOInput{SupplierID: 5})
	require.NoError(t, err)

	res, err := f.dispatcher.Apply(ctx, buyer, workflow.Request{Action: workflow.ActionPurchaseEdit, EntityID: po.ID, Input: procurement.LineInput{ProductID: f.product.ID, Qty: 3}})
	require.NoError(t, err)
	line := res.Entity.(procurement.POLine)

	update := procurement.LineUpdate{Qty: 4, UnitCost: decimal.NewFromInt(2)}
	_, err = f.dispatcher.Apply(ctx, buyer, workflow.Request{Action: workflow.ActionPurchaseEdit, EntityID: po.ID, Input: workflow.PurchaseLineEdit{LineID: line.ID, Update: &update}})
	require.NoError(t, err)
	_, lines, err := f.Procurement.Get(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, int64(4), lines[0].Qty)

	_, err = f.dispatcher.Apply(ctx, buyer, workflow.Request{Action: workflow.ActionPurchaseEdit, EntityID: po.ID, Input: workflow.PurchaseLineEdit{LineID: line.ID}})
	require.NoError(t, err)
	_, lines, err = f.Procurement.Get(ctx, po.ID)
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	decision, err := f.dispatcher.Guard(ctx, warehouse, workflow.ActionStockManual)
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, rbac.GrantRole, decision.Grant)

	decision, err = f.dispatcher.Guard(ctx, warehouse, workflow.ActionSaleConfirm)
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.False(t, decision.Allowed)

	_, err = f.dispatcher.Guard(ctx, warehouse, "sale.refund")
	require.True(t, errors.Is(err, workflow.ErrUnknownAction))
	require.Empty(t, f.Store.AuditLogs())
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, shared.AuditLog) error {
	return errors.New("audit_logs unavailable")
}

func TestDenialAuditFailureIsJoined(t *testing.T) {
	policy, err := rbac.DefaultPolicy()
	require.NoError(t, err)
	registry := policy.Registry()
	authz := rbac.NewAuthorizer(registry, rbac.NewGraph(staticGraph{}, registry, nil, nil), rbac.FallbackMap{}, nil, nil)
	d := memstore.NewDomain(finance.Policy{})
	dispatcher := workflow.NewDispatcher(authz, workflow.Services{Finance: d.Finance}, failingAudit{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err = dispatcher.Apply(context.Background(), buyer, workflow.Request{Action: workflow.ActionFinancePay, EntityID: 1})
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.ErrorContains(t, err, "audit_logs unavailable")
}
