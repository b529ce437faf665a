// Package workflow routes guarded actions to the domain services. Every action
// is authorized against a fixed permission table before it runs, and every
// denial or rejection leaves an audit entry.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/rbac"
	"github.com/odyssey-erp/authzcore/internal/sales"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Action names a guarded operation.
type Action string

const (
	ActionPurchaseEdit    Action = "purchase.edit"
	ActionPurchaseConfirm Action = "purchase.confirm"
	ActionPurchaseReceive Action = "purchase.receive"
	ActionPurchaseCancel  Action = "purchase.cancel"
	ActionFinancePay      Action = "finance.pay"
	ActionFinanceVoid     Action = "finance.void"
	ActionSaleEdit        Action = "sale.edit"
	ActionSaleConfirm     Action = "sale.confirm"
	ActionSaleCancel      Action = "sale.cancel"
	ActionStockManual     Action = "stock.manual"
)

var permissions = map[Action]string{
	ActionPurchaseEdit:    "purchases.order.edit",
	ActionPurchaseConfirm: "purchases.order.confirm",
	ActionPurchaseReceive: "purchases.order.receive",
	ActionPurchaseCancel:  "purchases.order.cancel",
	ActionFinancePay:      "finance.movement.pay",
	ActionFinanceVoid:     "finance.movement.void",
	ActionSaleEdit:        "sales.order.edit",
	ActionSaleConfirm:     "sales.order.confirm",
	ActionSaleCancel:      "sales.order.cancel",
	ActionStockManual:     "stock.movement.create",
}

var entities = map[Action]string{
	ActionPurchaseEdit:    "purchase_order",
	ActionPurchaseConfirm: "purchase_order",
	ActionPurchaseReceive: "purchase_order",
	ActionPurchaseCancel:  "purchase_order",
	ActionFinancePay:      "financial_movement",
	ActionFinanceVoid:     "financial_movement",
	ActionSaleEdit:        "sales_order",
	ActionSaleConfirm:     "sales_order",
	ActionSaleCancel:      "sales_order",
	ActionStockManual:     "product",
}

// ErrUnknownAction indicates an action without a policy entry or handler.
var ErrUnknownAction = fmt.Errorf("workflow: unknown action: %w", shared.ErrValidation)

// Permission returns the permission code guarding action.
func Permission(action Action) (string, bool) {
	code, ok := permissions[action]
	return code, ok
}

// Actions lists every action of the policy table, sorted.
func Actions() []Action {
	out := make([]Action, 0, len(permissions))
	for action := range permissions {
		out = append(out, action)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Authorizer decides whether a principal holds a permission code.
type Authorizer interface {
	Authorize(ctx context.Context, p rbac.Principal, code string) (rbac.Decision, error)
}

// PurchaseService is the procurement surface driven by the dispatcher.
type PurchaseService interface {
	AddLine(ctx context.Context, actorID, poID int64, input procurement.LineInput) (procurement.POLine, error)
	UpdateLine(ctx context.Context, actorID, poID, lineID int64, input procurement.LineUpdate) (procurement.POLine, error)
	RemoveLine(ctx context.Context, actorID, poID, lineID int64) error
	Confirm(ctx context.Context, actorID, poID int64) (procurement.PurchaseOrder, error)
	Receive(ctx context.Context, actorID, poID int64) (procurement.PurchaseOrder, error)
	Cancel(ctx context.Context, actorID, poID int64, reason string) (procurement.PurchaseOrder, error)
}

// FinanceService is the finance surface driven by the dispatcher.
type FinanceService interface {
	Pay(ctx context.Context, actorID, id int64) (finance.Movement, error)
	Void(ctx context.Context, actorID, id int64, reason string) (finance.Movement, error)
}

// SalesService is the sales surface driven by the dispatcher.
type SalesService interface {
	AddLine(ctx context.Context, id int64, req sales.CreateSalesOrderLineRequest, userID int64) (*sales.SalesOrderLine, error)
	ConfirmSalesOrder(ctx context.Context, id int64, confirmedBy int64) (*sales.SalesOrder, error)
	CancelSalesOrder(ctx context.Context, id int64, cancelledBy int64, reason string) (*sales.SalesOrder, error)
}

// StockService is the inventory surface driven by the dispatcher.
type StockService interface {
	PostManual(ctx context.Context, actorID int64, input inventory.ManualInput) (inventory.PostResult, error)
}

// Services groups the handlers' targets. Actions of a nil service are unknown.
type Services struct {
	Purchases PurchaseService
	Finance   FinanceService
	Sales     SalesService
	Stock     StockService
}

// PurchaseLineEdit changes an existing purchase order line. A nil Update removes it.
type PurchaseLineEdit struct {
	LineID int64
	Update *procurement.LineUpdate
}

// Request describes one guarded action. Input carries the payload of edit and
// manual stock actions.
type Request struct {
	Action   Action
	EntityID int64
	Reason   string
	Input    any
}

// Result reports the entity state after the action.
type Result struct {
	Action   Action
	EntityID int64
	Status   string
	Entity   any
}

type handler func(ctx context.Context, actorID int64, req Request) (Result, error)

// Dispatcher authorizes and runs actions.
type Dispatcher struct {
	authz    Authorizer
	audit    shared.AuditRecorder
	logger   *slog.Logger
	handlers map[Action]handler
}

// NewDispatcher builds a dispatcher over the given services.
func NewDispatcher(authz Authorizer, services Services, audit shared.AuditRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{authz: authz, audit: audit, logger: logger, handlers: make(map[Action]handler)}
	if services.Purchases != nil {
		d.registerPurchases(services.Purchases)
	}
	if services.Finance != nil {
		d.registerFinance(services.Finance)
	}
	if services.Sales != nil {
		d.registerSales(services.Sales)
	}
	if services.Stock != nil {
		d.registerStock(services.Stock)
	}
	return d
}

// Guard authorizes p for action without running it.
func (d *Dispatcher) Guard(ctx context.Context, p rbac.Principal, action Action) (rbac.Decision, error) {
	code, ok := permissions[action]
	if !ok {
		return rbac.Decision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	decision, err := d.authz.Authorize(ctx, p, code)
	if err != nil {
		return decision, err
	}
	return decision, decision.Err()
}

// Apply authorizes and runs req. A concurrency conflict is retried once.
func (d *Dispatcher) Apply(ctx context.Context, p rbac.Principal, req Request) (Result, error) {
	code, ok := permissions[req.Action]
	h, registered := d.handlers[req.Action]
	if !ok || !registered {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownAction, req.Action)
	}
	if req.EntityID == 0 {
		req.EntityID = inputEntityID(req.Input)
	}
	decision, err := d.authz.Authorize(ctx, p, code)
	if err != nil {
		return Result{}, err
	}
	actor := actorID(p)
	if !decision.Allowed {
		return Result{}, d.denied(ctx, actor, req, decision)
	}

	ctx = shared.ContextWithActor(ctx, actor)
	res, err := h(ctx, actor, req)
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		d.logger.Warn("workflow conflict, retrying", slog.String("action", string(req.Action)), slog.Int64("entity_id", req.EntityID))
		res, err = h(ctx, actor, req)
	}
	if err != nil {
		return Result{}, d.rejected(ctx, actor, req, err)
	}
	res.Action = req.Action
	if res.EntityID == 0 {
		res.EntityID = req.EntityID
	}
	d.logger.Info("workflow applied",
		slog.String("action", string(req.Action)),
		slog.Int64("entity_id", res.EntityID),
		slog.Int64("actor_id", actor),
		slog.String("status", res.Status),
		slog.String("grant", string(decision.Grant)),
	)
	return res, nil
}

func (d *Dispatcher) denied(ctx context.Context, actor int64, req Request, decision rbac.Decision) error {
	denial := decision.Err()
	err := d.record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   string(req.Action),
		Entity:   entities[req.Action],
		EntityID: strconv.FormatInt(req.EntityID, 10),
		Outcome:  shared.AuditDenied,
		Reason:   string(decision.Reason),
		Meta:     map[string]any{"permission": decision.Code},
	})
	if err != nil {
		d.logger.Error("workflow audit denied", slog.String("action", string(req.Action)), slog.Any("error", err))
		return errors.Join(denial, err)
	}
	d.logger.Info("workflow denied", slog.String("action", string(req.Action)), slog.Int64("actor_id", actor), slog.String("reason", string(decision.Reason)))
	return denial
}

func (d *Dispatcher) rejected(ctx context.Context, actor int64, req Request, cause error) error {
	meta := map[string]any{}
	if req.Reason != "" {
		meta["reason"] = req.Reason
	}
	err := d.record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   string(req.Action),
		Entity:   entities[req.Action],
		EntityID: strconv.FormatInt(req.EntityID, 10),
		Outcome:  shared.AuditRejected,
		Reason:   cause.Error(),
		Meta:     meta,
	})
	if err != nil {
		d.logger.Error("workflow audit rejected", slog.String("action", string(req.Action)), slog.Any("error", err))
		return errors.Join(cause, err)
	}
	d.logger.Warn("workflow rejected", slog.String("action", string(req.Action)), slog.Int64("entity_id", req.EntityID), slog.Any("error", cause))
	return cause
}

func (d *Dispatcher) record(ctx context.Context, log shared.AuditLog) error {
	if d.audit == nil {
		return nil
	}
	return d.audit.Record(ctx, log)
}

func actorID(p rbac.Principal) int64 {
	if !rbac.Authenticated(p) {
		return 0
	}
	return p.GetID()
}

func inputEntityID(input any) int64 {
	if manual, ok := input.(inventory.ManualInput); ok {
		return manual.ProductID
	}
	return 0
}
