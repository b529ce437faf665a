package workflow

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/procurement"
	"github.com/odyssey-erp/authzcore/internal/sales"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

func (d *Dispatcher) registerPurchases(svc PurchaseService) {
	d.handlers[ActionPurchaseEdit] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		switch input := req.Input.(type) {
		case procurement.LineInput:
			line, err := svc.AddLine(ctx, actorID, req.EntityID, input)
			return Result{Status: string(procurement.POStatusDraft), Entity: line}, err
		case PurchaseLineEdit:
			if input.Update == nil {
				return Result{Status: string(procurement.POStatusDraft)}, svc.RemoveLine(ctx, actorID, req.EntityID, input.LineID)
			}
			line, err := svc.UpdateLine(ctx, actorID, req.EntityID, input.LineID, *input.Update)
			return Result{Status: string(procurement.POStatusDraft), Entity: line}, err
		default:
			return Result{}, unexpectedInput(req)
		}
	}
	d.handlers[ActionPurchaseConfirm] = purchaseStep(func(ctx context.Context, actorID int64, req Request) (procurement.PurchaseOrder, error) {
		return svc.Confirm(ctx, actorID, req.EntityID)
	})
	d.handlers[ActionPurchaseReceive] = purchaseStep(func(ctx context.Context, actorID int64, req Request) (procurement.PurchaseOrder, error) {
		return svc.Receive(ctx, actorID, req.EntityID)
	})
	d.handlers[ActionPurchaseCancel] = purchaseStep(func(ctx context.Context, actorID int64, req Request) (procurement.PurchaseOrder, error) {
		return svc.Cancel(ctx, actorID, req.EntityID, req.Reason)
	})
}

func purchaseStep(fn func(context.Context, int64, Request) (procurement.PurchaseOrder, error)) handler {
	return func(ctx context.Context, actorID int64, req Request) (Result, error) {
		po, err := fn(ctx, actorID, req)
		if err != nil {
			return Result{}, err
		}
		return Result{EntityID: po.ID, Status: string(po.Status), Entity: po}, nil
	}
}

func (d *Dispatcher) registerFinance(svc FinanceService) {
	d.handlers[ActionFinancePay] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		m, err := svc.Pay(ctx, actorID, req.EntityID)
		if err != nil {
			return Result{}, err
		}
		return Result{EntityID: m.ID, Status: string(m.Status), Entity: m}, nil
	}
	d.handlers[ActionFinanceVoid] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		m, err := svc.Void(ctx, actorID, req.EntityID, req.Reason)
		if err != nil {
			return Result{}, err
		}
		return Result{EntityID: m.ID, Status: string(m.Status), Entity: m}, nil
	}
}

func (d *Dispatcher) registerSales(svc SalesService) {
	d.handlers[ActionSaleEdit] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		input, ok := req.Input.(sales.CreateSalesOrderLineRequest)
		if !ok {
			return Result{}, unexpectedInput(req)
		}
		line, err := svc.AddLine(ctx, req.EntityID, input, actorID)
		if err != nil {
			return Result{}, err
		}
		return Result{Status: string(sales.SalesOrderStatusDraft), Entity: *line}, nil
	}
	d.handlers[ActionSaleConfirm] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		so, err := svc.ConfirmSalesOrder(ctx, req.EntityID, actorID)
		if err != nil {
			return Result{}, err
		}
		return Result{EntityID: so.ID, Status: string(so.Status), Entity: *so}, nil
	}
	d.handlers[ActionSaleCancel] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		so, err := svc.CancelSalesOrder(ctx, req.EntityID, actorID, req.Reason)
		if err != nil {
			return Result{}, err
		}
		return Result{EntityID: so.ID, Status: string(so.Status), Entity: *so}, nil
	}
}

// Manual movements report POSTED, or DUPLICATE when the request was applied before.
func (d *Dispatcher) registerStock(svc StockService) {
	d.handlers[ActionStockManual] = func(ctx context.Context, actorID int64, req Request) (Result, error) {
		input, ok := req.Input.(inventory.ManualInput)
		if !ok {
			return Result{}, unexpectedInput(req)
		}
		res, err := svc.PostManual(ctx, actorID, input)
		if err != nil {
			return Result{}, err
		}
		status := "POSTED"
		if !res.Applied {
			status = "DUPLICATE"
		}
		return Result{EntityID: input.ProductID, Status: status, Entity: res}, nil
	}
}

func unexpectedInput(req Request) error {
	return fmt.Errorf("workflow: %s: unexpected input %T: %w", req.Action, req.Input, shared.ErrValidation)
}
