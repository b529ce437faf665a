package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	ListPOs(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
}

// InventoryPort exposes required inventory integration.
type InventoryPort interface {
	Product(ctx context.Context, id int64) (inventory.Product, error)
	PostForSource(ctx context.Context, input inventory.MovementInput) (inventory.PostResult, error)
}

// LedgerPort exposes the payable generation of finance.
type LedgerPort interface {
	EnsurePayable(ctx context.Context, purchaseID int64, amount decimal.Decimal) (finance.Movement, bool, error)
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo        RepositoryPort
	inventory   InventoryPort
	ledger      LedgerPort
	audit       shared.AuditRecorder
	logger      *slog.Logger
	integration IntegrationHandler
	now         func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, inventory InventoryPort, ledger LedgerPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, inventory: inventory, ledger: ledger, audit: audit, logger: logger, now: time.Now}
}

// SetIntegrationHandler registers the receiver of procurement events.
func (s *Service) SetIntegrationHandler(handler IntegrationHandler) {
	s.integration = handler
}

// Get loads an order with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return s.repo.GetPO(ctx, id)
}

// List returns orders newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	return s.repo.ListPOs(ctx, filter)
}

// Create persists a DRAFT order with its initial lines.
func (s *Service) Create(ctx context.Context, actorID int64, input CreatePOInput) (PurchaseOrder, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: create: %w", err)
	}
	for _, line := range input.Lines {
		if err := validateCost(line.UnitCost); err != nil {
			return PurchaseOrder{}, err
		}
	}
	var created PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.CreatePO(ctx, PurchaseOrder{
			SupplierID:      input.SupplierID,
			SupplierInvoice: input.SupplierInvoice,
			Status:          POStatusDraft,
			Note:            input.Note,
			CreatedBy:       actorID,
		})
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			if _, err := addLine(ctx, tx, po.ID, line); err != nil {
				return err
			}
		}
		created = po
		return s.record(ctx, actorID, "PO_CREATE", po.ID, "", map[string]any{"supplier_id": po.SupplierID, "lines": len(input.Lines)})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return created, nil
}

// AddLine adds a product to a DRAFT order. An existing line of the same product
// accumulates qty and takes the new unit cost when one is given.
func (s *Service) AddLine(ctx context.Context, actorID, poID int64, input LineInput) (POLine, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return POLine{}, fmt.Errorf("procurement: add line: %w", err)
	}
	if err := validateCost(input.UnitCost); err != nil {
		return POLine{}, err
	}
	var line POLine
	err := s.edit(ctx, actorID, poID, "PO_LINE_ADD", func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		var err error
		if line, err = addLine(ctx, tx, poID, input); err != nil {
			return nil, err
		}
		return map[string]any{"line_id": line.ID, "product_id": line.ProductID, "qty": line.Qty}, nil
	})
	if err != nil {
		return POLine{}, err
	}
	return line, nil
}

// UpdateLine replaces qty and unit cost of a DRAFT order line.
func (s *Service) UpdateLine(ctx context.Context, actorID, poID, lineID int64, input LineUpdate) (POLine, error) {
	if err := shared.ValidateStruct(input); err != nil {
		return POLine{}, fmt.Errorf("procurement: update line: %w", err)
	}
	if err := validateCost(&input.UnitCost); err != nil {
		return POLine{}, err
	}
	var line POLine
	err := s.edit(ctx, actorID, poID, "PO_LINE_UPDATE", func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		current, err := tx.GetLine(ctx, poID, lineID)
		if err != nil {
			return nil, err
		}
		current.Qty = input.Qty
		current.UnitCost = input.UnitCost
		if err := tx.UpdateLine(ctx, current); err != nil {
			return nil, err
		}
		line = current
		return map[string]any{"line_id": lineID, "qty": current.Qty, "unit_cost": current.UnitCost.StringFixed(2)}, nil
	})
	if err != nil {
		return POLine{}, err
	}
	return line, nil
}

// RemoveLine deletes a line of a DRAFT order.
func (s *Service) RemoveLine(ctx context.Context, actorID, poID, lineID int64) error {
	return s.edit(ctx, actorID, poID, "PO_LINE_REMOVE", func(ctx context.Context, tx TxRepository) (map[string]any, error) {
		if _, err := tx.GetLine(ctx, poID, lineID); err != nil {
			return nil, err
		}
		if err := tx.DeleteLine(ctx, poID, lineID); err != nil {
			return nil, err
		}
		return map[string]any{"line_id": lineID}, nil
	})
}

// Confirm moves a DRAFT order with valid lines to CONFIRMED. No stock or money moves yet.
func (s *Service) Confirm(ctx context.Context, actorID, poID int64) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		to, err := CanTransition(po.Status, ActionConfirm)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, poID)
		if err != nil {
			return err
		}
		if err := s.validateLines(ctx, lines); err != nil {
			return err
		}
		now := s.now().UTC()
		po.Status = to
		po.ConfirmedBy = actorID
		po.ConfirmedAt = &now
		if out, err = tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return s.record(ctx, actorID, "PO_CONFIRM", poID, "", map[string]any{"total": Total(lines).StringFixed(2)})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return out, nil
}

// Receive books one IN movement per line and the payable of the order, all in
// one transaction. A second receive fails with shared.ErrAlreadyReceived.
func (s *Service) Receive(ctx context.Context, actorID, poID int64) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		to, err := CanTransition(po.Status, ActionReceive)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, poID)
		if err != nil {
			return err
		}
		if err := s.validateLines(ctx, lines); err != nil {
			return err
		}
		now := s.now().UTC()
		evt := ReceivedEvent{POID: po.ID, SupplierID: po.SupplierID, ReceivedAt: now, Total: Total(lines)}
		for _, line := range lines {
			res, err := s.inventory.PostForSource(ctx, inventory.MovementInput{
				ProductID:  line.ProductID,
				Type:       inventory.MovementIn,
				Qty:        line.Qty,
				SourceType: inventory.SourcePurchase,
				SourceID:   po.ID,
				Event:      "RECEIVE",
				LineRef:    strconv.FormatInt(line.ID, 10),
				Note:       fmt.Sprintf("Purchase #%d received", po.ID),
				ActorID:    actorID,
			})
			if err != nil {
				return fmt.Errorf("procurement: receive line %d: %w", line.ID, err)
			}
			evt.Lines = append(evt.Lines, ReceivedLineEvent{
				LineID:     line.ID,
				ProductID:  line.ProductID,
				Qty:        line.Qty,
				MovementID: res.Movement.ID,
				Applied:    res.Applied,
			})
		}
		payable, _, err := s.ledger.EnsurePayable(ctx, po.ID, evt.Total)
		if err != nil {
			return fmt.Errorf("procurement: payable: %w", err)
		}
		evt.PayableID = payable.ID

		po.Status = to
		po.ReceivedBy = actorID
		po.ReceivedAt = &now
		if out, err = tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		if err := s.record(ctx, actorID, "PO_RECEIVE", poID, "", map[string]any{
			"total":      evt.Total.StringFixed(2),
			"payable_id": payable.ID,
			"lines":      len(lines),
		}); err != nil {
			return err
		}
		if s.integration != nil {
			return s.integration.HandlePurchaseReceived(ctx, evt)
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return out, nil
}

// Cancel moves a DRAFT or CONFIRMED order to CANCELLED and reverses whatever the
// order had applied. Neither status has stock or money effects, so nothing is posted.
func (s *Service) Cancel(ctx context.Context, actorID, poID int64, reason string) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		from := po.Status
		to, err := CanTransition(from, ActionCancel)
		if err != nil {
			return err
		}
		reversed := len(effectsApplied(from))
		now := s.now().UTC()
		po.Status = to
		po.CancelledBy = actorID
		po.CancelledAt = &now
		if out, err = tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		if err := s.record(ctx, actorID, "PO_CANCEL", poID, reason, map[string]any{"from": string(from), "reversed": reversed}); err != nil {
			return err
		}
		if s.integration != nil {
			return s.integration.HandlePurchaseCancelled(ctx, CancelledEvent{POID: po.ID, From: from, CancelledAt: now, Reversed: reversed})
		}
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	return out, nil
}

// effectsApplied lists the side effects committed by the time an order reaches status.
// Only RECEIVED carries effects and it cannot be cancelled.
func effectsApplied(status POStatus) []string {
	if status == POStatusReceived {
		return []string{"stock_in", "payable"}
	}
	return nil
}

func (s *Service) edit(ctx context.Context, actorID, poID int64, action string, fn func(context.Context, TxRepository) (map[string]any, error)) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		if _, err := CanTransition(po.Status, ActionEdit); err != nil {
			return err
		}
		meta, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		if _, err := tx.UpdatePO(ctx, po); err != nil {
			return err
		}
		return s.record(ctx, actorID, action, poID, "", meta)
	})
}

func addLine(ctx context.Context, tx TxRepository, poID int64, input LineInput) (POLine, error) {
	existing, found, err := tx.FindLineByProduct(ctx, poID, input.ProductID)
	if err != nil {
		return POLine{}, err
	}
	if found {
		existing.Qty += input.Qty
		if input.UnitCost != nil {
			existing.UnitCost = *input.UnitCost
		}
		return existing, tx.UpdateLine(ctx, existing)
	}
	line := POLine{POID: poID, ProductID: input.ProductID, Qty: input.Qty, UnitCost: decimal.Zero}
	if input.UnitCost != nil {
		line.UnitCost = *input.UnitCost
	}
	return tx.InsertLine(ctx, line)
}

func (s *Service) validateLines(ctx context.Context, lines []POLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("procurement: order has no lines: %w", shared.ErrValidation)
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return fmt.Errorf("procurement: line %d qty must be > 0: %w", line.ID, shared.ErrValidation)
		}
		if !line.UnitCost.IsPositive() {
			return fmt.Errorf("procurement: line %d unit cost must be > 0: %w", line.ID, shared.ErrValidation)
		}
		product, err := s.inventory.Product(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if !product.Active {
			return fmt.Errorf("procurement: line %d product %d inactive: %w", line.ID, product.ID, shared.ErrValidation)
		}
	}
	return nil
}

func validateCost(cost *decimal.Decimal) error {
	if cost != nil && cost.IsNegative() {
		return fmt.Errorf("procurement: unit cost must be >= 0: %w", shared.ErrValidation)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, poID int64, reason string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "purchase_order",
		EntityID: strconv.FormatInt(poID, 10),
		Outcome:  shared.AuditApplied,
		Reason:   reason,
		Meta:     meta,
	})
}
