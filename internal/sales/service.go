package sales

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/finance"
	"github.com/odyssey-erp/authzcore/internal/inventory"
	"github.com/odyssey-erp/authzcore/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSalesOrder(ctx context.Context, id int64) (*SalesOrder, []SalesOrderLine, error)
	ListSalesOrders(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrder, error)
}

// StockPort posts the stock effects of a sale.
type StockPort interface {
	PostForSource(ctx context.Context, input inventory.MovementInput) (inventory.PostResult, error)
}

// LedgerPort manages the receivable of a sale.
type LedgerPort interface {
	EnsureReceivable(ctx context.Context, saleID int64, amount decimal.Decimal) (finance.Movement, bool, error)
	VoidForSource(ctx context.Context, mType finance.MovementType, sType finance.SourceType, sourceID int64, reason string) error
}

type Service struct {
	repo   RepositoryPort
	stock  StockPort
	ledger LedgerPort
	audit  shared.AuditRecorder
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryPort, stock StockPort, ledger LedgerPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, ledger: ledger, audit: audit, logger: logger, now: time.Now}
}

// CreateSalesOrder creates a DRAFT sales order.
func (s *Service) CreateSalesOrder(ctx context.Context, req CreateSalesOrderRequest, createdBy int64) (*SalesOrder, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("create sales order: %w", err)
	}
	for _, line := range req.Lines {
		if line.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("%w: unit price must be >= 0", shared.ErrValidation)
		}
	}
	var created *SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.CreateSalesOrder(ctx, SalesOrder{
			CustomerName: strings.TrimSpace(req.CustomerName),
			Status:       SalesOrderStatusDraft,
			CreatedBy:    createdBy,
		})
		if err != nil {
			return err
		}
		for _, line := range req.Lines {
			if _, err := tx.InsertLine(ctx, SalesOrderLine{
				SalesOrderID: so.ID,
				ProductID:    line.ProductID,
				Quantity:     line.Quantity,
				UnitPrice:    line.UnitPrice,
			}); err != nil {
				return err
			}
		}
		created = &so
		return s.record(ctx, createdBy, "SO_CREATE", so.ID, "", map[string]any{"lines": len(req.Lines)})
	})
	if err != nil {
		return nil, fmt.Errorf("create sales order: %w", err)
	}
	return created, nil
}

// AddLine appends a line to a DRAFT sales order.
func (s *Service) AddLine(ctx context.Context, id int64, req CreateSalesOrderLineRequest, userID int64) (*SalesOrderLine, error) {
	if err := shared.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("add sales order line: %w", err)
	}
	if req.UnitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: unit price must be >= 0", shared.ErrValidation)
	}
	var added *SalesOrderLine
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.LockSalesOrder(ctx, id)
		if err != nil {
			return err
		}
		if _, err := CanTransition(so.Status, ActionEdit); err != nil {
			return err
		}
		line, err := tx.InsertLine(ctx, SalesOrderLine{SalesOrderID: id, ProductID: req.ProductID, Quantity: req.Quantity, UnitPrice: req.UnitPrice})
		if err != nil {
			return err
		}
		if _, err := tx.UpdateSalesOrder(ctx, so); err != nil {
			return err
		}
		added = &line
		return s.record(ctx, userID, "SO_LINE_ADD", id, "", map[string]any{"line_id": line.ID, "product_id": line.ProductID})
	})
	if err != nil {
		return nil, fmt.Errorf("add sales order line: %w", err)
	}
	return added, nil
}

// ConfirmSalesOrder books one OUT movement per line and the receivable of the order.
func (s *Service) ConfirmSalesOrder(ctx context.Context, id int64, confirmedBy int64) (*SalesOrder, error) {
	var confirmed *SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.LockSalesOrder(ctx, id)
		if err != nil {
			return err
		}
		to, err := CanTransition(so.Status, ActionConfirm)
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return fmt.Errorf("%w: sales order has no lines", shared.ErrValidation)
		}
		for _, line := range lines {
			if line.Quantity <= 0 {
				return fmt.Errorf("%w: line %d quantity must be > 0", shared.ErrValidation, line.ID)
			}
			if !line.UnitPrice.IsPositive() {
				return fmt.Errorf("%w: line %d unit price must be > 0", shared.ErrValidation, line.ID)
			}
		}
		for _, line := range lines {
			if _, err := s.stock.PostForSource(ctx, s.movement(so.ID, line, inventory.MovementOut, "CONFIRM", confirmedBy)); err != nil {
				return fmt.Errorf("line %d: %w", line.ID, err)
			}
		}
		total := OrderTotal(lines)
		receivable, _, err := s.ledger.EnsureReceivable(ctx, so.ID, total)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		so.Status = to
		so.ConfirmedBy = &confirmedBy
		so.ConfirmedAt = &now
		updated, err := tx.UpdateSalesOrder(ctx, so)
		if err != nil {
			return err
		}
		confirmed = &updated
		return s.record(ctx, confirmedBy, "SO_CONFIRM", id, "", map[string]any{
			"total":         total.StringFixed(2),
			"receivable_id": receivable.ID,
			"lines":         len(lines),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("confirm sales order: %w", err)
	}
	return confirmed, nil
}

// CancelSalesOrder cancels a DRAFT or CONFIRMED sales order. A confirmed order puts
// its stock back and voids its receivable, which fails once the receivable is PAID.
func (s *Service) CancelSalesOrder(ctx context.Context, id int64, cancelledBy int64, reason string) (*SalesOrder, error) {
	reason = strings.TrimSpace(reason)
	var cancelled *SalesOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		so, err := tx.LockSalesOrder(ctx, id)
		if err != nil {
			return err
		}
		from := so.Status
		to, err := CanTransition(from, ActionCancel)
		if err != nil {
			return err
		}
		restocked := 0
		if from == SalesOrderStatusConfirmed {
			if err := s.ledger.VoidForSource(ctx, finance.MovementReceivable, finance.SourceSale, so.ID, reason); err != nil {
				return err
			}
			lines, err := tx.ListLines(ctx, id)
			if err != nil {
				return err
			}
			for _, line := range lines {
				if _, err := s.stock.PostForSource(ctx, s.movement(so.ID, line, inventory.MovementIn, "CANCEL", cancelledBy)); err != nil {
					return fmt.Errorf("line %d: %w", line.ID, err)
				}
				restocked++
			}
		}

		now := s.now().UTC()
		so.Status = to
		so.CancelledBy = &cancelledBy
		so.CancelledAt = &now
		so.CancelReason = reason
		updated, err := tx.UpdateSalesOrder(ctx, so)
		if err != nil {
			return err
		}
		cancelled = &updated
		return s.record(ctx, cancelledBy, "SO_CANCEL", id, reason, map[string]any{"from": string(from), "restocked": restocked})
	})
	if err != nil {
		return nil, fmt.Errorf("cancel sales order: %w", err)
	}
	return cancelled, nil
}

// GetSalesOrder retrieves a sales order with its lines.
func (s *Service) GetSalesOrder(ctx context.Context, id int64) (*SalesOrder, []SalesOrderLine, error) {
	return s.repo.GetSalesOrder(ctx, id)
}

// ListSalesOrders lists sales orders newest first.
func (s *Service) ListSalesOrders(ctx context.Context, req ListSalesOrdersRequest) ([]SalesOrder, error) {
	if req.Limit <= 0 {
		req.Limit = 50
	}
	return s.repo.ListSalesOrders(ctx, req)
}

func (s *Service) movement(soID int64, line SalesOrderLine, mType inventory.MovementType, event string, actorID int64) inventory.MovementInput {
	return inventory.MovementInput{
		ProductID:  line.ProductID,
		Type:       mType,
		Qty:        line.Quantity,
		SourceType: inventory.SourceSale,
		SourceID:   soID,
		Event:      event,
		LineRef:    strconv.FormatInt(line.ID, 10),
		Note:       fmt.Sprintf("Sale #%d %s", soID, strings.ToLower(event)),
		ActorID:    actorID,
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, reason string, meta map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "sales_order",
		EntityID: strconv.FormatInt(id, 10),
		Outcome:  shared.AuditApplied,
		Reason:   reason,
		Meta:     meta,
	})
}
