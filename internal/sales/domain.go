package sales

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// ============================================================================
// SALES ORDER
// ============================================================================

type SalesOrderStatus string

const (
	SalesOrderStatusDraft     SalesOrderStatus = "DRAFT"
	SalesOrderStatusConfirmed SalesOrderStatus = "CONFIRMED"
	SalesOrderStatusCancelled SalesOrderStatus = "CANCELLED"
)

type SalesOrder struct {
	ID           int64            `json:"id" db:"id"`
	CustomerName string           `json:"customer_name" db:"customer_name"`
	Status       SalesOrderStatus `json:"status" db:"status"`
	CreatedBy    int64            `json:"created_by" db:"created_by"`
	CreatedAt    time.Time        `json:"created_at" db:"created_at"`
	ConfirmedBy  *int64           `json:"confirmed_by,omitempty" db:"confirmed_by"`
	ConfirmedAt  *time.Time       `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledBy  *int64           `json:"cancelled_by,omitempty" db:"cancelled_by"`
	CancelledAt  *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CancelReason string           `json:"cancel_reason" db:"cancel_reason"`
	Version      int64            `json:"version" db:"version"`
}

type SalesOrderLine struct {
	ID           int64           `json:"id" db:"id"`
	SalesOrderID int64           `json:"sales_order_id" db:"sales_order_id"`
	ProductID    int64           `json:"product_id" db:"product_id"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price" db:"unit_price"`
}

// LineTotal returns quantity * unit price.
func (l SalesOrderLine) LineTotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// OrderTotal sums line totals rounded to cents.
func OrderTotal(lines []SalesOrderLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal())
	}
	return total.Round(2)
}

type CreateSalesOrderRequest struct {
	CustomerName string                        `json:"customer_name" validate:"required,max=200"`
	Lines        []CreateSalesOrderLineRequest `json:"lines" validate:"dive"`
}

type CreateSalesOrderLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	Quantity  int64           `json:"quantity" validate:"gt=0"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type ListSalesOrdersRequest struct {
	Status *SalesOrderStatus `json:"status,omitempty"`
	Limit  int               `json:"limit"`
}

// ============================================================================
// STATE MACHINE
// ============================================================================

type Action string

const (
	ActionEdit    Action = "edit"
	ActionConfirm Action = "confirm"
	ActionCancel  Action = "cancel"
)

// CanTransition returns the status reached by applying action to from.
func CanTransition(from SalesOrderStatus, action Action) (SalesOrderStatus, error) {
	switch {
	case from == SalesOrderStatusDraft && action == ActionEdit:
		return SalesOrderStatusDraft, nil
	case from == SalesOrderStatusDraft && action == ActionConfirm:
		return SalesOrderStatusConfirmed, nil
	case action == ActionCancel && (from == SalesOrderStatusDraft || from == SalesOrderStatusConfirmed):
		return SalesOrderStatusCancelled, nil
	case from == SalesOrderStatusCancelled && action == ActionCancel:
		return from, fmt.Errorf("%w: sales order already cancelled", shared.ErrAlreadyTerminal)
	default:
		return from, fmt.Errorf("%w: cannot %s %s sales orders", shared.ErrInvalidState, action, from)
	}
}

var (
	ErrSalesOrderNotFound = fmt.Errorf("sales order: %w", shared.ErrNotFound)
)
