package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusConfirmed POStatus = "CONFIRMED"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Action is a requested purchase order transition.
type Action string

const (
	ActionEdit    Action = "edit"
	ActionConfirm Action = "confirm"
	ActionReceive Action = "receive"
	ActionCancel  Action = "cancel"
)

var transitions = map[POStatus]map[Action]POStatus{
	POStatusDraft: {
		ActionEdit:    POStatusDraft,
		ActionConfirm: POStatusConfirmed,
		ActionCancel:  POStatusCancelled,
	},
	POStatusConfirmed: {
		ActionReceive: POStatusReceived,
		ActionCancel:  POStatusCancelled,
	},
}

// CanTransition returns the status reached by applying action to from. It never
// looks at who asks; authorization happens before the state machine runs.
func CanTransition(from POStatus, action Action) (POStatus, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	if from == POStatusReceived && action == ActionReceive {
		return from, fmt.Errorf("procurement: purchase order: %w", shared.ErrAlreadyReceived)
	}
	return from, fmt.Errorf("procurement: %s from %s: %w", action, from, shared.ErrInvalidState)
}

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID              int64
	SupplierID      int64
	SupplierInvoice string
	Status          POStatus
	Note            string
	CreatedBy       int64
	CreatedAt       time.Time
	ConfirmedBy     int64
	ConfirmedAt     *time.Time
	ReceivedBy      int64
	ReceivedAt      *time.Time
	CancelledBy     int64
	CancelledAt     *time.Time
	Version         int64
}

// POLine represents PO lines.
type POLine struct {
	ID        int64
	POID      int64
	ProductID int64
	Qty       int64
	UnitCost  decimal.Decimal
}

// Subtotal returns qty * unit cost.
func (l POLine) Subtotal() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(l.Qty))
}

// Total sums line subtotals rounded to cents.
func Total(lines []POLine) decimal.Decimal {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Subtotal())
	}
	return total.Round(2)
}

// CreatePOInput describes a new draft order.
type CreatePOInput struct {
	SupplierID      int64       `validate:"required,gt=0"`
	SupplierInvoice string      `validate:"max=64"`
	Note            string      `validate:"max=500"`
	Lines           []LineInput `validate:"dive"`
}

// LineInput adds qty of a product. A nil UnitCost keeps the current cost of an existing line.
type LineInput struct {
	ProductID int64 `validate:"required,gt=0"`
	Qty       int64 `validate:"gt=0"`
	UnitCost  *decimal.Decimal
}

// LineUpdate replaces qty and unit cost of a line.
type LineUpdate struct {
	Qty      int64 `validate:"gt=0"`
	UnitCost decimal.Decimal
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status POStatus
	Limit  int
}

var (
	// ErrPONotFound indicates a missing purchase order.
	ErrPONotFound = fmt.Errorf("procurement: purchase order: %w", shared.ErrNotFound)
	// ErrLineNotFound indicates a missing purchase order line.
	ErrLineNotFound = fmt.Errorf("procurement: line: %w", shared.ErrNotFound)
)
