package finance

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// MovementType distinguishes money owed from money due.
type MovementType string

const (
	MovementPayable    MovementType = "PAYABLE"
	MovementReceivable MovementType = "RECEIVABLE"
)

// SourceType names the document that generated a movement.
type SourceType string

const (
	SourcePurchase SourceType = "PURCHASE"
	SourceSale     SourceType = "SALE"
)

// Status enumerates financial movement statuses.
type Status string

const (
	StatusOpen Status = "OPEN"
	StatusPaid Status = "PAID"
	StatusVoid Status = "VOID"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusVoid
}

// Movement is a payable or receivable tied to exactly one source document.
type Movement struct {
	ID         int64
	Type       MovementType
	SourceType SourceType
	SourceID   int64
	Amount     decimal.Decimal
	Status     Status
	Notes      string
	CreatedAt  time.Time
	PaidAt     *time.Time
	VoidedAt   *time.Time
	Version    int64
}

// Policy toggles optional transitions.
type Policy struct {
	// AllowVoidPaid permits PAID -> VOID.
	AllowVoidPaid bool
}

// Action is a transition request on a movement.
type Action string

const (
	ActionPay  Action = "pay"
	ActionVoid Action = "void"
)

// CanTransition applies the pure transition table. Amount rules are checked by Pay.
func CanTransition(from Status, action Action, policy Policy) error {
	switch action {
	case ActionPay:
		if from.Terminal() {
			return fmt.Errorf("finance: pay from %s: %w", from, shared.ErrAlreadyTerminal)
		}
		return nil
	case ActionVoid:
		switch from {
		case StatusOpen:
			return nil
		case StatusPaid:
			if policy.AllowVoidPaid {
				return nil
			}
			return fmt.Errorf("finance: void from %s: %w", from, shared.ErrInvalidState)
		default:
			return fmt.Errorf("finance: void from %s: %w", from, shared.ErrAlreadyTerminal)
		}
	default:
		return fmt.Errorf("finance: unknown action %q: %w", action, shared.ErrValidation)
	}
}

// SummaryFilter narrows the summary to movements created in [From, To).
type SummaryFilter struct {
	From time.Time
	To   time.Time
}

// TotalRow is one aggregated (type, status) bucket.
type TotalRow struct {
	Type   MovementType
	Status Status
	Count  int
	Amount decimal.Decimal
}

// Bucket holds a count and an amount.
type Bucket struct {
	Count  int
	Amount decimal.Decimal
}

// Side groups the buckets of one movement type.
type Side struct {
	Open Bucket
	Paid Bucket
	Void Bucket
}

// Summary is the financial dashboard aggregate.
type Summary struct {
	Payables    Side
	Receivables Side
	NetOpen     decimal.Decimal
}

var (
	// ErrMovementNotFound indicates a missing financial movement.
	ErrMovementNotFound = fmt.Errorf("finance: movement: %w", shared.ErrNotFound)
)

// Money quantises v to cents, half away from zero. Negative values clamp to zero.
func Money(v decimal.Decimal) decimal.Decimal {
	v = v.Round(2)
	if v.IsNegative() {
		return decimal.Zero.Round(2)
	}
	return v
}
