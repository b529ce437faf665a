package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn adds stock.
	MovementIn MovementType = "IN"
	// MovementOut removes stock.
	MovementOut MovementType = "OUT"
)

// Sign returns +1 for IN and -1 for OUT.
func (t MovementType) Sign() int64 {
	if t == MovementOut {
		return -1
	}
	return 1
}

// Source types of generated movements.
const (
	SourcePurchase = "PURCHASE"
	SourceSale     = "SALE"
	SourceManual   = "MANUAL"
)

// Product is the stock-carrying reference data.
type Product struct {
	ID     int64
	SKU    string
	Name   string
	Active bool
	Stock  int64
}

// StockMovement is an immutable stock ledger row.
type StockMovement struct {
	ID             int64
	ProductID      int64
	Type           MovementType
	Qty            int64
	SourceType     string
	SourceID       int64
	Event          string
	LineRef        string
	IdempotencyKey uuid.UUID
	Note           string
	CreatedBy      int64
	CreatedAt      time.Time
}

// Delta returns the signed stock change of the movement.
func (m StockMovement) Delta() int64 {
	return m.Type.Sign() * m.Qty
}

// MovementInput describes a movement caused by a business document.
type MovementInput struct {
	ProductID  int64        `validate:"required,gt=0"`
	Type       MovementType `validate:"required,oneof=IN OUT"`
	Qty        int64        `validate:"gt=0"`
	SourceType string       `validate:"required,max=32"`
	SourceID   int64        `validate:"gte=0"`
	Event      string       `validate:"required,max=32"`
	LineRef    string       `validate:"max=64"`
	Note       string       `validate:"max=255"`
	ActorID    int64
}

// Key returns the idempotency key of the movement.
func (in MovementInput) Key() uuid.UUID {
	return shared.IdempotencyKey(in.SourceType, in.SourceID, in.Event, in.LineRef)
}

// ManualInput describes an operator-entered movement.
type ManualInput struct {
	ProductID int64        `validate:"required,gt=0"`
	Type      MovementType `validate:"required,oneof=IN OUT"`
	Qty       int64        `validate:"gt=0"`
	Note      string       `validate:"required,max=255"`
	// RequestID makes client retries idempotent. A random one is used when empty.
	RequestID string `validate:"omitempty,uuid"`
}

// PostResult reports the outcome of posting a movement.
type PostResult struct {
	Movement StockMovement
	Applied  bool
	Stock    int64
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	ProductID  int64
	SourceType string
	SourceID   int64
	Limit      int
}

// Drift is a product whose recorded stock disagrees with its movements.
type Drift struct {
	ProductID int64
	Recorded  int64
	Computed  int64
}

// ReconcileReport summarises a reconciliation run.
type ReconcileReport struct {
	Checked int
	Drifts  []Drift
	Fixed   int
}

var (
	// ErrInsufficientStock triggered when an OUT movement would result in negative stock.
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrValidation)
	// ErrInactiveProduct indicates movements against a deactivated product.
	ErrInactiveProduct = fmt.Errorf("inventory: product inactive: %w", shared.ErrValidation)
	// ErrProductNotFound indicates a missing product row.
	ErrProductNotFound = fmt.Errorf("inventory: product: %w", shared.ErrNotFound)
	// ErrNegativeRebuild indicates movements summing below zero for a product.
	ErrNegativeRebuild = errors.New("inventory: movements produce negative stock")
)
