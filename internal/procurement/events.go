package procurement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ReceivedLineEvent describes the stock effect of one received line.
type ReceivedLineEvent struct {
	LineID     int64
	ProductID  int64
	Qty        int64
	MovementID int64
	Applied    bool
}

// ReceivedEvent captures the side effects committed by a receive.
type ReceivedEvent struct {
	POID       int64
	SupplierID int64
	ReceivedAt time.Time
	Total      decimal.Decimal
	PayableID  int64
	Lines      []ReceivedLineEvent
}

// CancelledEvent captures a cancellation and the effects it reversed.
type CancelledEvent struct {
	POID        int64
	From        POStatus
	CancelledAt time.Time
	Reversed    int
}

// IntegrationHandler receives procurement events inside the committing transaction.
type IntegrationHandler interface {
	HandlePurchaseReceived(ctx context.Context, evt ReceivedEvent) error
	HandlePurchaseCancelled(ctx context.Context, evt CancelledEvent) error
}
