package procurement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/authzcore/internal/shared"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct {
		from   POStatus
		action Action
		to     POStatus
	}{
		{POStatusDraft, ActionEdit, POStatusDraft},
		{POStatusDraft, ActionConfirm, POStatusConfirmed},
		{POStatusDraft, ActionCancel, POStatusCancelled},
		{POStatusConfirmed, ActionReceive, POStatusReceived},
		{POStatusConfirmed, ActionCancel, POStatusCancelled},
	}
	for _, tc := range allowed {
		to, err := CanTransition(tc.from, tc.action)
		require.NoError(t, err, "%s/%s", tc.from, tc.action)
		require.Equal(t, tc.to, to)
	}

	rejected := []struct {
		from   POStatus
		action Action
	}{
		{POStatusDraft, ActionReceive},
		{POStatusConfirmed, ActionConfirm},
		{POStatusConfirmed, ActionEdit},
		{POStatusReceived, ActionCancel},
		{POStatusReceived, ActionEdit},
		{POStatusReceived, ActionConfirm},
		{POStatusCancelled, ActionCancel},
		{POStatusCancelled, ActionReceive},
		{POStatusCancelled, ActionEdit},
	}
	for _, tc := range rejected {
		_, err := CanTransition(tc.from, tc.action)
		require.ErrorIs(t, err, shared.ErrInvalidState, "%s/%s", tc.from, tc.action)
	}

	_, err := CanTransition(POStatusReceived, ActionReceive)
	require.ErrorIs(t, err, shared.ErrAlreadyReceived)
	require.True(t, shared.IsBusinessError(err))
}

func TestTotalRoundsToCents(t *testing.T) {
	lines := []POLine{
		{Qty: 3, UnitCost: decimal.RequireFromString("10.005")},
		{Qty: 1, UnitCost: decimal.RequireFromString("0.10")},
	}
	require.Equal(t, "30.12", Total(lines).StringFixed(2))
	require.True(t, Total(nil).IsZero())
}
