package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBlendEntry_StakeWeightedAverage(t *testing.T) {
	// 100 @ 0.40 topped up with 50 @ 0.50 → 65/150 = 0.43333…
	blended := BlendEntry(decimal.NewFromInt(100), 0.40, decimal.NewFromInt(50), 0.50)
	assert.InDelta(t, 0.4333333333, blended, 1e-9)
}

func TestBlendEntry_ZeroAdditionKeepsEntry(t *testing.T) {
	blended := BlendEntry(decimal.NewFromInt(100), 0.40, decimal.Zero, 0.90)
	assert.InDelta(t, 0.40, blended, 1e-9)
}

func TestPositionPnLAt(t *testing.T) {
	pos := Position{EntryPrice: 0.40, Stake: decimal.NewFromInt(100)}

	// +25% price move → +25 on a 100 stake
	assert.True(t, pos.PnLAt(0.50).Equal(decimal.NewFromInt(25)), "got %s", pos.PnLAt(0.50))
	// −20% price move → −20
	assert.True(t, pos.PnLAt(0.32).Equal(decimal.NewFromInt(-20)), "got %s", pos.PnLAt(0.32))
	// flat close
	assert.True(t, pos.PnLAt(0.40).IsZero())
}

func TestPositionUnrealizedReturn(t *testing.T) {
	pos := Position{EntryPrice: 0.50, Stake: decimal.NewFromInt(100)}
	assert.InDelta(t, -0.20, pos.UnrealizedReturn(0.40), 1e-9)
	assert.InDelta(t, 0.40, pos.UnrealizedReturn(0.70), 1e-9)
}

func TestPositionShares(t *testing.T) {
	pos := Position{EntryPrice: 0.40, Stake: decimal.NewFromInt(100)}
	assert.InDelta(t, 250, pos.Shares(), 1e-9)

	assert.Zero(t, Position{}.Shares())
}

func TestStatusClosing(t *testing.T) {
	assert.True(t, StatusClosingStopLoss.Closing())
	assert.True(t, StatusClosingTakeProfit.Closing())
	assert.True(t, StatusClosingExpired.Closing())
	assert.True(t, StatusClosingManual.Closing())
	assert.False(t, StatusOpen.Closing())
	assert.False(t, StatusClosed.Closing())
	assert.False(t, StatusOpening.Closing())
}

func TestStatusCloseReason(t *testing.T) {
	assert.Equal(t, "stop_loss", StatusClosingStopLoss.CloseReason())
	assert.Equal(t, "take_profit", StatusClosingTakeProfit.CloseReason())
	assert.Equal(t, "expired", StatusClosingExpired.CloseReason())
	assert.Equal(t, "manual", StatusClosingManual.CloseReason())
	assert.Empty(t, StatusOpen.CloseReason())
}

func TestHoursHeld(t *testing.T) {
	opened := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	pos := Position{OpenedAt: opened}

	assert.InDelta(t, 6, pos.HoursHeld(opened.Add(6*time.Hour)), 1e-9)

	// closed positions stop accruing
	pos.ClosedAt = opened.Add(2 * time.Hour)
	assert.InDelta(t, 2, pos.HoursHeld(opened.Add(100*time.Hour)), 1e-9)
}
