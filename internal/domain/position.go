package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus represents the lifecycle of a simulated position.
//
// Opening is transient: it exists only while a reservation is in flight and
// collapses to Open on success. It is never persisted. Any Closing* status
// must be paired with exactly one ledger release before reaching Closed.
type PositionStatus string

const (
	StatusOpening           PositionStatus = "OPENING"
	StatusOpen              PositionStatus = "OPEN"
	StatusClosingStopLoss   PositionStatus = "CLOSING_STOP_LOSS"
	StatusClosingTakeProfit PositionStatus = "CLOSING_TAKE_PROFIT"
	StatusClosingExpired    PositionStatus = "CLOSING_EXPIRED"
	StatusClosingManual     PositionStatus = "CLOSING_MANUAL"
	StatusClosed            PositionStatus = "CLOSED"
)

// Closing reports whether the status is one of the Closing* states.
func (s PositionStatus) Closing() bool {
	switch s {
	case StatusClosingStopLoss, StatusClosingTakeProfit, StatusClosingExpired, StatusClosingManual:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s PositionStatus) Terminal() bool { return s == StatusClosed }

// CloseReason is the short label journaled and reported for a close.
func (s PositionStatus) CloseReason() string {
	switch s {
	case StatusClosingStopLoss:
		return "stop_loss"
	case StatusClosingTakeProfit:
		return "take_profit"
	case StatusClosingExpired:
		return "expired"
	case StatusClosingManual:
		return "manual"
	}
	return ""
}

// Position is a simulated position in a single market. At most one position
// per market may be non-terminal at any time. Positions are owned by the
// store; the engine mutates them only through store operations.
type Position struct {
	ID           string // UUID
	MarketID     string
	Side         Side
	EntryPrice   float64         // stake-weighted average fill price
	Stake        decimal.Decimal // total USDC reserved (cost basis)
	Status       PositionStatus
	OpenedAt     time.Time
	ClosedAt     time.Time
	RealizedPnL  decimal.Decimal
	CloseReason  string  // stamped when the Closing* transition finalizes
	Additions    int     // number of averaging-down top-ups
	EntryEdge    float64 // edge at open, drives reversal detection
	LastEdge     float64 // edge at the most recent evaluation
	ResolutionAt time.Time
}

// CostBasis returns the total USDC put into the position. With no partial
// closes it equals the stake.
func (p Position) CostBasis() decimal.Decimal { return p.Stake }

// Shares returns the number of contracts held at the average entry price.
func (p Position) Shares() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	f, _ := p.Stake.Float64()
	return f / p.EntryPrice
}

// UnrealizedReturn is the fractional gain/loss at the given contract price.
func (p Position) UnrealizedReturn(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return price/p.EntryPrice - 1
}

// PnLAt returns the realized PnL if the whole position were closed at the
// given fill price, rounded to cents.
func (p Position) PnLAt(fillPrice float64) decimal.Decimal {
	if p.EntryPrice <= 0 {
		return decimal.Zero
	}
	ratio := decimal.NewFromFloat(fillPrice / p.EntryPrice)
	return p.Stake.Mul(ratio).Sub(p.Stake).Round(2)
}

// BlendEntry recomputes the stake-weighted average entry price after an
// averaging-down addition: (old·oldEntry + add·fill) / (old+add).
func BlendEntry(oldStake decimal.Decimal, oldEntry float64, addStake decimal.Decimal, fillPrice float64) float64 {
	total := oldStake.Add(addStake)
	if total.IsZero() {
		return oldEntry
	}
	weighted := oldStake.Mul(decimal.NewFromFloat(oldEntry)).
		Add(addStake.Mul(decimal.NewFromFloat(fillPrice)))
	f, _ := weighted.Div(total).Float64()
	return f
}

// HoursHeld returns how long the position has been open.
func (p Position) HoursHeld(now time.Time) float64 {
	if p.OpenedAt.IsZero() {
		return 0
	}
	end := now
	if !p.ClosedAt.IsZero() {
		end = p.ClosedAt
	}
	return end.Sub(p.OpenedAt).Hours()
}

// ClosedStats aggregates closed positions for external reporting. The engine
// never computes these; the storage layer does.
type ClosedStats struct {
	Positions    int
	Wins         int
	Losses       int
	WinRate      float64
	GrossProfit  decimal.Decimal
	GrossLoss    decimal.Decimal
	NetPnL       decimal.Decimal
	ProfitFactor float64 // gross profit / gross loss; Inf when no losses
	AvgHoursHeld float64
}
