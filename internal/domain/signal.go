package domain

import (
	"fmt"
	"math"
	"time"
)

// Side is the contract side a signal or position refers to.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Opposite returns the other side of the market.
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// Confidence is the tier assigned by the upstream forecasting models.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// Signal is a trade signal produced by the external forecasting pipeline.
// It is immutable once issued; the engine only reads it.
type Signal struct {
	MarketID     string
	Side         Side
	Probability  float64   // model probability for Side, in [0,1]
	Odds         float64   // decimal payout per unit staked on Side
	Edge         float64   // model probability minus market-implied probability
	Confidence   Confidence
	Liquidity    float64   // USDC depth proxy near the touch; 0 = unknown
	IssuedAt     time.Time
	ResolutionAt time.Time // market resolution horizon
}

// Validate rejects malformed or out-of-range signals before any state is
// touched. All failures wrap ErrInvalidSignal.
func (s Signal) Validate() error {
	switch {
	case s.MarketID == "":
		return fmt.Errorf("%w: empty market id", ErrInvalidSignal)
	case s.Side != SideYes && s.Side != SideNo:
		return fmt.Errorf("%w: side %q", ErrInvalidSignal, s.Side)
	case s.Probability < 0 || s.Probability > 1 || math.IsNaN(s.Probability):
		return fmt.Errorf("%w: probability %v outside [0,1]", ErrInvalidSignal, s.Probability)
	case s.Odds <= 0 || math.IsNaN(s.Odds) || math.IsInf(s.Odds, 0):
		return fmt.Errorf("%w: non-positive odds %v", ErrInvalidSignal, s.Odds)
	case math.IsNaN(s.Edge) || math.IsInf(s.Edge, 0):
		return fmt.Errorf("%w: edge %v", ErrInvalidSignal, s.Edge)
	case s.Liquidity < 0:
		return fmt.Errorf("%w: negative liquidity %v", ErrInvalidSignal, s.Liquidity)
	case s.IssuedAt.IsZero():
		return fmt.Errorf("%w: zero issued_at", ErrInvalidSignal)
	}
	return nil
}

// Price returns the market-implied contract price for the signalled side,
// derived from decimal odds: a payout of b per unit staked implies a price
// of 1/(1+b) for a contract that settles at 1.
func (s Signal) Price() float64 {
	return 1 / (1 + s.Odds)
}

// PriceFor returns the implied contract price for an arbitrary side. YES and
// NO prices of the same market sum to 1.
func (s Signal) PriceFor(side Side) float64 {
	if side == s.Side {
		return s.Price()
	}
	return 1 - s.Price()
}

// EdgeFor returns the signal's edge from the perspective of a holder of the
// given side. An edge in favour of YES is an edge against NO.
func (s Signal) EdgeFor(side Side) float64 {
	if side == s.Side {
		return s.Edge
	}
	return -s.Edge
}
