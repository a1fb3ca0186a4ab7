package domain

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// SizingParams are the bounded sizing knobs snapshotted at the start of each
// sizing operation. They are never read mid-transaction.
type SizingParams struct {
	KellyFraction float64 // fraction of full Kelly actually risked
	MaxExposure   float64 // per-trade cap as a fraction of available capital
	MinEdge       float64 // signals below this edge are declined
}

// FullKelly returns the full-Kelly stake fraction f* = (b·p − q)/b for model
// probability p and decimal odds b. Negative values mean no bet.
func FullKelly(p, b float64) float64 {
	if b <= 0 {
		return 0
	}
	q := 1 - p
	return (b*p - q) / b
}

// KellyStake sizes a stake for a signal given the available capital.
// stake = clamp(k·f*·C, 0, m·C), rounded down to cents. Returns ErrNoEdge
// when f* ≤ 0 or the edge is below the configured minimum; no capital is
// touched on that path. Pure function of its inputs.
func KellyStake(sig Signal, available decimal.Decimal, params SizingParams) (decimal.Decimal, error) {
	if sig.Edge < params.MinEdge {
		return decimal.Zero, fmt.Errorf("%w: edge %.4f below minimum %.4f", ErrNoEdge, sig.Edge, params.MinEdge)
	}

	fStar := FullKelly(sig.Probability, sig.Odds)
	if fStar <= 0 {
		return decimal.Zero, fmt.Errorf("%w: full kelly %.4f", ErrNoEdge, fStar)
	}

	frac := params.KellyFraction * fStar
	if params.MaxExposure > 0 {
		frac = math.Min(frac, params.MaxExposure)
	}
	if frac <= 0 {
		return decimal.Zero, fmt.Errorf("%w: zero sized stake", ErrNoEdge)
	}

	stake := available.Mul(decimal.NewFromFloat(frac)).RoundDown(2)
	if stake.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: capital too small for minimum stake", ErrNoEdge)
	}
	return stake, nil
}
