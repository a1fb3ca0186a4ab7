package risk

import (
	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
)

// AveragingConfig bounds the averaging-down policy. All values come from
// governance-declared configuration, not hard constants.
type AveragingConfig struct {
	TriggerPct        float64 // adverse move vs entry required before adding
	MaxAdditions      int     // top-ups allowed per position
	MaxMarketExposure float64 // cumulative stake cap as a fraction of total capital
}

// AveragingDownPolicy decides whether a repeat signal for an already-open
// market should grow the position instead of being rejected as a duplicate.
type AveragingDownPolicy struct {
	cfg AveragingConfig
}

// NewAveragingDownPolicy creates the policy with the given bounds.
func NewAveragingDownPolicy(cfg AveragingConfig) *AveragingDownPolicy {
	return &AveragingDownPolicy{cfg: cfg}
}

// ShouldAdd reports whether the position may be topped up given the latest
// signal. The price must have moved against the position by at least
// TriggerPct, the signal must quote the position's own side with the model
// still in favour, and the addition count bound must hold. The exposure cap
// is checked separately by MaxAddStake once a stake has been sized.
func (a *AveragingDownPolicy) ShouldAdd(pos domain.Position, sig domain.Signal) bool {
	if pos.Status != domain.StatusOpen {
		return false
	}
	if a.cfg.MaxAdditions <= 0 || pos.Additions >= a.cfg.MaxAdditions {
		return false
	}
	// A top-up is sized from the signal's probability and odds, so the
	// signal must refer to the contract the position holds.
	if sig.Side != pos.Side {
		return false
	}
	// Adding to a position the model has turned against is reversal
	// territory, not averaging-down.
	if sig.Edge <= 0 {
		return false
	}

	return pos.UnrealizedReturn(sig.Price()) <= -a.cfg.TriggerPct+retEpsilon
}

// MaxAddStake caps an addition so that the position's cumulative stake stays
// within MaxMarketExposure of total capital. Returns zero when no headroom
// remains.
func (a *AveragingDownPolicy) MaxAddStake(pos domain.Position, totalCapital decimal.Decimal) decimal.Decimal {
	if a.cfg.MaxMarketExposure <= 0 {
		return decimal.Zero
	}
	cap_ := totalCapital.Mul(decimal.NewFromFloat(a.cfg.MaxMarketExposure))
	headroom := cap_.Sub(pos.Stake)
	if headroom.Sign() <= 0 {
		return decimal.Zero
	}
	return headroom.RoundDown(2)
}
