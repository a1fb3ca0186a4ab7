package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantfarm/edgesim/internal/domain"
)

func averagingPolicy() *AveragingDownPolicy {
	return NewAveragingDownPolicy(AveragingConfig{
		TriggerPct:        0.10,
		MaxAdditions:      2,
		MaxMarketExposure: 0.20,
	})
}

func openPosition() domain.Position {
	return domain.Position{
		ID:         "pos-1",
		MarketID:   "m1",
		Side:       domain.SideYes,
		EntryPrice: 0.50,
		Stake:      decimal.NewFromInt(100),
		Status:     domain.StatusOpen,
		EntryEdge:  0.10,
	}
}

func repeatSignal(odds, edge float64) domain.Signal {
	return domain.Signal{
		MarketID:    "m1",
		Side:        domain.SideYes,
		Probability: 0.55,
		Odds:        odds,
		Edge:        edge,
		IssuedAt:    time.Now(),
	}
}

func TestShouldAdd_TriggersOnAdverseMove(t *testing.T) {
	p := averagingPolicy()

	// price 0.40 vs entry 0.50 → −20%, past the 10% trigger
	assert.True(t, p.ShouldAdd(openPosition(), repeatSignal(1.5, 0.08)))
}

func TestShouldAdd_NoTriggerOnSmallMove(t *testing.T) {
	p := averagingPolicy()

	// price 1/(1+1.13) ≈ 0.47 → −6%, under the trigger
	assert.False(t, p.ShouldAdd(openPosition(), repeatSignal(1.13, 0.08)))
}

func TestShouldAdd_RefusesAfterMaxAdditions(t *testing.T) {
	p := averagingPolicy()
	pos := openPosition()
	pos.Additions = 2

	assert.False(t, p.ShouldAdd(pos, repeatSignal(1.5, 0.08)))
}

func TestShouldAdd_RefusesWhenEdgeTurned(t *testing.T) {
	p := averagingPolicy()

	// the model no longer favours the held side
	assert.False(t, p.ShouldAdd(openPosition(), repeatSignal(1.5, -0.02)))
}

func TestShouldAdd_RefusesOppositeSideSignal(t *testing.T) {
	p := averagingPolicy()

	// the quote moved against the YES position, but the signal recommends
	// NO: topping up from it would size one contract and fill another
	sig := repeatSignal(1.5, 0.08)
	sig.Side = domain.SideNo

	assert.False(t, p.ShouldAdd(openPosition(), sig))
}

func TestShouldAdd_RefusesNonOpenStatus(t *testing.T) {
	p := averagingPolicy()
	pos := openPosition()
	pos.Status = domain.StatusClosingStopLoss

	assert.False(t, p.ShouldAdd(pos, repeatSignal(1.5, 0.08)))
}

func TestShouldAdd_DisabledPolicy(t *testing.T) {
	p := NewAveragingDownPolicy(AveragingConfig{TriggerPct: 0.10, MaxAdditions: 0})
	assert.False(t, p.ShouldAdd(openPosition(), repeatSignal(1.5, 0.08)))
}

func TestMaxAddStake_Headroom(t *testing.T) {
	p := averagingPolicy()

	// cap = 20% × 1000 = 200, stake already 100 → 100 of headroom
	add := p.MaxAddStake(openPosition(), decimal.NewFromInt(1000))
	assert.True(t, add.Equal(decimal.NewFromInt(100)), "got %s", add)
}

func TestMaxAddStake_NoHeadroom(t *testing.T) {
	p := averagingPolicy()
	pos := openPosition()
	pos.Stake = decimal.NewFromInt(250)

	assert.True(t, p.MaxAddStake(pos, decimal.NewFromInt(1000)).IsZero())
}
