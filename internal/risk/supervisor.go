// Package risk holds the systemic risk controls that can intervene in a
// position's lifecycle: the drawdown circuit breaker, the edge-reversal
// monitor and the averaging-down policy.
package risk

import (
	"time"

	"github.com/quantfarm/edgesim/internal/domain"
)

// Action is what the supervisor wants the engine to do with a position.
type Action int

const (
	ActionHold Action = iota
	ActionClose
)

// Command is one supervisor verdict for one open position.
type Command struct {
	Action Action
	// Reason is the Closing* status to apply when Action is ActionClose.
	Reason domain.PositionStatus
}

// retEpsilon absorbs float rounding in the unrealized-return division so a
// move of exactly the configured threshold still fires. Prices carry far
// less than nine digits of real precision.
const retEpsilon = 1e-9

// Config bundles the evaluation thresholds. Stop loss and take profit are
// fractions of cost basis (0.20 = 20%).
type Config struct {
	StopLossPct               float64
	TakeProfitPct             float64
	Drawdown                  DrawdownConfig
	Averaging                 AveragingConfig
	EdgeReversalConfirmations int
}

// Supervisor evaluates open positions against the latest signals and prices
// and emits lifecycle commands. It owns the three risk policies.
type Supervisor struct {
	cfg       Config
	Drawdown  *DrawdownProtector
	Reversal  *EdgeReversalMonitor
	Averaging *AveragingDownPolicy
}

// NewSupervisor wires the three policies from one config.
func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		Drawdown:  NewDrawdownProtector(cfg.Drawdown),
		Reversal:  NewEdgeReversalMonitor(cfg.EdgeReversalConfirmations),
		Averaging: NewAveragingDownPolicy(cfg.Averaging),
	}
}

// AllowEntry reports whether new Opening transitions are permitted.
func (s *Supervisor) AllowEntry() bool {
	return !s.Drawdown.Halted()
}

// Evaluate runs one re-evaluation tick for a position. latest may be the
// zero Signal when no fresh signal exists for the market; price checks then
// fall back to the entry price (no-op) and only expiry can fire.
//
// Check order: expiry, stop loss, take profit, edge reversal. Expiry wins
// because a resolved market has no price left to argue about.
func (s *Supervisor) Evaluate(pos domain.Position, latest domain.Signal, now time.Time) Command {
	if !pos.ResolutionAt.IsZero() && now.After(pos.ResolutionAt) {
		return Command{Action: ActionClose, Reason: domain.StatusClosingExpired}
	}

	if latest.MarketID == "" {
		return Command{Action: ActionHold}
	}

	price := latest.PriceFor(pos.Side)
	ret := pos.UnrealizedReturn(price)

	if s.cfg.StopLossPct > 0 && ret <= -s.cfg.StopLossPct+retEpsilon {
		return Command{Action: ActionClose, Reason: domain.StatusClosingStopLoss}
	}
	if s.cfg.TakeProfitPct > 0 && ret >= s.cfg.TakeProfitPct-retEpsilon {
		return Command{Action: ActionClose, Reason: domain.StatusClosingTakeProfit}
	}

	if s.Reversal.Observe(pos.MarketID, pos.EntryEdge, latest.EdgeFor(pos.Side)) {
		return Command{Action: ActionClose, Reason: domain.StatusClosingManual}
	}

	return Command{Action: ActionHold}
}
