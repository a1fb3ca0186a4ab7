package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
	"github.com/quantfarm/edgesim/internal/journal"
	"github.com/quantfarm/edgesim/internal/ledger"
)

// Submit runs one signal through the intake pipeline:
// Validate → Dedup → Size → Reserve → Open. Recoverable rejections
// (invalid signal, no edge, insufficient capital, duplicate) come back as
// typed errors and leave no state behind; the caller logs and moves on.
func (e *Engine) Submit(ctx context.Context, sig domain.Signal) error {
	if err := sig.Validate(); err != nil {
		return fmt.Errorf("engine.Submit: %w", err)
	}

	// The quote is remembered even when the signal is later rejected:
	// re-evaluation of an open position wants the freshest view of the
	// market regardless of what intake decided.
	e.rememberQuote(sig)

	mu := e.marketLock(sig.MarketID)
	mu.Lock()
	defer mu.Unlock()

	if pos, ok := e.store.Get(sig.MarketID); ok {
		return e.averageDownLocked(ctx, pos, sig)
	}
	return e.openLocked(ctx, sig)
}

// openLocked opens a new position for a market with no active one. The
// caller holds the market lock; nothing between Size and Open can be
// interrupted by a concurrent signal for the same market.
func (e *Engine) openLocked(ctx context.Context, sig domain.Signal) error {
	if e.fatal.Load() {
		return fmt.Errorf("engine.Submit: %w: %s", domain.ErrTradingHalted, e.fatalReason.Load())
	}
	if !e.sup.AllowEntry() {
		return fmt.Errorf("engine.Submit: %w: drawdown breaker active", domain.ErrTradingHalted)
	}
	if e.store.Len() >= e.cfg.Engine.MaxMarkets {
		slog.Debug("engine: market capacity reached, dropping signal",
			"market", sig.MarketID, "active", e.store.Len())
		return nil
	}

	sizing := e.cfg.SizingSnapshot()
	params := domain.SizingParams{
		KellyFraction: sizing.KellyFraction,
		MaxExposure:   sizing.MaxExposure,
		MinEdge:       sizing.MinEdge,
	}

	avail := e.ledger.Snapshot().Available
	stake, err := domain.KellyStake(sig, avail, params)
	if err != nil {
		return fmt.Errorf("engine.Submit: size %s: %w", sig.MarketID, err)
	}

	fill := domain.FillPrice(true, sig.Price(), stake, sig.Liquidity, e.slippage())

	tok, err := e.ledger.Reserve(stake)
	if err != nil {
		return fmt.Errorf("engine.Submit: reserve %s: %w", sig.MarketID, err)
	}

	pos := domain.Position{
		ID:           uuid.New().String(),
		MarketID:     sig.MarketID,
		Side:         sig.Side,
		EntryPrice:   fill,
		Stake:        stake,
		Status:       domain.StatusOpening,
		OpenedAt:     e.now().UTC(),
		EntryEdge:    sig.Edge,
		LastEdge:     sig.Edge,
		ResolutionAt: sig.ResolutionAt,
	}

	seq, err := e.journal.Append(ctx, journal.Record{
		Kind:         journal.KindReserve,
		PositionID:   pos.ID,
		MarketID:     pos.MarketID,
		Side:         pos.Side,
		Amount:       stake,
		Price:        fill,
		EntryEdge:    pos.EntryEdge,
		Reason:       "open",
		ResolutionAt: pos.ResolutionAt,
	})
	if err != nil {
		// Durability failed: unwind the reservation so the ledger and the
		// journal stay in agreement, then freeze intake.
		if relErr := e.ledger.Release(tok, decimal.Zero); relErr != nil {
			e.escalate(relErr)
		}
		e.escalate(err)
		return fmt.Errorf("engine.Submit: journal %s: %w", sig.MarketID, err)
	}

	opened, err := e.store.Open(pos)
	if err != nil {
		// Cannot happen while we hold the market lock; if it does, the
		// accounting is broken and must be surfaced loudly.
		e.escalate(err)
		return fmt.Errorf("engine.Submit: open %s: %w", sig.MarketID, err)
	}

	e.bindToken(opened.ID, tok)
	e.writeSnapshot(ctx, seq)

	slog.Info("engine: opened position",
		"market", sig.MarketID,
		"side", string(sig.Side),
		"stake", fmt.Sprintf("$%s", stake),
		"entry", fmt.Sprintf("%.4f", fill),
		"edge", fmt.Sprintf("%.4f", sig.Edge),
		"confidence", string(sig.Confidence),
	)
	return nil
}

// averageDownLocked handles a repeat signal for a market with an active
// position: either an averaging-down top-up or a typed rejection. Never a
// second position.
func (e *Engine) averageDownLocked(ctx context.Context, pos domain.Position, sig domain.Signal) error {
	if e.fatal.Load() {
		return fmt.Errorf("engine.Submit: %w: %s", domain.ErrTradingHalted, e.fatalReason.Load())
	}
	// A top-up reserves fresh capital, so the drawdown breaker gates it
	// exactly like a new entry.
	if !e.sup.AllowEntry() {
		return fmt.Errorf("engine.Submit: %w: drawdown breaker active", domain.ErrTradingHalted)
	}

	if !e.sup.Averaging.ShouldAdd(pos, sig) {
		return fmt.Errorf("engine.Submit: market %s: %w", sig.MarketID, domain.ErrDuplicatePosition)
	}

	sizing := e.cfg.SizingSnapshot()
	params := domain.SizingParams{
		KellyFraction: sizing.KellyFraction,
		MaxExposure:   sizing.MaxExposure,
		MinEdge:       sizing.MinEdge,
	}

	snap := e.ledger.Snapshot()
	addStake, err := domain.KellyStake(sig, snap.Available, params)
	if err != nil {
		return fmt.Errorf("engine.Submit: size top-up %s: %w", sig.MarketID, err)
	}

	if capStake := e.sup.Averaging.MaxAddStake(pos, snap.Total); capStake.LessThan(addStake) {
		addStake = capStake
	}
	if addStake.Sign() <= 0 {
		return fmt.Errorf("engine.Submit: market %s: %w: exposure cap reached",
			sig.MarketID, domain.ErrDuplicatePosition)
	}

	fill := domain.FillPrice(true, sig.PriceFor(pos.Side), addStake, sig.Liquidity, e.slippage())

	tok, ok := e.tokenFor(pos.ID)
	if !ok {
		e.escalate(fmt.Errorf("engine: %w: no token for position %s", domain.ErrLedgerViolation, pos.ID))
		return fmt.Errorf("engine.Submit: %w", domain.ErrLedgerViolation)
	}

	newTok, err := e.ledger.Extend(tok, addStake)
	if err != nil {
		return fmt.Errorf("engine.Submit: extend %s: %w", sig.MarketID, err)
	}
	e.bindToken(pos.ID, newTok)

	seq, err := e.journal.Append(ctx, journal.Record{
		Kind:       journal.KindReserve,
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Side:       pos.Side,
		Amount:     addStake,
		Price:      fill,
		Reason:     "average_down",
	})
	if err != nil {
		e.escalate(err)
		return fmt.Errorf("engine.Submit: journal top-up %s: %w", sig.MarketID, err)
	}

	updated, err := e.store.AverageDown(pos.MarketID, addStake, fill)
	if err != nil {
		e.escalate(err)
		return fmt.Errorf("engine.Submit: average down %s: %w", sig.MarketID, err)
	}

	e.writeSnapshot(ctx, seq)

	slog.Info("engine: averaged down",
		"market", pos.MarketID,
		"added", fmt.Sprintf("$%s", addStake),
		"fill", fmt.Sprintf("%.4f", fill),
		"entry", fmt.Sprintf("%.4f", updated.EntryPrice),
		"additions", updated.Additions,
	)
	return nil
}

// tokenFor peeks at a position's reservation token without removing it.
func (e *Engine) tokenFor(positionID string) (ledger.Token, bool) {
	e.tokensMu.Lock()
	defer e.tokensMu.Unlock()
	tok, ok := e.tokens[positionID]
	return tok, ok
}

func (e *Engine) slippage() domain.SlippageConfig {
	return domain.SlippageConfig{
		Impact:       e.cfg.Slippage.Impact,
		MinLiquidity: e.cfg.Slippage.MinLiquidity,
	}
}
