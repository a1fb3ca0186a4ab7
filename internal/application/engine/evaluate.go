package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
	"github.com/quantfarm/edgesim/internal/journal"
	"github.com/quantfarm/edgesim/internal/risk"
)

// SweepResult summarizes one re-evaluation pass over the open positions.
type SweepResult struct {
	Evaluated   int
	Closed      int
	StopLosses  int
	TakeProfits int
	Expired     int
	Reversals   int
	Halted      bool
	NetPnL      decimal.Decimal
}

// EvaluateOnce sweeps every open position: checks expiry, stop loss, take
// profit and edge reversal against the latest quotes, and executes the
// resulting Closing* transitions. Each position is handled under its
// market lock, so the sweep never races intake for the same market.
func (e *Engine) EvaluateOnce(ctx context.Context) (*SweepResult, error) {
	result := &SweepResult{}
	now := e.now()

	for _, pos := range e.store.OpenPositions() {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		mu := e.marketLock(pos.MarketID)
		mu.Lock()

		// Re-read under the lock; intake may have topped it up or an
		// earlier command may have closed it since the snapshot.
		current, ok := e.store.Get(pos.MarketID)
		if !ok || current.ID != pos.ID {
			mu.Unlock()
			continue
		}
		result.Evaluated++

		latest, _ := e.latestQuote(pos.MarketID)
		if latest.MarketID != "" {
			e.store.UpdateEdge(pos.MarketID, latest.EdgeFor(current.Side))
		}

		cmd := e.sup.Evaluate(current, latest, now)
		if cmd.Action == risk.ActionClose {
			pnl, err := e.closeLocked(ctx, current, cmd.Reason, latest)
			if err != nil {
				slog.Warn("engine: error closing position",
					"market", current.MarketID, "reason", cmd.Reason.CloseReason(), "err", err)
			} else {
				result.Closed++
				result.NetPnL = result.NetPnL.Add(pnl)
				switch cmd.Reason {
				case domain.StatusClosingStopLoss:
					result.StopLosses++
				case domain.StatusClosingTakeProfit:
					result.TakeProfits++
				case domain.StatusClosingExpired:
					result.Expired++
				case domain.StatusClosingManual:
					result.Reversals++
				}
			}
		}
		mu.Unlock()
	}

	e.observeDrawdown(ctx)
	result.Halted = e.Halted()

	if e.sweeps.Add(1)%reconcileEverySweeps == 0 {
		if err := e.ReconcileJournal(ctx); err != nil {
			e.escalate(err)
		}
	}
	return result, nil
}

// closeLocked executes one Closing* transition end to end: state machine,
// simulated exit fill, durable journal release, ledger release, terminal
// Closed. The caller holds the market lock; the journal write lands before
// it is dropped.
func (e *Engine) closeLocked(ctx context.Context, pos domain.Position, reason domain.PositionStatus, latest domain.Signal) (decimal.Decimal, error) {
	closing, err := e.store.BeginClose(pos.MarketID, reason)
	if err != nil {
		return decimal.Zero, fmt.Errorf("engine.close: %w", err)
	}

	if _, err := e.journal.Append(ctx, journal.Record{
		Kind:       journal.KindTransition,
		PositionID: closing.ID,
		MarketID:   closing.MarketID,
		Reason:     string(reason),
	}); err != nil {
		e.escalate(err)
		// The close continues: fatal state blocks new entries only, and
		// the release record below still carries the accounting truth.
	}

	// Exit at the latest quote through the same slippage model as the
	// open. With no quote since open (expiry of a dead market) the exit
	// falls back to the entry price: flat PnL.
	exitQuote := closing.EntryPrice
	liquidity := 0.0
	if latest.MarketID != "" {
		exitQuote = latest.PriceFor(closing.Side)
		liquidity = latest.Liquidity
	}
	fill := domain.FillPrice(false, exitQuote, closing.Stake, liquidity, e.slippage())
	pnl := closing.PnLAt(fill)

	tok, ok := e.takeToken(closing.ID)
	if !ok {
		err := fmt.Errorf("engine.close: %w: no reservation token for position %s",
			domain.ErrLedgerViolation, closing.ID)
		e.escalate(err)
		return decimal.Zero, err
	}

	seq, err := e.journal.Append(ctx, journal.Record{
		Kind:       journal.KindRelease,
		PositionID: closing.ID,
		MarketID:   closing.MarketID,
		Side:       closing.Side,
		Amount:     tok.Amount,
		PnL:        pnl,
		Price:      fill,
		Reason:     reason.CloseReason(),
	})
	if err != nil {
		// Re-bind the token: the release never became durable, so the
		// reservation must stay live for a retry after recovery.
		e.bindToken(closing.ID, tok)
		e.escalate(err)
		return decimal.Zero, fmt.Errorf("engine.close: journal release: %w", err)
	}

	if err := e.ledger.Release(tok, pnl); err != nil {
		e.escalate(err)
		return decimal.Zero, fmt.Errorf("engine.close: %w", err)
	}

	closed, err := e.store.FinalizeClose(ctx, closing.MarketID, pnl, e.now().UTC())
	if err != nil {
		slog.Warn("engine: close finalized with history error", "market", closing.MarketID, "err", err)
	}

	e.sup.Reversal.Forget(closing.MarketID)
	e.writeSnapshot(ctx, seq)
	e.observeDrawdown(ctx)

	slog.Info("engine: closed position",
		"market", closed.MarketID,
		"reason", closed.CloseReason,
		"stake", fmt.Sprintf("$%s", closed.Stake),
		"exit", fmt.Sprintf("%.4f", fill),
		"pnl", fmt.Sprintf("$%s", pnl),
		"held", fmt.Sprintf("%.1fh", closed.HoursHeld(e.now())),
	)
	return pnl, nil
}

// ReconcileJournal recomputes the ledger total from a full journal replay
// and compares it against the live ledger. Divergence means corruption and
// halts new trades.
func (e *Engine) ReconcileJournal(ctx context.Context) error {
	fold, err := e.journal.Fold(ctx)
	if err != nil {
		return fmt.Errorf("engine.ReconcileJournal: %w", err)
	}
	if err := e.ledger.Reconcile(fold.Total); err != nil {
		return fmt.Errorf("engine.ReconcileJournal: %w", err)
	}
	return nil
}
