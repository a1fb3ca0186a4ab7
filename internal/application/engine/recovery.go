package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
	"github.com/quantfarm/edgesim/internal/journal"
	"github.com/quantfarm/edgesim/internal/ledger"
	"github.com/quantfarm/edgesim/internal/position"
	"github.com/quantfarm/edgesim/internal/risk"
)

// Recover rebuilds the ledger, position store and drawdown breaker from the
// journal. A fresh journal gets seeded with the initial capital deposit; an
// existing one is folded, verified against the capital snapshot checkpoint
// when present, and its open positions are re-registered with rebound
// reservation tokens. The breaker posture (rolling peak, halted flag) comes
// from the folded halt/resume records, so a restart mid-drawdown stays
// halted.
func Recover(
	ctx context.Context,
	jrnl *journal.Journal,
	store *position.Store,
	sup *risk.Supervisor,
	snapshotPath string,
	initialCapital decimal.Decimal,
) (*ledger.Ledger, *journal.FoldState, error) {
	fold, err := jrnl.Fold(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("engine.Recover: fold journal: %w", err)
	}

	if fold.LastSeq == 0 {
		// First start: the deposit record makes replay-from-empty
		// reproduce the ledger exactly.
		seq, err := jrnl.Append(ctx, journal.Record{
			Kind:   journal.KindDeposit,
			Amount: initialCapital,
			Reason: "initial_capital",
		})
		if err != nil {
			return nil, nil, fmt.Errorf("engine.Recover: seed journal: %w", err)
		}

		led := ledger.New(initialCapital)
		snap := led.Snapshot()
		if err := journal.WriteSnapshot(snapshotPath, journal.CapitalSnapshot{
			Total:     snap.Total,
			Available: snap.Available,
			Allocated: snap.Allocated,
			LastSeq:   seq,
		}); err != nil {
			slog.Warn("engine: error writing initial capital snapshot", "err", err)
		}
		sup.Drawdown.Restore(risk.DrawdownState{Peak: initialCapital})
		slog.Info("engine: fresh start", "capital", fmt.Sprintf("$%s", initialCapital))
		fold.LastSeq = seq
		fold.Peak = initialCapital
		return led, fold, nil
	}

	// Fast-recovery checkpoint: when it covers the same sequence as the
	// replay, the two must agree exactly.
	if snap, ok, err := journal.ReadSnapshot(snapshotPath); err != nil {
		return nil, nil, fmt.Errorf("engine.Recover: %w", err)
	} else if ok && snap.LastSeq == fold.LastSeq && !snap.Total.Equal(fold.Total) {
		return nil, nil, fmt.Errorf("engine.Recover: %w: snapshot total %s != replay total %s at seq %d",
			domain.ErrLedgerViolation, snap.Total, fold.Total, fold.LastSeq)
	}

	led := ledger.Restore(ledger.Snapshot{
		Total:     fold.Total,
		Available: fold.Available,
		Allocated: fold.Allocated,
	})

	for _, entry := range fold.Open {
		pos := domain.Position{
			ID:           entry.PositionID,
			MarketID:     entry.MarketID,
			Side:         entry.Side,
			EntryPrice:   entry.EntryPrice,
			Stake:        entry.Stake,
			OpenedAt:     entry.OpenedAt,
			EntryEdge:    entry.EntryEdge,
			LastEdge:     entry.EntryEdge,
			Additions:    entry.Additions,
			ResolutionAt: entry.ResolutionAt,
		}
		if err := store.Restore(pos); err != nil {
			return nil, nil, fmt.Errorf("engine.Recover: restore position %s: %w", entry.PositionID, err)
		}
	}

	sup.Drawdown.Restore(risk.DrawdownState{
		Peak:      fold.Peak,
		Halted:    fold.Halted,
		TrippedAt: fold.HaltedAt,
		Reason:    fold.HaltReason,
	})

	slog.Info("engine: recovered from journal",
		"last_seq", fold.LastSeq,
		"open_positions", len(fold.Open),
		"total", fmt.Sprintf("$%s", fold.Total),
		"allocated", fmt.Sprintf("$%s", fold.Allocated),
		"halted", fold.Halted,
	)
	return led, fold, nil
}

// RebindTokens re-registers reservation tokens for recovered open
// positions on both the ledger and the engine, using the position id as the
// token id so a restart is deterministic.
func (e *Engine) RebindTokens(fold map[string]journal.OpenEntry) {
	for id, entry := range fold {
		tok := ledger.Token{ID: id, Amount: entry.Stake}
		e.ledger.Rebind(tok)
		e.bindToken(id, tok)
	}
}
