package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
)

// OpenEntry is an open position reconstructed from the journal: reserves
// without a matching release.
type OpenEntry struct {
	PositionID   string
	MarketID     string
	Side         domain.Side
	Stake        decimal.Decimal
	EntryPrice   float64
	EntryEdge    float64
	Additions    int
	OpenedAt     time.Time
	ResolutionAt time.Time
}

// FoldState is the deterministic fold of the journal: ledger totals plus the
// open position set. Replaying the same journal always yields the same
// FoldState.
type FoldState struct {
	Total     decimal.Decimal
	Available decimal.Decimal
	Allocated decimal.Decimal
	Open      map[string]OpenEntry // position id → entry
	LastSeq   int64
	Releases  int
	Reserves  int

	// Drawdown breaker posture at the end of the journal. Peak is the
	// rolling capital high-water mark; Halted reflects the last
	// halt/resume record.
	Peak       decimal.Decimal
	Halted     bool
	HaltedAt   time.Time
	HaltReason string
}

// Fold replays the whole journal into a FoldState. It is used for crash
// recovery (rebuilding ledger and store) and for reconciliation against the
// live ledger.
func (j *Journal) Fold(ctx context.Context) (*FoldState, error) {
	st := &FoldState{Open: make(map[string]OpenEntry)}

	err := j.Replay(ctx, func(rec Record) error {
		st.LastSeq = rec.Seq

		switch rec.Kind {
		case KindDeposit:
			st.Total = st.Total.Add(rec.Amount)
			st.Available = st.Available.Add(rec.Amount)
			if st.Total.GreaterThan(st.Peak) {
				st.Peak = st.Total
			}

		case KindReserve:
			st.Reserves++
			st.Available = st.Available.Sub(rec.Amount)
			st.Allocated = st.Allocated.Add(rec.Amount)

			entry, exists := st.Open[rec.PositionID]
			if !exists {
				st.Open[rec.PositionID] = OpenEntry{
					PositionID:   rec.PositionID,
					MarketID:     rec.MarketID,
					Side:         rec.Side,
					Stake:        rec.Amount,
					EntryPrice:   rec.Price,
					EntryEdge:    rec.EntryEdge,
					OpenedAt:     rec.RecordedAt,
					ResolutionAt: rec.ResolutionAt,
				}
				return nil
			}
			// Averaging-down top-up: blend the entry price exactly as the
			// store did when the record was written.
			entry.EntryPrice = domain.BlendEntry(entry.Stake, entry.EntryPrice, rec.Amount, rec.Price)
			entry.Stake = entry.Stake.Add(rec.Amount)
			entry.Additions++
			st.Open[rec.PositionID] = entry

		case KindRelease:
			st.Releases++
			entry, exists := st.Open[rec.PositionID]
			if !exists {
				return fmt.Errorf("journal.Fold: seq %d: %w: release for unknown position %s",
					rec.Seq, domain.ErrLedgerViolation, rec.PositionID)
			}
			if !entry.Stake.Equal(rec.Amount) {
				return fmt.Errorf("journal.Fold: seq %d: %w: release amount %s != reserved %s",
					rec.Seq, domain.ErrLedgerViolation, rec.Amount, entry.Stake)
			}
			st.Allocated = st.Allocated.Sub(rec.Amount)
			st.Available = st.Available.Add(rec.Amount).Add(rec.PnL)
			st.Total = st.Total.Add(rec.PnL)
			if st.Total.GreaterThan(st.Peak) {
				st.Peak = st.Total
			}
			delete(st.Open, rec.PositionID)

		case KindTransition:
			// No capital effect; transitions are audit trail only.

		case KindHalt:
			st.Halted = true
			st.HaltedAt = rec.RecordedAt
			st.HaltReason = rec.Reason

		case KindResume:
			st.Halted = false
			st.HaltReason = ""

		default:
			return fmt.Errorf("journal.Fold: seq %d: unknown kind %q", rec.Seq, rec.Kind)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !st.Available.Add(st.Allocated).Equal(st.Total) {
		return nil, fmt.Errorf("journal.Fold: %w: available %s + allocated %s != total %s",
			domain.ErrLedgerViolation, st.Available, st.Allocated, st.Total)
	}
	return st, nil
}
