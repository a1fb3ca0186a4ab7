package journal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/edgesim/internal/domain"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestAppendAssignsSequenceAndID(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	seq1, err := j.Append(ctx, Record{Kind: KindDeposit, Amount: decimal.NewFromInt(1000), Reason: "initial_capital"})
	require.NoError(t, err)
	seq2, err := j.Append(ctx, Record{Kind: KindReserve, PositionID: "p1", MarketID: "m1", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	assert.Equal(t, int64(1), seq1)
	assert.Equal(t, int64(2), seq2)

	last, err := j.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)
}

func TestReplayRoundTrip(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	resolution := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	want := Record{
		Kind:         KindReserve,
		PositionID:   "p1",
		MarketID:     "m1",
		Side:         domain.SideYes,
		Amount:       decimal.RequireFromString("71.42"),
		Price:        0.303,
		EntryEdge:    0.12,
		Reason:       "open",
		ResolutionAt: resolution,
	}
	_, err := j.Append(ctx, want)
	require.NoError(t, err)

	var got []Record
	require.NoError(t, j.Replay(ctx, func(rec Record) error {
		got = append(got, rec)
		return nil
	}))
	require.Len(t, got, 1)

	rec := got[0]
	assert.Equal(t, KindReserve, rec.Kind)
	assert.Equal(t, "p1", rec.PositionID)
	assert.Equal(t, "m1", rec.MarketID)
	assert.Equal(t, domain.SideYes, rec.Side)
	assert.True(t, rec.Amount.Equal(want.Amount), "amount %s", rec.Amount)
	assert.InDelta(t, 0.303, rec.Price, 1e-9)
	assert.InDelta(t, 0.12, rec.EntryEdge, 1e-9)
	assert.Equal(t, "open", rec.Reason)
	assert.True(t, rec.ResolutionAt.Equal(resolution), "resolution %s", rec.ResolutionAt)
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.RecordedAt.IsZero())
}

func TestFoldReconstructsLedgerAndOpenSet(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	mustAppend := func(rec Record) {
		t.Helper()
		_, err := j.Append(ctx, rec)
		require.NoError(t, err)
	}

	mustAppend(Record{Kind: KindDeposit, Amount: decimal.NewFromInt(1000), Reason: "initial_capital"})
	mustAppend(Record{Kind: KindReserve, PositionID: "p1", MarketID: "m1", Side: domain.SideYes,
		Amount: decimal.NewFromInt(100), Price: 0.40, EntryEdge: 0.10, Reason: "open"})
	mustAppend(Record{Kind: KindReserve, PositionID: "p2", MarketID: "m2", Side: domain.SideNo,
		Amount: decimal.NewFromInt(80), Price: 0.55, EntryEdge: 0.08, Reason: "open"})
	mustAppend(Record{Kind: KindTransition, PositionID: "p2", MarketID: "m2", Reason: "CLOSING_STOP_LOSS"})
	mustAppend(Record{Kind: KindRelease, PositionID: "p2", MarketID: "m2",
		Amount: decimal.NewFromInt(80), PnL: decimal.NewFromInt(-16), Reason: "stop_loss"})

	fold, err := j.Fold(ctx)
	require.NoError(t, err)

	assert.True(t, fold.Total.Equal(decimal.NewFromInt(984)), "total %s", fold.Total)
	assert.True(t, fold.Available.Equal(decimal.NewFromInt(884)), "available %s", fold.Available)
	assert.True(t, fold.Allocated.Equal(decimal.NewFromInt(100)), "allocated %s", fold.Allocated)
	assert.Equal(t, 2, fold.Reserves)
	assert.Equal(t, 1, fold.Releases)

	require.Len(t, fold.Open, 1)
	entry := fold.Open["p1"]
	assert.Equal(t, "m1", entry.MarketID)
	assert.Equal(t, domain.SideYes, entry.Side)
	assert.True(t, entry.Stake.Equal(decimal.NewFromInt(100)))
	assert.InDelta(t, 0.40, entry.EntryPrice, 1e-9)
	assert.InDelta(t, 0.10, entry.EntryEdge, 1e-9)
}

func TestFoldBlendsAveragingDownReserves(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	records := []Record{
		{Kind: KindDeposit, Amount: decimal.NewFromInt(1000)},
		{Kind: KindReserve, PositionID: "p1", MarketID: "m1", Side: domain.SideYes,
			Amount: decimal.NewFromInt(100), Price: 0.40, Reason: "open"},
		{Kind: KindReserve, PositionID: "p1", MarketID: "m1", Side: domain.SideYes,
			Amount: decimal.NewFromInt(50), Price: 0.50, Reason: "average_down"},
	}
	for _, rec := range records {
		_, err := j.Append(ctx, rec)
		require.NoError(t, err)
	}

	fold, err := j.Fold(ctx)
	require.NoError(t, err)

	entry := fold.Open["p1"]
	assert.True(t, entry.Stake.Equal(decimal.NewFromInt(150)))
	assert.InDelta(t, 0.4333333333, entry.EntryPrice, 1e-9)
	assert.Equal(t, 1, entry.Additions)
	assert.True(t, fold.Allocated.Equal(decimal.NewFromInt(150)))
}

func TestFoldRejectsReleaseMismatch(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	records := []Record{
		{Kind: KindDeposit, Amount: decimal.NewFromInt(1000)},
		{Kind: KindReserve, PositionID: "p1", MarketID: "m1", Amount: decimal.NewFromInt(100), Reason: "open"},
		// release does not match the cumulative reserve
		{Kind: KindRelease, PositionID: "p1", MarketID: "m1", Amount: decimal.NewFromInt(60)},
	}
	for _, rec := range records {
		_, err := j.Append(ctx, rec)
		require.NoError(t, err)
	}

	_, err := j.Fold(ctx)
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)
}

func TestFoldRejectsOrphanRelease(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	_, err := j.Append(ctx, Record{Kind: KindDeposit, Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = j.Append(ctx, Record{Kind: KindRelease, PositionID: "ghost", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)

	_, err = j.Fold(ctx)
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)
}

func TestFoldEmptyJournal(t *testing.T) {
	j := openJournal(t)

	fold, err := j.Fold(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), fold.LastSeq)
	assert.True(t, fold.Total.IsZero())
	assert.Empty(t, fold.Open)
}

func TestFoldIgnoresHaltResumeCapital(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	records := []Record{
		{Kind: KindDeposit, Amount: decimal.NewFromInt(500)},
		{Kind: KindHalt, Reason: "drawdown threshold exceeded"},
		{Kind: KindResume},
	}
	for _, rec := range records {
		_, err := j.Append(ctx, rec)
		require.NoError(t, err)
	}

	fold, err := j.Fold(ctx)
	require.NoError(t, err)
	assert.True(t, fold.Total.Equal(decimal.NewFromInt(500)))
	assert.True(t, fold.Available.Equal(decimal.NewFromInt(500)))
}

func TestFoldTracksBreakerPostureAndPeak(t *testing.T) {
	j := openJournal(t)
	ctx := context.Background()

	mustAppend := func(rec Record) {
		t.Helper()
		_, err := j.Append(ctx, rec)
		require.NoError(t, err)
	}

	mustAppend(Record{Kind: KindDeposit, Amount: decimal.NewFromInt(1000)})
	mustAppend(Record{Kind: KindReserve, PositionID: "p1", MarketID: "m1",
		Amount: decimal.NewFromInt(100), Reason: "open"})
	mustAppend(Record{Kind: KindRelease, PositionID: "p1", MarketID: "m1",
		Amount: decimal.NewFromInt(100), PnL: decimal.NewFromInt(-18), Reason: "stop_loss"})
	mustAppend(Record{Kind: KindHalt, Reason: "drawdown threshold exceeded"})

	fold, err := j.Fold(ctx)
	require.NoError(t, err)
	assert.True(t, fold.Halted)
	assert.Equal(t, "drawdown threshold exceeded", fold.HaltReason)
	assert.False(t, fold.HaltedAt.IsZero())
	// the peak survives the loss; only the live total drops
	assert.True(t, fold.Peak.Equal(decimal.NewFromInt(1000)), "peak %s", fold.Peak)
	assert.True(t, fold.Total.Equal(decimal.NewFromInt(982)))

	mustAppend(Record{Kind: KindResume})
	fold, err = j.Fold(ctx)
	require.NoError(t, err)
	assert.False(t, fold.Halted)
	assert.Empty(t, fold.HaltReason)
}
