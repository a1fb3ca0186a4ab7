package ledger

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfarm/edgesim/internal/domain"
)

func assertInvariant(t *testing.T, l *Ledger) {
	t.Helper()
	snap := l.Snapshot()
	assert.True(t, snap.Available.Add(snap.Allocated).Equal(snap.Total),
		"available %s + allocated %s != total %s", snap.Available, snap.Allocated, snap.Total)
	assert.GreaterOrEqual(t, snap.Available.Sign(), 0)
	assert.GreaterOrEqual(t, snap.Allocated.Sign(), 0)
}

func TestLedgerReserveRelease(t *testing.T) {
	l := New(decimal.NewFromInt(1000))

	tok, err := l.Reserve(decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.NotEmpty(t, tok.ID)

	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(900)))
	assert.True(t, snap.Allocated.Equal(decimal.NewFromInt(100)))
	assertInvariant(t, l)

	// close at a loss of 20
	require.NoError(t, l.Release(tok, decimal.NewFromInt(-20)))

	snap = l.Snapshot()
	assert.True(t, snap.Total.Equal(decimal.NewFromInt(980)))
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(980)))
	assert.True(t, snap.Allocated.IsZero())
	assertInvariant(t, l)
}

func TestLedgerReserve_InsufficientCapital(t *testing.T) {
	l := New(decimal.NewFromInt(50))

	_, err := l.Reserve(decimal.NewFromInt(100))
	assert.ErrorIs(t, err, domain.ErrInsufficientCapital)

	// rejected reservation must not move capital
	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(50)))
	assert.True(t, snap.Allocated.IsZero())
}

func TestLedgerReserve_NonPositiveAmount(t *testing.T) {
	l := New(decimal.NewFromInt(100))

	_, err := l.Reserve(decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)

	_, err = l.Reserve(decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)
}

func TestLedgerRelease_DoubleReleaseIsViolation(t *testing.T) {
	l := New(decimal.NewFromInt(1000))

	tok, err := l.Reserve(decimal.NewFromInt(100))
	require.NoError(t, err)
	require.NoError(t, l.Release(tok, decimal.Zero))

	err = l.Release(tok, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)
	assertInvariant(t, l)
}

func TestLedgerRelease_UnknownToken(t *testing.T) {
	l := New(decimal.NewFromInt(1000))
	err := l.Release(Token{ID: "never-issued", Amount: decimal.NewFromInt(10)}, decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)
}

func TestLedgerExtend(t *testing.T) {
	l := New(decimal.NewFromInt(1000))

	tok, err := l.Reserve(decimal.NewFromInt(100))
	require.NoError(t, err)

	tok, err = l.Extend(tok, decimal.NewFromInt(50))
	require.NoError(t, err)
	assert.True(t, tok.Amount.Equal(decimal.NewFromInt(150)))

	snap := l.Snapshot()
	assert.True(t, snap.Allocated.Equal(decimal.NewFromInt(150)))
	assertInvariant(t, l)

	// the grown reservation releases as one unit
	require.NoError(t, l.Release(tok, decimal.NewFromInt(30)))
	snap = l.Snapshot()
	assert.True(t, snap.Total.Equal(decimal.NewFromInt(1030)))
	assert.True(t, snap.Allocated.IsZero())
}

func TestLedgerExtend_UnknownToken(t *testing.T) {
	l := New(decimal.NewFromInt(1000))
	_, err := l.Extend(Token{ID: "ghost"}, decimal.NewFromInt(10))
	assert.ErrorIs(t, err, domain.ErrLedgerViolation)
}

func TestLedgerDeposit(t *testing.T) {
	l := New(decimal.NewFromInt(100))
	require.NoError(t, l.Deposit(decimal.NewFromInt(400)))

	snap := l.Snapshot()
	assert.True(t, snap.Total.Equal(decimal.NewFromInt(500)))
	assert.True(t, snap.Available.Equal(decimal.NewFromInt(500)))

	assert.ErrorIs(t, l.Deposit(decimal.Zero), domain.ErrLedgerViolation)
}

func TestLedgerReconcile(t *testing.T) {
	l := New(decimal.NewFromInt(1000))
	assert.NoError(t, l.Reconcile(decimal.NewFromInt(1000)))
	assert.ErrorIs(t, l.Reconcile(decimal.NewFromInt(999)), domain.ErrLedgerViolation)
}

func TestLedgerRebind(t *testing.T) {
	l := Restore(Snapshot{
		Total:     decimal.NewFromInt(1000),
		Available: decimal.NewFromInt(900),
		Allocated: decimal.NewFromInt(100),
	})
	l.Rebind(Token{ID: "pos-1", Amount: decimal.NewFromInt(100)})

	require.NoError(t, l.Release(Token{ID: "pos-1"}, decimal.NewFromInt(10)))
	snap := l.Snapshot()
	assert.True(t, snap.Total.Equal(decimal.NewFromInt(1010)))
	assert.True(t, snap.Allocated.IsZero())
	assertInvariant(t, l)
}

func TestLedgerInvariantUnderConcurrency(t *testing.T) {
	l := New(decimal.NewFromInt(10000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := l.Reserve(decimal.NewFromInt(10))
			if err != nil {
				return
			}
			_ = l.Release(tok, decimal.NewFromFloat(0.25))
		}()
	}
	wg.Wait()

	assertInvariant(t, l)
	snap := l.Snapshot()
	assert.True(t, snap.Allocated.IsZero(), "all reservations released")
	assert.True(t, snap.Total.Equal(decimal.NewFromFloat(10012.5)))
}
