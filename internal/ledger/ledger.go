// Package ledger is the single source of truth for capital accounting.
//
// Invariant: available + allocated == total at every observable point, and
// no component of the triple is ever negative. Reserve and Release are
// short, lock-scoped critical sections with no I/O inside; journaling
// happens outside, before the caller's per-market lock is dropped.
package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
)

// Token proves a reservation. It must be presented exactly once to Release;
// releasing an unknown or already-released token is an invariant violation.
type Token struct {
	ID     string
	Amount decimal.Decimal
}

// Snapshot is a point-in-time view of the ledger triple.
type Snapshot struct {
	Total     decimal.Decimal `json:"total"`
	Available decimal.Decimal `json:"available"`
	Allocated decimal.Decimal `json:"allocated"`
}

// Ledger tracks total, available and allocated capital.
type Ledger struct {
	mu        sync.Mutex
	total     decimal.Decimal
	available decimal.Decimal
	allocated decimal.Decimal
	reserved  map[string]decimal.Decimal // token id → outstanding amount
}

// New creates a ledger seeded with the given capital.
func New(initial decimal.Decimal) *Ledger {
	return &Ledger{
		total:     initial,
		available: initial,
		reserved:  make(map[string]decimal.Decimal),
	}
}

// Restore creates a ledger from a recovered snapshot. Outstanding
// reservations are re-registered by the caller via Rebind.
func Restore(snap Snapshot) *Ledger {
	return &Ledger{
		total:     snap.Total,
		available: snap.Available,
		allocated: snap.Allocated,
		reserved:  make(map[string]decimal.Decimal),
	}
}

// Rebind re-registers a reservation token after journal replay. It does not
// move capital: the restored snapshot already accounts for the allocation.
func (l *Ledger) Rebind(tok Token) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reserved[tok.ID] = tok.Amount
}

// Reserve atomically moves amount from available to allocated and returns a
// token for the reservation. No intermediate state is observable.
func (l *Ledger) Reserve(amount decimal.Decimal) (Token, error) {
	if amount.Sign() <= 0 {
		return Token{}, fmt.Errorf("ledger.Reserve: %w: non-positive amount %s", domain.ErrLedgerViolation, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.available) {
		return Token{}, fmt.Errorf("ledger.Reserve: %w: need %s, have %s",
			domain.ErrInsufficientCapital, amount, l.available)
	}

	l.available = l.available.Sub(amount)
	l.allocated = l.allocated.Add(amount)

	tok := Token{ID: uuid.New().String(), Amount: amount}
	l.reserved[tok.ID] = tok.Amount
	return tok, nil
}

// Extend atomically grows an existing reservation by amount (averaging-down
// top-up) and returns the updated token.
func (l *Ledger) Extend(tok Token, amount decimal.Decimal) (Token, error) {
	if amount.Sign() <= 0 {
		return tok, fmt.Errorf("ledger.Extend: %w: non-positive amount %s", domain.ErrLedgerViolation, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	outstanding, ok := l.reserved[tok.ID]
	if !ok {
		return tok, fmt.Errorf("ledger.Extend: %w: unknown token %s", domain.ErrLedgerViolation, tok.ID)
	}
	if amount.GreaterThan(l.available) {
		return tok, fmt.Errorf("ledger.Extend: %w: need %s, have %s",
			domain.ErrInsufficientCapital, amount, l.available)
	}

	l.available = l.available.Sub(amount)
	l.allocated = l.allocated.Add(amount)
	l.reserved[tok.ID] = outstanding.Add(amount)
	return Token{ID: tok.ID, Amount: l.reserved[tok.ID]}, nil
}

// Release returns the reserved amount from allocated and applies the
// realized PnL (possibly negative) to total and available. A token may be
// released exactly once; anything else is a fatal invariant violation.
func (l *Ledger) Release(tok Token, realizedPnL decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	outstanding, ok := l.reserved[tok.ID]
	if !ok {
		return fmt.Errorf("ledger.Release: %w: unknown or already-released token %s",
			domain.ErrLedgerViolation, tok.ID)
	}
	delete(l.reserved, tok.ID)

	l.allocated = l.allocated.Sub(outstanding)
	l.available = l.available.Add(outstanding).Add(realizedPnL)
	l.total = l.total.Add(realizedPnL)

	if l.allocated.Sign() < 0 || l.available.Sign() < 0 {
		return fmt.Errorf("ledger.Release: %w: negative balance after release (available=%s allocated=%s)",
			domain.ErrLedgerViolation, l.available, l.allocated)
	}
	return nil
}

// Deposit adds external capital to the ledger.
func (l *Ledger) Deposit(amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("ledger.Deposit: %w: non-positive amount %s", domain.ErrLedgerViolation, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.total = l.total.Add(amount)
	l.available = l.available.Add(amount)
	return nil
}

// Snapshot returns a consistent view of the triple.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{Total: l.total, Available: l.available, Allocated: l.allocated}
}

// Reconcile compares the live total against a total recomputed from journal
// replay. Divergence indicates corruption and must halt new trades.
func (l *Ledger) Reconcile(replayTotal decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.total.Equal(replayTotal) {
		return fmt.Errorf("ledger.Reconcile: %w: live total %s != journal total %s",
			domain.ErrLedgerViolation, l.total, replayTotal)
	}
	return nil
}
