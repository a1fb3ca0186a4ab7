// Package position owns the set of live positions and their lifecycle
// state machine. The engine never mutates a Position directly; every
// transition goes through the store, which enforces one non-terminal
// position per market and strict ordering of transitions.
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfarm/edgesim/internal/domain"
	"github.com/quantfarm/edgesim/internal/ports"
)

// Store holds active positions in memory, keyed by market id, and hands
// closed positions to durable historical storage.
type Store struct {
	mu      sync.RWMutex
	active  map[string]*domain.Position // market id → position
	history ports.PositionStorage
}

// NewStore creates a store backed by the given historical storage.
func NewStore(history ports.PositionStorage) *Store {
	return &Store{
		active:  make(map[string]*domain.Position),
		history: history,
	}
}

// Open registers a freshly reserved position as Open. The Opening state
// collapses here: a position only enters the store once its reservation
// succeeded, so Opening is never observable from outside the engine.
func (s *Store) Open(pos domain.Position) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.active[pos.MarketID]; ok {
		return domain.Position{}, fmt.Errorf("position.Open: market %s: %w (position %s is %s)",
			pos.MarketID, domain.ErrDuplicatePosition, existing.ID, existing.Status)
	}

	pos.Status = domain.StatusOpen
	s.active[pos.MarketID] = &pos
	return pos, nil
}

// Restore re-registers an open position recovered from journal replay.
func (s *Store) Restore(pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[pos.MarketID]; ok {
		return fmt.Errorf("position.Restore: market %s: %w", pos.MarketID, domain.ErrDuplicatePosition)
	}
	pos.Status = domain.StatusOpen
	s.active[pos.MarketID] = &pos
	return nil
}

// Get returns a copy of the active position for a market.
func (s *Store) Get(marketID string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.active[marketID]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// AverageDown grows an Open position by addStake filled at fillPrice and
// recomputes the stake-weighted average entry. The caller has already
// cleared the averaging-down policy and extended the ledger reservation.
func (s *Store) AverageDown(marketID string, addStake decimal.Decimal, fillPrice float64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.active[marketID]
	if !ok {
		return domain.Position{}, fmt.Errorf("position.AverageDown: no active position for market %s", marketID)
	}
	if pos.Status != domain.StatusOpen {
		return domain.Position{}, fmt.Errorf("position.AverageDown: market %s: position is %s, not OPEN",
			marketID, pos.Status)
	}

	pos.EntryPrice = domain.BlendEntry(pos.Stake, pos.EntryPrice, addStake, fillPrice)
	pos.Stake = pos.Stake.Add(addStake)
	pos.Additions++
	return *pos, nil
}

// BeginClose moves an Open position into the given Closing* state. The
// transition is terminal-bound: the only way out is FinalizeClose.
func (s *Store) BeginClose(marketID string, reason domain.PositionStatus) (domain.Position, error) {
	if !reason.Closing() {
		return domain.Position{}, fmt.Errorf("position.BeginClose: %q is not a closing status", reason)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.active[marketID]
	if !ok {
		return domain.Position{}, fmt.Errorf("position.BeginClose: no active position for market %s", marketID)
	}
	if pos.Status != domain.StatusOpen {
		return domain.Position{}, fmt.Errorf("position.BeginClose: market %s: position is %s, not OPEN",
			marketID, pos.Status)
	}

	pos.Status = reason
	return *pos, nil
}

// FinalizeClose completes a Closing* transition: the position becomes
// Closed and immutable, moves to historical storage, and the market id
// becomes eligible for new signals. Closing a position that is not mid-close
// is a programmer error, surfaced loudly as a ledger-grade violation.
func (s *Store) FinalizeClose(ctx context.Context, marketID string, pnl decimal.Decimal, closedAt time.Time) (domain.Position, error) {
	s.mu.Lock()

	pos, ok := s.active[marketID]
	if !ok || !pos.Status.Closing() {
		s.mu.Unlock()
		status := domain.PositionStatus("none")
		if ok {
			status = pos.Status
		}
		return domain.Position{}, fmt.Errorf("position.FinalizeClose: market %s: %w: status %s",
			marketID, domain.ErrLedgerViolation, status)
	}

	closed := *pos
	closed.CloseReason = pos.Status.CloseReason()
	closed.Status = domain.StatusClosed
	closed.RealizedPnL = pnl
	closed.ClosedAt = closedAt
	delete(s.active, marketID)
	s.mu.Unlock()

	// History write happens outside the map lock; the market is already
	// free for new signals even if the write is slow.
	if err := s.history.SaveClosedPosition(ctx, closed); err != nil {
		return closed, fmt.Errorf("position.FinalizeClose: save history: %w", err)
	}
	return closed, nil
}

// UpdateEdge records the edge seen at the latest evaluation tick.
func (s *Store) UpdateEdge(marketID string, edge float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.active[marketID]; ok {
		pos.LastEdge = edge
	}
}

// OpenPositions returns copies of all active positions.
func (s *Store) OpenPositions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.active))
	for _, pos := range s.active {
		out = append(out, *pos)
	}
	return out
}

// ActiveMarkets returns the market ids with a non-terminal position.
func (s *Store) ActiveMarkets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for id := range s.active {
		out = append(out, id)
	}
	return out
}

// Len returns the number of active positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}
