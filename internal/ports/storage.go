package ports

import (
	"context"
	"time"

	"github.com/quantfarm/edgesim/internal/domain"
)

// PositionStorage persists closed positions and serves the read-only
// reporting surface. The engine only writes; aggregates (win rate, profit
// factor) are computed here, never by the engine.
type PositionStorage interface {
	SaveClosedPosition(ctx context.Context, pos domain.Position) error
	GetClosedPositions(ctx context.Context, from, to time.Time) ([]domain.Position, error)
	GetClosedStats(ctx context.Context) (domain.ClosedStats, error)
}
