package ports

import (
	"context"

	"github.com/quantfarm/edgesim/internal/domain"
)

// Reporter presents closed positions and their aggregates to the user.
// The console implementation prints a formatted table.
type Reporter interface {
	Report(ctx context.Context, positions []domain.Position, stats domain.ClosedStats) error
}
