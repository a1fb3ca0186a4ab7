package ports

import (
	"context"

	"github.com/quantfarm/edgesim/internal/domain"
)

// SignalSource is the boundary to the external forecasting collaborators.
// The channel closes when the source is exhausted or the context ends.
type SignalSource interface {
	Signals(ctx context.Context) (<-chan domain.Signal, error)
}
