package ports

import (
	"context"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
)

// Sink receives completed batches from the batching worker. Append is
// synchronous; the worker blocks for its duration so batches never overlap
// in flight.
type Sink interface {
	Append(ctx context.Context, batch []*domain.Reading) error
	Name() string
}
