package meshstream

import (
	"context"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// BatchFunc receives one completed batch.
type BatchFunc func(ctx context.Context, batch []*domain.Reading) error

type callbackSink struct {
	name string
	fn   BatchFunc
}

// NewCallbackSink adapts a function into a Sink, for embedding the pipeline
// in another service or capturing batches in tests.
func NewCallbackSink(name string, fn BatchFunc) ports.Sink {
	return &callbackSink{name: name, fn: fn}
}

func (c *callbackSink) Append(ctx context.Context, batch []*domain.Reading) error {
	return c.fn(ctx, batch)
}

func (c *callbackSink) Name() string { return c.name }
