// Package pipeline contains the two halves of the ingestion pipeline: the
// producer-side packet handler and the consumer-side batching worker.
package pipeline

import (
	"context"
	"time"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/observability"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// Options tune the batching worker.
type Options struct {
	BatchSize     int           // flush when the batch reaches this size
	FlushInterval time.Duration // flush a non-empty batch at least this often
	PollTimeout   time.Duration // bounded wait on an empty queue
}

func (o *Options) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 500 * time.Millisecond
	}
}

// Batcher is the single consumer of the ingestion queue. It accumulates
// readings until either the size threshold or the flush interval is hit,
// then hands the batch synchronously to the sink. One batch is in flight at
// a time; that is what keeps batch ordering defined on the wire.
type Batcher struct {
	queue ports.ReadingQueue
	sink  ports.Sink
	spool ports.Spool // optional
	obs   ports.Observability
	opts  Options
}

func NewBatcher(q ports.ReadingQueue, sink ports.Sink, spool ports.Spool, obs ports.Observability, opts Options) *Batcher {
	opts.applyDefaults()
	return &Batcher{queue: q, sink: sink, spool: spool, obs: obs, opts: opts}
}

// Run blocks until ctx is cancelled. On cancellation it stops polling for
// new readings, drains whatever the queue already holds into a final batch,
// flushes it, and returns. In-flight appends are allowed to complete rather
// than being cancelled, to avoid ambiguous partial-append states.
func (b *Batcher) Run(ctx context.Context) {
	flushCtx := context.WithoutCancel(ctx)
	batch := make([]*domain.Reading, 0, b.opts.BatchSize)
	lastFlush := time.Now()

	for {
		select {
		case <-ctx.Done():
			b.drain(flushCtx, batch)
			return
		default:
		}

		if r, ok := b.queue.Dequeue(b.opts.PollTimeout); ok {
			batch = append(batch, r)
		}

		if len(batch) >= b.opts.BatchSize ||
			(len(batch) > 0 && time.Since(lastFlush) >= b.opts.FlushInterval) {
			b.flush(flushCtx, batch)
			batch = make([]*domain.Reading, 0, b.opts.BatchSize)
			lastFlush = time.Now()
		}
	}
}

// drain empties the queue without waiting and flushes everything left,
// guaranteeing no silent loss of already-accepted readings at shutdown.
func (b *Batcher) drain(ctx context.Context, batch []*domain.Reading) {
	for {
		r, ok := b.queue.Dequeue(0)
		if !ok {
			break
		}
		batch = append(batch, r)
		if len(batch) >= b.opts.BatchSize {
			b.flush(ctx, batch)
			batch = make([]*domain.Reading, 0, b.opts.BatchSize)
		}
	}
	if len(batch) > 0 {
		b.flush(ctx, batch)
	}
}

// flush hands one batch to the sink. A failed batch is not requeued: retries
// would feed duplicated, unordered rows into future batches, so the loss is
// bounded to this one batch and the stream continues. Callers wanting
// stronger guarantees wrap the sink in their own retry.
func (b *Batcher) flush(ctx context.Context, batch []*domain.Reading) {
	start := time.Now()
	if err := b.sink.Append(ctx, batch); err != nil {
		b.obs.LogError("batch append failed", err,
			ports.Field{Key: "rows", Value: len(batch)},
			ports.Field{Key: "sink", Value: b.sink.Name()})
		if b.spool != nil {
			if serr := b.spool.Write(batch); serr != nil {
				b.obs.LogError("spool write failed", serr)
			} else {
				b.obs.LogInfo("failed batch spooled",
					ports.Field{Key: "rows", Value: len(batch)})
			}
		}
		return
	}

	b.obs.ObserveLatency(observability.MetricAppendSecs, time.Since(start).Seconds())
	b.obs.LogInfo("batch flushed",
		ports.Field{Key: "rows", Value: len(batch)},
		ports.Field{Key: "sink", Value: b.sink.Name()})
}
