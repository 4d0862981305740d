package pipeline

import (
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/observability"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/normalize"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// NewPacketHandler builds the producer side of the pipeline: the device
// transport invokes it once per received packet. It normalizes, enqueues and
// returns; it never blocks, because the transport has no backpressure
// signal. Unparseable packets are dropped at debug level only.
func NewPacketHandler(q ports.ReadingQueue, obs ports.Observability) ports.PacketHandler {
	return func(packet map[string]any) {
		r := normalize.Normalize(packet)
		if r == nil {
			obs.LogDebug("unparseable packet dropped")
			return
		}

		q.Enqueue(r)
		obs.IncCounter(observability.MetricReceived, 1)
		obs.LogDebug("reading queued",
			ports.Field{Key: "kind", Value: string(r.Kind)},
			ports.Field{Key: "from", Value: r.FromID},
			ports.Field{Key: "queue_len", Value: q.Len()})
	}
}
