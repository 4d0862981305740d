package ports

import (
	"time"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
)

// ReadingQueue is the hand-off point between the device callback (producer)
// and the batching worker (consumer). Enqueue never blocks; Dequeue blocks
// for at most the given wait and reports whether a reading was taken.
type ReadingQueue interface {
	Enqueue(r *domain.Reading)
	Dequeue(wait time.Duration) (*domain.Reading, bool)
	Len() int

	// HighWater is the maximum length the queue has reached since start.
	HighWater() int
	// Dropped counts readings discarded by the drop-oldest policy.
	Dropped() uint64
}
