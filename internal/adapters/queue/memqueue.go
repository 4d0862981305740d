// Package queue provides the in-memory FIFO between the device callback and
// the batching worker.
package queue

import (
	"sync"
	"time"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// MemQueue is an unbounded FIFO that preserves arrival order. Enqueue never
// blocks: losing sensor telemetry is judged worse than memory growth in this
// deployment profile, so there is no producer-side backpressure. Operators
// who want a ceiling can set maxLen, which drops the oldest reading to make
// room and counts the loss.
type MemQueue struct {
	mu        sync.Mutex
	data      []*domain.Reading
	maxLen    int
	highWater int
	dropped   uint64
	wake      chan struct{}
}

// NewMemQueue returns a queue with no length limit when maxLen <= 0.
func NewMemQueue(maxLen int) *MemQueue {
	return &MemQueue{
		maxLen: maxLen,
		wake:   make(chan struct{}, 1),
	}
}

func (q *MemQueue) Enqueue(r *domain.Reading) {
	q.mu.Lock()
	if q.maxLen > 0 && len(q.data) >= q.maxLen {
		q.data = q.data[1:]
		q.dropped++
	}
	q.data = append(q.data, r)
	if len(q.data) > q.highWater {
		q.highWater = len(q.data)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dequeue removes the oldest reading, waiting up to wait for one to arrive.
// A zero or negative wait polls without blocking.
func (q *MemQueue) Dequeue(wait time.Duration) (*domain.Reading, bool) {
	if r, ok := q.tryDequeue(); ok {
		return r, true
	}
	if wait <= 0 {
		return nil, false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-q.wake:
			if r, ok := q.tryDequeue(); ok {
				return r, true
			}
		case <-timer.C:
			// the wake signal races with the timer; drain one last time
			return q.tryDequeue()
		}
	}
}

func (q *MemQueue) tryDequeue() (*domain.Reading, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil, false
	}
	r := q.data[0]
	q.data[0] = nil
	q.data = q.data[1:]
	return r, true
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

func (q *MemQueue) HighWater() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.highWater
}

func (q *MemQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

var _ ports.ReadingQueue = (*MemQueue)(nil)
