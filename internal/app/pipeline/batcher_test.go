package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/queue"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

func TestBatcherFlushOnInterval(t *testing.T) {
	q := queue.NewMemQueue(0)
	sink := &mockSink{}
	b := NewBatcher(q, sink, nil, &mockObs{}, Options{
		BatchSize:     10,
		FlushInterval: 60 * time.Millisecond,
		PollTimeout:   10 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		q.Enqueue(&domain.Reading{})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("expected exactly one interval flush, got %d", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("expected 3 readings in the flush, got %d", len(batches[0]))
	}
}

func TestBatcherFlushOnSize(t *testing.T) {
	q := queue.NewMemQueue(0)
	sink := &mockSink{}
	b := NewBatcher(q, sink, nil, &mockObs{}, Options{
		BatchSize:     3,
		FlushInterval: time.Hour, // size threshold must not wait for time
		PollTimeout:   10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		q.Enqueue(&domain.Reading{})
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.Batches()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	batches := sink.Batches()
	if len(batches) != 1 || len(batches[0]) != 3 {
		t.Fatalf("expected one size-triggered flush of 3, got %+v", lens(batches))
	}
}

func TestBatcherNeverFlushesEmpty(t *testing.T) {
	q := queue.NewMemQueue(0)
	sink := &mockSink{}
	b := NewBatcher(q, sink, nil, &mockObs{}, Options{
		BatchSize:     10,
		FlushInterval: 20 * time.Millisecond,
		PollTimeout:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if n := len(sink.Batches()); n != 0 {
		t.Fatalf("expected no flushes on an idle queue, got %d", n)
	}
}

func TestBatcherDrainsOnShutdown(t *testing.T) {
	q := queue.NewMemQueue(0)
	sink := &mockSink{}
	b := NewBatcher(q, sink, nil, &mockObs{}, Options{
		BatchSize:     4,
		FlushInterval: time.Hour,
		PollTimeout:   5 * time.Millisecond,
	})

	// cancel immediately: everything queued must still reach the sink
	for i := 0; i < 10; i++ {
		q.Enqueue(&domain.Reading{})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.Run(ctx)

	total := 0
	for _, batch := range sink.Batches() {
		if len(batch) == 0 {
			t.Fatalf("drain flushed an empty batch")
		}
		total += len(batch)
	}
	if total != 10 {
		t.Fatalf("expected 10 drained readings, got %d", total)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after drain, %d left", q.Len())
	}
}

func TestBatcherFailedFlushNotRequeued(t *testing.T) {
	q := queue.NewMemQueue(0)
	sink := &mockSink{failures: 1}
	sp := &mockSpool{}
	b := NewBatcher(q, sink, sp, &mockObs{}, Options{
		BatchSize:     2,
		FlushInterval: time.Hour,
		PollTimeout:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	q.Enqueue(&domain.Reading{FromID: "lost-1"})
	q.Enqueue(&domain.Reading{FromID: "lost-2"})
	q.Enqueue(&domain.Reading{FromID: "kept-1"})
	q.Enqueue(&domain.Reading{FromID: "kept-2"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(sink.Batches()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	batches := sink.Batches()
	if len(batches) != 1 {
		t.Fatalf("expected one delivered batch after the failure, got %d", len(batches))
	}
	if batches[0][0].FromID != "kept-1" {
		t.Fatalf("failed batch must not be requeued ahead of later readings, got %q", batches[0][0].FromID)
	}
	if got := sp.Count(); got != 2 {
		t.Fatalf("expected the 2 failed readings in the spool, got %d", got)
	}
}

func lens(batches [][]*domain.Reading) []int {
	out := make([]int, len(batches))
	for i, b := range batches {
		out[i] = len(b)
	}
	return out
}

type mockSink struct {
	mu       sync.Mutex
	batches  [][]*domain.Reading
	failures int
}

func (m *mockSink) Append(_ context.Context, batch []*domain.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures > 0 {
		m.failures--
		return errors.New("sink unavailable")
	}
	copied := make([]*domain.Reading, len(batch))
	copy(copied, batch)
	m.batches = append(m.batches, copied)
	return nil
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Batches() [][]*domain.Reading {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*domain.Reading, len(m.batches))
	copy(out, m.batches)
	return out
}

type mockSpool struct {
	mu    sync.Mutex
	count int
}

func (m *mockSpool) Write(batch []*domain.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count += len(batch)
	return nil
}

func (m *mockSpool) Iterate(func(*domain.Reading) error) error { return nil }

func (m *mockSpool) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

type mockObs struct{}

func (m *mockObs) LogDebug(string, ...ports.Field)        {}
func (m *mockObs) LogInfo(string, ...ports.Field)         {}
func (m *mockObs) LogWarn(string, ...ports.Field)         {}
func (m *mockObs) LogError(string, error, ...ports.Field) {}
func (m *mockObs) IncCounter(string, float64)             {}
func (m *mockObs) SetGauge(string, float64)               {}
func (m *mockObs) ObserveLatency(string, float64)         {}
