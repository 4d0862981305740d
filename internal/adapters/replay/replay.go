// Package replay feeds the pipeline from a capture file instead of a live
// device: one raw packet per line, JSON-encoded, exactly as the device
// callback would deliver it. Serial, BLE and TCP transports live outside
// this repo; replay keeps the pipeline runnable and testable without them.
package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// Collector replays packets from a JSON-lines file, optionally pacing them
// with a fixed delay.
type Collector struct {
	path  string
	delay time.Duration

	mu      sync.Mutex
	stopped chan struct{}
	done    chan struct{}
}

func NewCollector(path string, delay time.Duration) *Collector {
	return &Collector{path: path, delay: delay}
}

func (c *Collector) Start(handler ports.PacketHandler) error {
	f, err := os.Open(c.path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	c.mu.Lock()
	c.stopped = make(chan struct{})
	c.done = make(chan struct{})
	c.mu.Unlock()

	go func() {
		defer close(c.done)
		defer f.Close()

		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		for sc.Scan() {
			select {
			case <-c.stopped:
				return
			default:
			}
			if len(sc.Bytes()) == 0 {
				continue
			}

			var packet map[string]any
			if err := json.Unmarshal(sc.Bytes(), &packet); err != nil {
				continue
			}
			handler(packet)

			if c.delay > 0 {
				select {
				case <-c.stopped:
					return
				case <-time.After(c.delay):
				}
			}
		}
	}()
	return nil
}

func (c *Collector) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped == nil {
		return nil
	}
	select {
	case <-c.stopped:
	default:
		close(c.stopped)
	}
	<-c.done
	return nil
}

var _ ports.Collector = (*Collector)(nil)
