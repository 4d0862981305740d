// Package spool persists batches that failed to reach the sink. It is an
// operator recovery aid, deliberately not a retry queue: the non-retry
// policy for failed batches stays intact, the rows just stop being
// invisible.
package spool

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

const spoolFile = "failed_batches.ndjson"

// FileSpool appends failed batches to a single NDJSON file, one reading per
// line, the same wire shape the ingest endpoint accepts. That keeps manual
// replay trivial.
type FileSpool struct {
	mu   sync.Mutex
	path string
}

func NewFileSpool(dir string) (*FileSpool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}
	return &FileSpool{path: filepath.Join(dir, spoolFile)}, nil
}

func (s *FileSpool) Path() string { return s.path }

func (s *FileSpool) Write(batch []*domain.Reading) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, r := range batch {
		line, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// Iterate replays every spooled reading in write order. A missing spool file
// means nothing was ever spooled and is not an error.
func (s *FileSpool) Iterate(fn func(r *domain.Reading) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var r domain.Reading
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return fmt.Errorf("corrupt spool entry: %w", err)
		}
		if err := fn(&r); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
	return sc.Err()
}

var _ ports.Spool = (*FileSpool)(nil)
