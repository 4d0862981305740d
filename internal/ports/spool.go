package ports

import "github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"

// Spool persists batches that failed to reach the sink so an operator can
// recover them later. It is an audit trail, not a retry queue: the pipeline
// never reads the spool back on its own.
type Spool interface {
	Write(batch []*domain.Reading) error
	Iterate(fn func(r *domain.Reading) error) error
}
