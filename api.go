package meshstream

import (
	base "github.com/tspannhw/SNACKAI-CoCo-Meshtastic/pkg/meshstream"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/domain"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// Type aliases so consumers can import the module root directly.
type (
	Config        = base.Config
	Runtime       = base.Runtime
	Option        = base.Option
	BatchFunc     = base.BatchFunc
	Reading       = domain.Reading
	PacketKind    = domain.PacketKind
	Collector     = ports.Collector
	PacketHandler = ports.PacketHandler
	ReadingQueue  = ports.ReadingQueue
	Sink          = ports.Sink
	Spool         = ports.Spool
	TokenSource   = ports.TokenSource
	Token         = ports.Token
	Observability = ports.Observability
	Field         = ports.Field
)

// Packet kinds.
const (
	KindPosition  = domain.KindPosition
	KindText      = domain.KindText
	KindTelemetry = domain.KindTelemetry
	KindNodeInfo  = domain.KindNodeInfo
	KindRaw       = domain.KindRaw
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithCollector(c Collector) Option {
	return base.WithCollector(c)
}

func WithSink(s Sink) Option {
	return base.WithSink(s)
}

func WithQueue(q ReadingQueue) Option {
	return base.WithQueue(q)
}

func WithSpool(s Spool) Option {
	return base.WithSpool(s)
}

func WithTokenSource(t TokenSource) Option {
	return base.WithTokenSource(t)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

// Sink adapters.
func NewCallbackSink(name string, fn BatchFunc) Sink {
	return base.NewCallbackSink(name, fn)
}
