// Package observability backs the Observability port with slog and
// Prometheus.
package observability

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// Metric names used across the pipeline.
const (
	MetricReceived     = "meshpipe_readings_received_total"
	MetricSent         = "meshpipe_readings_sent_total"
	MetricBatches      = "meshpipe_batches_sent_total"
	MetricAppendErrors = "meshpipe_append_errors_total"
	MetricDropped      = "meshpipe_readings_dropped_total"
	MetricBytesSent    = "meshpipe_bytes_sent_total"
	MetricQueueLen     = "meshpipe_queue_length"
	MetricQueueHigh    = "meshpipe_queue_high_water"
	MetricAppendSecs   = "meshpipe_append_latency_seconds"
)

type PromObs struct {
	log      *slog.Logger
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	histos   map[string]prometheus.Observer
}

// NewPromObs registers the pipeline's metrics with the given registerer
// (prometheus.DefaultRegisterer when nil) and logs through logger.
func NewPromObs(logger *slog.Logger, reg prometheus.Registerer) *PromObs {
	if logger == nil {
		logger = slog.Default()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	received := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricReceived,
		Help: "Readings accepted from the device callback.",
	})
	sent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricSent,
		Help: "Readings successfully appended to the ingest channel.",
	})
	batches := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricBatches,
		Help: "Batches successfully appended.",
	})
	appendErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricAppendErrors,
		Help: "Batches lost to append failures.",
	})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricDropped,
		Help: "Readings discarded by the queue drop-oldest policy.",
	})
	bytesSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: MetricBytesSent,
		Help: "NDJSON bytes shipped to the ingest endpoint.",
	})
	queueLen := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricQueueLen,
		Help: "Readings currently buffered in the ingestion queue.",
	})
	queueHigh := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: MetricQueueHigh,
		Help: "Maximum queue length observed since start.",
	})
	latency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    MetricAppendSecs,
		Help:    "Latency of one append call to the ingest endpoint.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	reg.MustRegister(received, sent, batches, appendErrors, dropped, bytesSent, queueLen, queueHigh, latency)

	return &PromObs{
		log: logger,
		counters: map[string]prometheus.Counter{
			MetricReceived:     received,
			MetricSent:         sent,
			MetricBatches:      batches,
			MetricAppendErrors: appendErrors,
			MetricDropped:      dropped,
			MetricBytesSent:    bytesSent,
		},
		gauges: map[string]prometheus.Gauge{
			MetricQueueLen:  queueLen,
			MetricQueueHigh: queueHigh,
		},
		histos: map[string]prometheus.Observer{
			MetricAppendSecs: latency,
		},
	}
}

func (p *PromObs) LogDebug(msg string, fields ...ports.Field) {
	p.log.Debug(msg, attrs(fields)...)
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogWarn(msg string, fields ...ports.Field) {
	p.log.Warn(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	args := attrs(fields)
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	p.log.Error(msg, args...)
}

func (p *PromObs) IncCounter(name string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.Add(v)
	}
}

func (p *PromObs) SetGauge(name string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.Set(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

var _ ports.Observability = (*PromObs)(nil)
