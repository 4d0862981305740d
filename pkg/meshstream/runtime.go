// Package meshstream wires the telemetry relay together: device collector →
// normalizer → ingestion queue → batching worker → Snowpipe Streaming
// client. Every dependency can be overridden through an Option, which is
// also how the tests run the whole pipeline against local stand-ins.
package meshstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/observability"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/queue"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/replay"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/snowauth"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/snowpipe"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/adapters/spool"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/app/pipeline"
	"github.com/tspannhw/SNACKAI-CoCo-Meshtastic/internal/ports"
)

// Option overrides one of the runtime's dependencies.
type Option func(*overrides)

type overrides struct {
	collector ports.Collector
	sink      ports.Sink
	queue     ports.ReadingQueue
	spool     ports.Spool
	tokens    ports.TokenSource
	obs       ports.Observability
}

// WithCollector injects a custom device transport (serial, BLE, TCP bridges,
// simulators).
func WithCollector(c ports.Collector) Option {
	return func(o *overrides) { o.collector = c }
}

// WithSink replaces the Snowpipe client so batches can go anywhere.
func WithSink(s ports.Sink) Option {
	return func(o *overrides) { o.sink = s }
}

// WithQueue injects a custom ingestion queue implementation.
func WithQueue(q ports.ReadingQueue) Option {
	return func(o *overrides) { o.queue = q }
}

// WithSpool injects a custom failed-batch spool.
func WithSpool(s ports.Spool) Option {
	return func(o *overrides) { o.spool = s }
}

// WithTokenSource overrides the credential provider.
func WithTokenSource(t ports.TokenSource) Option {
	return func(o *overrides) { o.tokens = t }
}

// WithObservability plugs in a custom logging/metrics backend.
func WithObservability(obs ports.Observability) Option {
	return func(o *overrides) { o.obs = obs }
}

// Runtime owns the pipeline's lifecycle: one channel session, one batching
// worker, one collector, for the life of the process.
type Runtime struct {
	cfg *Config
	obs ports.Observability

	queue     ports.ReadingQueue
	collector ports.Collector
	sink      ports.Sink
	spool     ports.Spool
	client    *snowpipe.Client // nil when the sink was overridden
	batcher   *pipeline.Batcher

	metricsSrv    *http.Server
	gaugeStop     chan struct{}
	batcherCancel context.CancelFunc
	batcherDone   chan struct{}
}

// NewRuntime bootstraps the default adapters (replay collector, unbounded
// in-memory queue, Snowpipe Streaming sink, Prometheus observability) and
// applies the overrides.
func NewRuntime(cfg *Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	obs := o.obs
	if obs == nil {
		obs = observability.NewPromObs(newLogger(cfg.Log.Level), nil)
	}

	q := o.queue
	if q == nil {
		q = queue.NewMemQueue(cfg.Queue.MaxLen)
	}

	var sp ports.Spool
	switch {
	case o.spool != nil:
		sp = o.spool
	case cfg.Spool.Dir != "":
		fs, err := spool.NewFileSpool(cfg.Spool.Dir)
		if err != nil {
			return nil, err
		}
		sp = fs
	}

	var (
		snk    ports.Sink
		client *snowpipe.Client
	)
	if o.sink != nil {
		snk = o.sink
	} else {
		tokens := o.tokens
		if tokens == nil {
			var err error
			tokens, err = newTokenSource(cfg)
			if err != nil {
				return nil, err
			}
		}
		var err error
		client, err = snowpipe.NewClient(snowpipe.Config{
			Account:        cfg.Snowflake.Account,
			Database:       cfg.Snowflake.Database,
			Schema:         cfg.Snowflake.Schema,
			Pipe:           cfg.Snowflake.Pipe,
			ChannelName:    cfg.Snowflake.ChannelName,
			ControlHost:    cfg.Snowflake.ControlHost,
			RequestTimeout: cfg.Snowflake.RequestTimeout.Std(),
		}, tokens, obs, nil)
		if err != nil {
			return nil, err
		}
		snk = client
	}

	col := o.collector
	if col == nil {
		if cfg.Device.ReplayFile == "" {
			return nil, fmt.Errorf("no collector configured: set device.replay_file or inject one with WithCollector")
		}
		col = replay.NewCollector(cfg.Device.ReplayFile, cfg.Device.ReplayDelay.Std())
	}

	return &Runtime{
		cfg:       cfg,
		obs:       obs,
		queue:     q,
		collector: col,
		sink:      snk,
		spool:     sp,
		client:    client,
		batcher: pipeline.NewBatcher(q, snk, sp, obs, pipeline.Options{
			BatchSize:     cfg.Batch.Size,
			FlushInterval: cfg.Batch.FlushInterval.Std(),
			PollTimeout:   cfg.Batch.PollTimeout.Std(),
		}),
	}, nil
}

// Start opens the channel session, launches the batching worker, connects
// the collector and serves metrics. Failures before data flows are fatal to
// startup.
func (r *Runtime) Start(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Open(ctx); err != nil {
			return fmt.Errorf("open ingest session: %w", err)
		}
		r.obs.LogInfo("ingest session open",
			ports.Field{Key: "database", Value: r.cfg.Snowflake.Database},
			ports.Field{Key: "schema", Value: r.cfg.Snowflake.Schema},
			ports.Field{Key: "pipe", Value: r.cfg.Snowflake.Pipe},
			ports.Field{Key: "channel", Value: r.client.ChannelName()})
	}

	batcherCtx, cancel := context.WithCancel(context.Background())
	r.batcherCancel = cancel
	r.batcherDone = make(chan struct{})
	go func() {
		defer close(r.batcherDone)
		r.batcher.Run(batcherCtx)
	}()

	if err := r.collector.Start(pipeline.NewPacketHandler(r.queue, r.obs)); err != nil {
		cancel()
		<-r.batcherDone
		return fmt.Errorf("start collector: %w", err)
	}

	r.startMetrics()
	r.obs.LogInfo("relay started",
		ports.Field{Key: "batch_size", Value: r.cfg.Batch.Size},
		ports.Field{Key: "flush_interval", Value: r.cfg.Batch.FlushInterval.String()})
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// gracefully: the collector stops, the worker drains the queue and flushes
// a final batch, and the session is closed best-effort.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// Shutdown stops intake, drains the worker, and tears everything down. It
// always attempts the final flush and the session close regardless of prior
// errors.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error

	if err := r.collector.Stop(); err != nil {
		errs = append(errs, err)
	}

	if r.batcherCancel != nil {
		r.batcherCancel()
		select {
		case <-r.batcherDone:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("batcher drain interrupted: %w", ctx.Err()))
		}
	}

	if r.gaugeStop != nil {
		close(r.gaugeStop)
	}
	if r.metricsSrv != nil {
		if err := r.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
	}

	if r.client != nil {
		_ = r.client.Close()
		r.logSessionStats()
	}

	return errors.Join(errs...)
}

func (r *Runtime) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.metricsSrv = &http.Server{Addr: r.cfg.Metrics.Addr, Handler: mux}
	go func() {
		if err := r.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("metrics server exited", err)
		}
	}()

	r.gaugeStop = make(chan struct{})
	go r.recordQueueGauges(r.gaugeStop, time.Second)
}

func (r *Runtime) recordQueueGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastDropped uint64
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			r.obs.SetGauge(observability.MetricQueueLen, float64(r.queue.Len()))
			r.obs.SetGauge(observability.MetricQueueHigh, float64(r.queue.HighWater()))
			if d := r.queue.Dropped(); d > lastDropped {
				r.obs.IncCounter(observability.MetricDropped, float64(d-lastDropped))
				lastDropped = d
			}
		}
	}
}

func (r *Runtime) logSessionStats() {
	st := r.client.Stats()
	r.obs.LogInfo("session statistics",
		ports.Field{Key: "rows_sent", Value: st.RowsSent},
		ports.Field{Key: "batches_sent", Value: st.BatchesSent},
		ports.Field{Key: "bytes_sent", Value: st.BytesSent},
		ports.Field{Key: "errors", Value: st.Errors},
		ports.Field{Key: "queue_high_water", Value: r.queue.HighWater()},
		ports.Field{Key: "queue_dropped", Value: r.queue.Dropped()},
		ports.Field{Key: "duration", Value: time.Since(st.StartedAt).Round(time.Second).String()})
}

func newTokenSource(cfg *Config) (ports.TokenSource, error) {
	if cfg.Snowflake.PAT != "" {
		return snowauth.NewStaticTokenSource(cfg.Snowflake.PAT)
	}
	return snowauth.NewKeyPairSource(snowauth.KeyPairConfig{
		Account:        cfg.Snowflake.Account,
		User:           cfg.Snowflake.User,
		Role:           cfg.Snowflake.Role,
		PrivateKeyFile: cfg.Snowflake.PrivateKeyFile,
	}, nil)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
