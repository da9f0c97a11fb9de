// Package processbuffer is the bounded queue between the inputs and message
// processing. Inputs write decoded messages into it; consumer goroutines
// drain batches into an Output; a Probe samples its load and publishes
// throttle.State snapshots so inputs can back off.
package processbuffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/pkg/buffer"
)

// Config controls the buffer and its consumers
type Config struct {
	Capacity      int           `json:"capacity" yaml:"capacity"`
	Workers       int           `json:"workers" yaml:"workers"`
	BatchSize     int           `json:"batch_size" yaml:"batch_size"`
	ProbeInterval time.Duration `json:"probe_interval" yaml:"probe_interval"`
	Output        string        `json:"output" yaml:"output"` // "nats" or "log"
	Subject       string        `json:"subject" yaml:"subject"`
}

// DefaultConfig returns the stock settings
func DefaultConfig() Config {
	return Config{
		Capacity:      65536,
		Workers:       2,
		BatchSize:     100,
		ProbeInterval: time.Second,
		Output:        "log",
		Subject:       "logstreams.messages",
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "processbuffer", "Validate", "capacity must be positive")
	case c.Workers <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "processbuffer", "Validate", "workers must be positive")
	case c.BatchSize <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "processbuffer", "Validate", "batch_size must be positive")
	case c.ProbeInterval <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "processbuffer", "Validate", "probe_interval must be positive")
	case c.Output != "nats" && c.Output != "log":
		return errors.WrapInvalid(errors.ErrInvalidConfig, "processbuffer", "Validate", "output must be nats or log")
	case c.Output == "nats" && c.Subject == "":
		return errors.WrapInvalid(errors.ErrMissingConfig, "processbuffer", "Validate", "subject required for nats output")
	}
	return nil
}

// Deps holds runtime dependencies for Buffer
type Deps struct {
	Output          Output
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Load is a point-in-time view of the buffer
type Load struct {
	Queued   int   // waiting in the ring
	InFlight int64 // taken by a consumer, not yet delivered
	Capacity int
	Writes   int64 // cumulative
	Reads    int64 // cumulative
}

// Buffer queues messages for the consumers. Write blocks while full.
type Buffer struct {
	cfg     Config
	ring    *buffer.Ring[*message.Message]
	out     Output
	logger  *slog.Logger
	metrics *bufferMetrics

	inFlight atomic.Int64

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewBuffer creates a buffer. Consumers run only after Start.
func NewBuffer(cfg Config, deps Deps) (*Buffer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Output == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Buffer", "NewBuffer", "output required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := []buffer.Option[*message.Message]{buffer.WithOverflowPolicy[*message.Message](buffer.Block)}
	if deps.MetricsRegistry != nil {
		opts = append(opts, buffer.WithMetrics[*message.Message](deps.MetricsRegistry, "processbuffer"))
	}
	ring, err := buffer.NewRing(cfg.Capacity, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "Buffer", "NewBuffer", "create ring")
	}

	m, err := newBufferMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "Buffer", "NewBuffer", "metrics registration")
	}

	return &Buffer{
		cfg:     cfg,
		ring:    ring,
		out:     deps.Output,
		logger:  logger.With("component", "processbuffer"),
		metrics: m,
	}, nil
}

// Write queues msg, blocking while the buffer is full until ctx ends
func (b *Buffer) Write(ctx context.Context, msg *message.Message) error {
	return b.ring.Write(ctx, msg)
}

// Load returns the current load figures
func (b *Buffer) Load() Load {
	s := b.ring.Stats()
	return Load{
		Queued:   s.Size,
		InFlight: b.inFlight.Load(),
		Capacity: s.Capacity,
		Writes:   s.Writes,
		Reads:    s.Reads,
	}
}

// Start launches the consumers
func (b *Buffer) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Buffer", "Start", "start consumers")
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	for i := 0; i < b.cfg.Workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.consume(ctx)
		}()
	}
	b.logger.Info("processing buffer started", "capacity", b.cfg.Capacity, "workers", b.cfg.Workers)
	return nil
}

func (b *Buffer) consume(ctx context.Context) {
	for {
		batch, err := b.ring.WaitBatch(ctx, b.cfg.BatchSize)
		if err != nil {
			return
		}

		b.setInFlight(b.inFlight.Add(int64(len(batch))))
		start := time.Now()
		if err := b.out.Deliver(ctx, batch); err != nil {
			b.metrics.failed(len(batch))
			b.logger.Warn("batch delivery failed", "size", len(batch), "error", err)
		} else {
			b.metrics.delivered(len(batch), time.Since(start))
		}
		b.setInFlight(b.inFlight.Add(-int64(len(batch))))
	}
}

func (b *Buffer) setInFlight(n int64) {
	if b.metrics != nil {
		b.metrics.inFlight.Set(float64(n))
	}
}

// Stop refuses new writes, lets consumers drain what is queued and waits up
// to timeout before cancelling them.
func (b *Buffer) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_ = b.ring.Close()
	if !b.started || b.cancel == nil {
		return nil
	}
	defer b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		b.cancel()
		return errors.WrapTransient(fmt.Errorf("consumers still running after %v", timeout),
			"Buffer", "Stop", "drain queue")
	}
}

type bufferMetrics struct {
	deliveredTotal prometheus.Counter
	failedTotal    prometheus.Counter
	inFlight       prometheus.Gauge
	deliverSeconds prometheus.Histogram
}

func newBufferMetrics(registry *metric.MetricsRegistry) (*bufferMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &bufferMetrics{
		deliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "processbuffer", Name: "delivered_total",
			Help: "Messages delivered to the output",
		}),
		failedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "processbuffer", Name: "delivery_failures_total",
			Help: "Messages in batches the output rejected",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "processbuffer", Name: "in_flight",
			Help: "Messages taken by consumers and not yet delivered",
		}),
		deliverSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace, Subsystem: "processbuffer", Name: "deliver_duration_seconds",
			Help:    "Time to deliver one batch",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}),
	}
	if err := registry.RegisterCounter("processbuffer", "delivered_total", m.deliveredTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("processbuffer", "delivery_failures_total", m.failedTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("processbuffer", "in_flight", m.inFlight); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("processbuffer", "deliver_duration_seconds", m.deliverSeconds); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *bufferMetrics) delivered(n int, d time.Duration) {
	if m != nil {
		m.deliveredTotal.Add(float64(n))
		m.deliverSeconds.Observe(d.Seconds())
	}
}

func (m *bufferMetrics) failed(n int) {
	if m != nil {
		m.failedTotal.Add(float64(n))
	}
}
