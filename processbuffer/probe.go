package processbuffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/throttle"
)

// LoadSource reports buffer load. Buffer implements it.
type LoadSource interface {
	Load() Load
}

var _ LoadSource = (*Buffer)(nil)

// ProbeDeps holds runtime dependencies for Probe
type ProbeDeps struct {
	Source    LoadSource
	Publisher throttle.Publisher
	Clock     clock.Clock
	Logger    *slog.Logger
}

// Probe samples a LoadSource on a fixed period and publishes the result as
// a throttle.State.
type Probe struct {
	interval time.Duration
	source   LoadSource
	pub      throttle.Publisher
	clock    clock.Clock
	logger   *slog.Logger
	warn     rate.Sometimes

	mu       sync.Mutex
	last     Load
	lastTime time.Time
}

// NewProbe creates a probe publishing every interval
func NewProbe(interval time.Duration, deps ProbeDeps) (*Probe, error) {
	if interval <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Probe", "NewProbe", "interval must be positive")
	}
	if deps.Source == nil || deps.Publisher == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Probe", "NewProbe", "source and publisher required")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Probe{
		interval: interval,
		source:   deps.Source,
		pub:      deps.Publisher,
		clock:    clk,
		logger:   logger.With("component", "load-probe"),
		warn:     rate.Sometimes{Interval: 30 * time.Second},
	}
	p.last = deps.Source.Load()
	p.lastTime = clk.Now()
	return p, nil
}

// Sample reads the source and derives a snapshot. Rates are events per
// second since the previous sample.
func (p *Probe) Sample() throttle.State {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	cur := p.source.Load()

	var readRate, writeRate float64
	if elapsed := now.Sub(p.lastTime).Seconds(); elapsed > 0 {
		readRate = float64(cur.Reads-p.last.Reads) / elapsed
		writeRate = float64(cur.Writes-p.last.Writes) / elapsed
	}
	p.last, p.lastTime = cur, now

	return throttle.State{
		QueueDepth:         int64(cur.Queued) + cur.InFlight,
		ProcessingCapacity: int64(cur.Capacity - cur.Queued),
		ReadRate:           readRate,
		WriteRate:          writeRate,
		QueueSize:          int64(cur.Queued),
		QueueSizeLimit:     int64(cur.Capacity),
		Timestamp:          now.UTC(),
	}
}

// Run publishes a sample every interval until ctx ends
func (p *Probe) Run(ctx context.Context) error {
	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := p.Sample()
			if err := p.pub.Publish(ctx, s); err != nil {
				p.warn.Do(func() { p.logger.Warn("publishing load snapshot failed", "error", err) })
			}
		}
	}
}
