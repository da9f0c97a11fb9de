package throttle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/metric"
)

// Deps holds runtime dependencies for a Controller
type Deps struct {
	Name            string // owning input, used for logs and metric labels
	Source          Source
	Thresholds      Thresholds
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// Controller tracks the throttle state of one input. The zero gate means
// unthrottled; a non-nil gate is closed until the next unthrottle
// transition or Stop.
type Controller struct {
	name       string
	source     Source
	thresholds Thresholds
	logger     *slog.Logger
	metrics    *controllerMetrics

	gate atomic.Pointer[Gate]

	mu        sync.Mutex
	prevDepth int64
	sub       Subscription
	started   bool
	stopped   bool
}

// NewController creates a controller reading snapshots from deps.Source
func NewController(deps Deps) (*Controller, error) {
	if deps.Source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Controller", "NewController", "state source required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newControllerMetrics(deps.MetricsRegistry, deps.Name)
	if err != nil {
		return nil, errors.WrapFatal(err, "Controller", "NewController", "metrics registration")
	}

	return &Controller{
		name:       deps.Name,
		source:     deps.Source,
		thresholds: deps.Thresholds.withDefaults(),
		logger:     logger.With("component", "throttle", "input", deps.Name),
		metrics:    m,
	}, nil
}

// Start subscribes to load snapshots
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.stopped:
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "Controller", "Start", "start controller")
	case c.started:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Controller", "Start", "start controller")
	}

	sub, err := c.source.Subscribe(ctx, c.Observe)
	if err != nil {
		return errors.Wrap(err, "Controller", "Start", "subscribe to throttle state")
	}
	c.sub = sub
	c.started = true
	return nil
}

// Observe evaluates one snapshot and performs any state transition
func (c *Controller) Observe(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	throttle := c.thresholds.ShouldThrottle(c.prevDepth, s)
	c.prevDepth = s.QueueDepth

	current := c.gate.Load()
	switch {
	case throttle && current == nil:
		c.gate.Store(newGate())
		c.metrics.record(true)
		c.logger.Info("throttling input",
			"queue_depth", s.QueueDepth,
			"capacity", s.ProcessingCapacity,
			"read_rate", s.ReadRate,
			"write_rate", s.WriteRate)
	case !throttle && current != nil:
		c.gate.Store(nil)
		current.Release()
		c.metrics.record(false)
		c.logger.Info("unthrottling input", "queue_depth", s.QueueDepth)
	}
}

// IsThrottled reports whether reads are currently held
func (c *Controller) IsThrottled() bool {
	return c.gate.Load() != nil
}

// BlockUntilUnthrottled waits while the input is throttled. It returns true
// when reads may continue and false when timeout elapsed or ctx ended first.
// timeout <= 0 means no timeout.
func (c *Controller) BlockUntilUnthrottled(ctx context.Context, timeout time.Duration) bool {
	g := c.gate.Load()
	if g == nil {
		return true
	}
	return g.Wait(ctx, timeout)
}

// Stop releases any blocked readers, then unsubscribes. Later snapshots are
// ignored.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return nil
	}
	c.stopped = true

	if g := c.gate.Swap(nil); g != nil {
		g.Release()
		c.metrics.record(false)
	}

	if c.sub == nil {
		return nil
	}
	if err := c.sub.Unsubscribe(); err != nil {
		return errors.Wrap(err, "Controller", "Stop", "unsubscribe from throttle state")
	}
	return nil
}
