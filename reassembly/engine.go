package reassembly

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/metric"
)

// Status is the outcome of AddChunk
type Status int

const (
	Pending Status = iota
	Complete
	Invalid
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Complete:
		return "complete"
	default:
		return "invalid"
	}
}

// Result is returned for every frame. Payload is set only when Complete.
type Result struct {
	Status  Status
	Payload []byte
}

// Config controls reassembly limits
type Config struct {
	ValidityWindow time.Duration `json:"validity_window" yaml:"validity_window"`
	CheckInterval  time.Duration `json:"check_interval" yaml:"check_interval"`
	MaxChunks      int           `json:"max_chunks" yaml:"max_chunks"`
}

// DefaultConfig returns a 5s window checked every second, up to 128 chunks
func DefaultConfig() Config {
	return Config{
		ValidityWindow: 5 * time.Second,
		CheckInterval:  time.Second,
		MaxChunks:      128,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.ValidityWindow <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "reassembly", "Validate", "validity_window must be positive")
	case c.CheckInterval <= 0:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "reassembly", "Validate", "check_interval must be positive")
	case c.CheckInterval >= c.ValidityWindow:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "reassembly", "Validate",
			fmt.Sprintf("check_interval %v must be shorter than validity_window %v", c.CheckInterval, c.ValidityWindow))
	case c.MaxChunks <= 0 || c.MaxChunks > 255:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "reassembly", "Validate", "max_chunks must be within 1..255")
	}
	return nil
}

// Deps holds runtime dependencies for the engine
type Deps struct {
	Name            string // input name, used for metric labels
	Logger          *slog.Logger
	Clock           clock.Clock
	MetricsRegistry *metric.MetricsRegistry
}

// tombstoneCapacity bounds how many dropped ids are remembered
const tombstoneCapacity = 1 << 16

// Engine reassembles chunked messages. AddChunk is safe for concurrent use.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	clock   clock.Clock
	metrics *Metrics

	entries sync.Map // MessageID -> *entry
	index   evictionIndex
	nextSeq atomic.Uint64
	waiting atomic.Int64

	// ids dropped as expired, kept for one validity window so stragglers
	// cannot start the message again
	tombstones *expirable.LRU[MessageID, time.Time]

	sweep func() int // one eviction pass, EvictExpired outside tests

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewEngine creates an engine. The evictor runs only after Start.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	m, err := newMetrics(deps.MetricsRegistry, deps.Name)
	if err != nil {
		return nil, errors.WrapFatal(err, "Engine", "NewEngine", "metrics registration")
	}

	e := &Engine{
		cfg:        cfg,
		logger:     logger.With("component", "reassembly", "input", deps.Name),
		clock:      clk,
		metrics:    m,
		tombstones: expirable.NewLRU[MessageID, time.Time](tombstoneCapacity, nil, cfg.ValidityWindow),
	}
	e.sweep = e.EvictExpired
	return e, nil
}

// AddChunk classifies frame and returns its reassembly outcome. Malformed
// input yields Invalid; nothing escapes as an error or panic.
func (e *Engine) AddChunk(frame []byte) Result {
	switch Classify(frame) {
	case TypeZlib, TypeGzip, TypeUncompressed:
		return Result{Status: Complete, Payload: frame}
	case TypeChunked:
		return e.addChunked(frame)
	default:
		e.invalid()
		return Result{Status: Invalid}
	}
}

func (e *Engine) invalid() {
	if e.metrics != nil {
		e.metrics.invalid.Inc()
	}
}

func (e *Engine) addChunked(frame []byte) Result {
	h, payload, ok := parseChunk(frame)
	if !ok || h.count == 0 || h.count > e.cfg.MaxChunks || h.seq >= h.count {
		e.invalid()
		return Result{Status: Invalid}
	}
	if e.metrics != nil {
		e.metrics.chunks.Inc()
	}

	now := e.clock.Now()
	ent := e.getOrCreate(h, now)
	if ent == nil {
		// the message was already dropped
		if e.metrics != nil {
			e.metrics.late.Inc()
		}
		return Result{Status: Invalid}
	}

	if h.seq >= ent.expected() {
		// count disagrees with the first chunk and seq does not fit
		e.invalid()
		return Result{Status: Invalid}
	}

	filled, stored := ent.put(h.seq, bytes.Clone(payload))
	if !stored && e.metrics != nil {
		e.metrics.duplicates.Inc()
	}

	if stored && filled == ent.expected() {
		if !e.remove(ent) {
			// evicted between the last write and now
			return Result{Status: Invalid}
		}
		if e.metrics != nil {
			e.metrics.completed.Inc()
		}
		return Result{Status: Complete, Payload: ent.assemble()}
	}

	if now.Sub(ent.firstSeen) > e.cfg.ValidityWindow {
		e.bury(ent.id, now)
		if e.remove(ent) {
			e.expired(ent)
		}
		return Result{Status: Invalid}
	}
	return Result{Status: Pending}
}

// getOrCreate returns the live entry for h.id, creating and indexing it if
// absent. The first chunk's count sizes the entry. It returns nil for an id
// dropped within the last validity window.
func (e *Engine) getOrCreate(h chunkHeader, now time.Time) *entry {
	if v, ok := e.entries.Load(h.id); ok {
		return v.(*entry)
	}
	if e.buried(h.id, now) {
		return nil
	}
	fresh := newEntry(h.id, h.count, now, e.nextSeq.Add(1))
	v, loaded := e.entries.LoadOrStore(h.id, fresh)
	ent := v.(*entry)
	if loaded {
		return ent
	}
	// an evictor may have buried the id between the check and the store
	if e.buried(h.id, now) {
		e.entries.CompareAndDelete(h.id, fresh)
		return nil
	}
	e.index.add(ent)
	e.addWaiting(1)
	return ent
}

// bury records id as dropped. It must happen before the entry leaves the
// registry.
func (e *Engine) bury(id MessageID, now time.Time) {
	e.tombstones.Add(id, now)
}

func (e *Engine) buried(id MessageID, now time.Time) bool {
	at, ok := e.tombstones.Get(id)
	return ok && now.Sub(at) <= e.cfg.ValidityWindow
}

// remove takes ent out of the registry and index. Exactly one caller per
// entry gets true.
func (e *Engine) remove(ent *entry) bool {
	if !e.entries.CompareAndDelete(ent.id, ent) {
		return false
	}
	e.index.remove(ent)
	e.addWaiting(-1)
	return true
}

func (e *Engine) addWaiting(delta int64) {
	e.waiting.Add(delta)
	if e.metrics != nil {
		e.metrics.waiting.Add(float64(delta))
	}
}

func (e *Engine) expired(ent *entry) {
	chunks := int(ent.filled.Load())
	e.logger.Debug("dropping incomplete message",
		"id", ent.id.String(), "chunks", chunks, "expected", ent.expected())
	if e.metrics != nil {
		e.metrics.expiredMessages.Inc()
		e.metrics.expiredChunks.Add(float64(chunks))
	}
}

// Len returns the number of partial messages currently held
func (e *Engine) Len() int { return int(e.waiting.Load()) }

// EvictExpired drops every entry first seen more than the validity window
// ago and returns how many were dropped.
func (e *Engine) EvictExpired() int {
	now := e.clock.Now()
	cutoff := now.Add(-e.cfg.ValidityWindow)
	n := 0
	for {
		ent := e.index.popExpired(cutoff)
		if ent == nil {
			return n
		}
		e.bury(ent.id, now)
		if !e.entries.CompareAndDelete(ent.id, ent) {
			// completed concurrently
			continue
		}
		e.addWaiting(-1)
		e.expired(ent)
		n++
	}
}

func (e *Engine) scan() {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("eviction scan panicked", "panic", r)
		}
	}()
	if n := e.sweep(); n > 0 {
		e.logger.Debug("evicted expired messages", "count", n, "waiting", e.Len())
	}
}

// Start launches the background evictor
func (e *Engine) Start(ctx context.Context) error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.cancel != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Engine", "Start", "start evictor")
	}

	ctx, cancel := context.WithCancel(ctx)
	ticker := e.clock.Ticker(e.cfg.CheckInterval)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.scan()
			}
		}
	}()
	return nil
}

// Stop halts the evictor and waits for it to exit. Held entries are kept.
func (e *Engine) Stop() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()

	if e.cancel == nil {
		return nil
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
	return nil
}
