package buffer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/metric"
)

// Ring is a thread-safe bounded FIFO
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	head     int // next read position
	size     int
	closed   bool
	changed  chan struct{} // closed and replaced on every mutation
	policy   OverflowPolicy
	onDrop   func(T)
	capacity int

	writes atomic.Int64
	reads  atomic.Int64
	drops  atomic.Int64

	metrics *ringMetrics
}

type ringMetrics struct {
	size  prometheus.Gauge
	drops prometheus.Counter
}

// Stats is a point-in-time view of ring counters
type Stats struct {
	Size     int   `json:"size"`
	Capacity int   `json:"capacity"`
	Writes   int64 `json:"writes"`
	Reads    int64 `json:"reads"`
	Drops    int64 `json:"drops"`
}

// NewRing creates a ring holding up to capacity items (minimum 1)
func NewRing[T any](capacity int, opts ...Option[T]) (*Ring[T], error) {
	if capacity <= 0 {
		capacity = 1
	}
	o := &options[T]{policy: Block}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		changed:  make(chan struct{}),
		policy:   o.policy,
		onDrop:   o.onDrop,
	}

	if o.registry != nil && o.name != "" {
		m, err := newRingMetrics(o.registry, o.name)
		if err != nil {
			return nil, errors.WrapTransient(err, "buffer", "NewRing", "metrics registration")
		}
		r.metrics = m
	}
	return r, nil
}

func newRingMetrics(registry *metric.MetricsRegistry, name string) (*ringMetrics, error) {
	labels := prometheus.Labels{"buffer": name}
	m := &ringMetrics{
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "size",
			Help: "Items currently held", ConstLabels: labels,
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "buffer", Name: "drops_total",
			Help: "Items dropped by the overflow policy", ConstLabels: labels,
		}),
	}
	service := "buffer_" + name
	if err := registry.RegisterGauge(service, "size", m.size); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(service, "drops_total", m.drops); err != nil {
		return nil, err
	}
	return m, nil
}

// notify wakes every waiter. Caller holds mu.
func (r *Ring[T]) notify() {
	close(r.changed)
	r.changed = make(chan struct{})
	if r.metrics != nil {
		r.metrics.size.Set(float64(r.size))
	}
}

func (r *Ring[T]) drop(item T) {
	r.drops.Add(1)
	if r.metrics != nil {
		r.metrics.drops.Inc()
	}
	if r.onDrop != nil {
		r.onDrop(item)
	}
}

// Write adds item according to the overflow policy. With Block it waits
// for space until ctx is done or the ring is closed.
func (r *Ring[T]) Write(ctx context.Context, item T) error {
	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return errors.WrapInvalid(errors.ErrBufferClosed, "Ring", "Write", "write item")
		}
		if r.size < r.capacity {
			break
		}

		switch r.policy {
		case DropNewest:
			r.mu.Unlock()
			r.drop(item)
			return nil
		case DropOldest:
			var zero T
			oldest := r.items[r.head]
			r.items[r.head] = zero
			r.head = (r.head + 1) % r.capacity
			r.size--
			r.push(item)
			r.mu.Unlock()
			r.drop(oldest)
			return nil
		}

		wait := r.changed
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	r.push(item)
	r.mu.Unlock()
	return nil
}

// push appends item. Caller holds mu and has ensured space.
func (r *Ring[T]) push(item T) {
	r.items[(r.head+r.size)%r.capacity] = item
	r.size++
	r.writes.Add(1)
	r.notify()
}

// ReadBatch removes up to max items without blocking
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.take(max)
}

// take removes up to max items. Caller holds mu.
func (r *Ring[T]) take(max int) []T {
	if max <= 0 || r.size == 0 {
		return nil
	}
	n := min(max, r.size)
	out := make([]T, n)
	var zero T
	for i := range n {
		out[i] = r.items[r.head]
		r.items[r.head] = zero
		r.head = (r.head + 1) % r.capacity
	}
	r.size -= n
	r.reads.Add(int64(n))
	r.notify()
	return out
}

// WaitBatch blocks until at least one item is available and removes up to
// max items. Once closed, remaining items are still returned; an empty
// closed ring returns ErrBufferClosed.
func (r *Ring[T]) WaitBatch(ctx context.Context, max int) ([]T, error) {
	r.mu.Lock()
	for r.size == 0 {
		if r.closed {
			r.mu.Unlock()
			return nil, errors.ErrBufferClosed
		}
		wait := r.changed
		r.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
	}
	out := r.take(max)
	r.mu.Unlock()
	return out, nil
}

// Len returns the current number of items
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap returns the fixed capacity
func (r *Ring[T]) Cap() int { return r.capacity }

// Close wakes all waiters. Writes fail afterwards; reads drain what remains.
func (r *Ring[T]) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		r.notify()
	}
	return nil
}

// Stats returns the current counters
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Size:     r.Len(),
		Capacity: r.capacity,
		Writes:   r.writes.Load(),
		Reads:    r.reads.Load(),
		Drops:    r.drops.Load(),
	}
}
