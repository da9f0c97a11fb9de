package buffer

import "github.com/c360/logstreams/metric"

// Option configures a Ring
type Option[T any] func(*options[T])

type options[T any] struct {
	policy   OverflowPolicy
	onDrop   func(T)
	registry *metric.MetricsRegistry
	name     string
}

// WithOverflowPolicy sets the overflow behavior. Defaults to Block.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(o *options[T]) { o.policy = policy }
}

// WithDropCallback is invoked, outside the lock, for every dropped item
func WithDropCallback[T any](fn func(T)) Option[T] {
	return func(o *options[T]) { o.onDrop = fn }
}

// WithMetrics exports ring counters under name. A nil registry is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(o *options[T]) {
		o.registry = registry
		o.name = name
	}
}
