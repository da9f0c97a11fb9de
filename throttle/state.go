// Package throttle decides when an input must stop reading because the
// processing side of the node is overloaded.
//
// Load snapshots (State) arrive from a Source. For each snapshot the
// Controller evaluates Thresholds.ShouldThrottle against the previous queue
// depth and opens or closes a Gate. Read loops call BlockUntilUnthrottled
// before every read and park while the gate is closed.
package throttle

import "time"

// State is an immutable snapshot of processing load
type State struct {
	// QueueDepth is the number of uncommitted entries waiting downstream
	QueueDepth int64 `json:"queue_depth"`
	// ProcessingCapacity is the number of free downstream slots
	ProcessingCapacity int64 `json:"processing_capacity"`
	// ReadRate and WriteRate are events per second out of and into the queue
	ReadRate  float64 `json:"read_rate"`
	WriteRate float64 `json:"write_rate"`

	QueueSize      int64     `json:"queue_size"`
	QueueSizeLimit int64     `json:"queue_size_limit"`
	Timestamp      time.Time `json:"timestamp"`
}

// Thresholds are the limits used by ShouldThrottle
type Thresholds struct {
	MaxQueueDepth  int64   `json:"max_queue_depth" yaml:"max_queue_depth"`
	MaxDepthGrowth int64   `json:"max_depth_growth" yaml:"max_depth_growth"`
	MaxFillRatio   float64 `json:"max_fill_ratio" yaml:"max_fill_ratio"`
	MinReadRatio   float64 `json:"min_read_ratio" yaml:"min_read_ratio"`
}

// DefaultThresholds returns the stock limits
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxQueueDepth:  100_000,
		MaxDepthGrowth: 20_000,
		MaxFillRatio:   0.90,
		MinReadRatio:   0.50,
	}
}

// withDefaults fills zero fields from DefaultThresholds
func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.MaxQueueDepth <= 0 {
		t.MaxQueueDepth = d.MaxQueueDepth
	}
	if t.MaxDepthGrowth <= 0 {
		t.MaxDepthGrowth = d.MaxDepthGrowth
	}
	if t.MaxFillRatio <= 0 {
		t.MaxFillRatio = d.MaxFillRatio
	}
	if t.MinReadRatio <= 0 {
		t.MinReadRatio = d.MinReadRatio
	}
	return t
}

// ShouldThrottle applies the decision rules in order. The first rule that
// matches decides; zero-valued fields lean towards not throttling.
func (t Thresholds) ShouldThrottle(prevQueueDepth int64, s State) bool {
	switch {
	case s.QueueDepth == 0:
		return false
	case s.QueueDepth > t.MaxQueueDepth:
		return true
	case s.QueueDepth-prevQueueDepth > t.MaxDepthGrowth:
		return true
	case s.ProcessingCapacity == 0:
		return true
	case s.ReadRate == 0 && s.WriteRate == 0:
		return false
	}

	if s.QueueSizeLimit > 0 && float64(s.QueueSize)/float64(s.QueueSizeLimit) > t.MaxFillRatio {
		return true
	}
	if s.WriteRate > 0 && s.ReadRate/s.WriteRate < t.MinReadRatio {
		return true
	}
	return false
}

// ShouldThrottle evaluates s with DefaultThresholds
func ShouldThrottle(prevQueueDepth int64, s State) bool {
	return DefaultThresholds().ShouldThrottle(prevQueueDepth, s)
}
