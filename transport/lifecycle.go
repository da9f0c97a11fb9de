package transport

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/health"
	"github.com/c360/logstreams/metric"
)

// State is the lifecycle position of a transport
type State int32

const (
	StateStopped State = iota
	StateLaunching
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// lifecycle enforces the single-use state machine shared by UDP and TCP
type lifecycle struct {
	name     string
	mu       sync.Mutex // serializes Launch and Stop
	state    atomic.Int32
	launched bool

	core   *metric.Metrics
	health *health.Monitor
}

func (l *lifecycle) State() State { return State(l.state.Load()) }

func (l *lifecycle) set(s State) {
	l.state.Store(int32(s))
	if l.core != nil {
		l.core.RecordTransportState(l.name, int(s))
	}
	if l.health == nil {
		return
	}
	switch s {
	case StateRunning:
		l.health.Set(l.name, health.Healthy, "running")
	case StateStopped:
		l.health.Set(l.name, health.Unhealthy, "stopped")
	default:
		l.health.Set(l.name, health.Degraded, s.String())
	}
}

// beginLaunch moves Stopped to Launching. Called with mu held.
func (l *lifecycle) beginLaunch() error {
	switch {
	case l.launched && l.State() == StateStopped:
		return errors.WrapInvalid(errors.ErrRelaunch, "transport", "Launch", "launch "+l.name)
	case l.launched:
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "transport", "Launch", "launch "+l.name)
	}
	l.launched = true
	l.set(StateLaunching)
	return nil
}

// beginStop moves Running to Stopping. false means there is nothing to stop.
// Called with mu held.
func (l *lifecycle) beginStop() bool {
	if l.State() != StateRunning {
		return false
	}
	l.set(StateStopping)
	return true
}
