package throttle

import (
	"context"
	"sync"
	"time"
)

// Gate is a single-use latch. Waiters block until Release; once released
// it stays open for good.
type Gate struct {
	ch   chan struct{}
	once sync.Once
}

func newGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Release opens the gate. Safe to call more than once.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.ch) })
}

// Released reports whether Release has been called
func (g *Gate) Released() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until the gate opens, timeout elapses or ctx is done. It
// returns true only when the gate opened. timeout <= 0 waits without limit.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	if g.Released() {
		return true
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-g.ch:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}
