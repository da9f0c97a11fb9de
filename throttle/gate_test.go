package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGate(t *testing.T) {
	t.Run("times out while closed", func(t *testing.T) {
		g := newGate()
		start := time.Now()
		assert.False(t, g.Wait(context.Background(), 20*time.Millisecond))
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("context cancellation stops waiting", func(t *testing.T) {
		g := newGate()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan bool)
		go func() { done <- g.Wait(ctx, 0) }()
		cancel()
		assert.False(t, <-done)
		assert.False(t, g.Released())
	})

	t.Run("release wakes every waiter", func(t *testing.T) {
		g := newGate()
		results := make(chan bool, 3)
		for i := 0; i < 3; i++ {
			go func() { results <- g.Wait(context.Background(), 0) }()
		}
		g.Release()
		g.Release()
		for i := 0; i < 3; i++ {
			assert.True(t, <-results)
		}
		assert.True(t, g.Wait(context.Background(), time.Nanosecond), "released gate stays open")
	})
}
