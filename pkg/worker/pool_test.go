package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/metric"
)

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, int) error { return nil }

	p := NewPool("t", 0, 0, noop)
	assert.Equal(t, 10, p.workers)
	assert.Equal(t, 1000, p.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[int]("t", 1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	p := NewPool("t", 2, 10, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, p.Submit(1), ErrPoolNotStarted)

	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))
	assert.Equal(t, int64(5), processed.Load(), "queued work drains on Stop")

	assert.ErrorIs(t, p.Submit(1), ErrPoolStopped)
	assert.ErrorIs(t, p.SubmitWait(context.Background(), 1), ErrPoolStopped)
	assert.NoError(t, p.Stop(time.Second), "second Stop is a no-op")
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	p := NewPool("t", 1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	defer func() {
		close(release)
		_ = p.Stop(time.Second)
	}()

	require.NoError(t, p.Submit(1))
	// wait for the worker to pick up the first item so the queue slot frees
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(2))

	assert.ErrorIs(t, p.Submit(3), ErrQueueFull)
	assert.Equal(t, int64(1), p.Stats().Dropped)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.SubmitWait(ctx, 4), context.DeadlineExceeded)
}

func TestPool_SubmitWaitUnblocksOnStop(t *testing.T) {
	release := make(chan struct{})
	p := NewPool("t", 1, 1, func(context.Context, int) error {
		<-release
		return nil
	})
	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Submit(1))
	require.Eventually(t, func() bool { return p.Stats().QueueDepth == 0 }, time.Second, time.Millisecond)
	require.NoError(t, p.Submit(2))

	errCh := make(chan error, 1)
	go func() { errCh <- p.SubmitWait(context.Background(), 3) }()

	time.Sleep(10 * time.Millisecond)
	stopped := make(chan error, 1)
	go func() { stopped <- p.Stop(time.Second) }()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrPoolStopped)
	case <-time.After(time.Second):
		t.Fatal("SubmitWait did not return after Stop")
	}
	close(release)
	assert.NoError(t, <-stopped)
}

func TestPool_FailuresCounted(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	p := NewPool("decode", 2, 10, func(_ context.Context, n int) error {
		if n%2 == 0 {
			return errors.New("bad")
		}
		return nil
	}, WithMetricsRegistry[int](registry))

	require.NoError(t, p.Start(context.Background()))
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(i))
	}
	require.NoError(t, p.Stop(time.Second))

	stats := p.Stats()
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
	assert.Equal(t, 5.0, testutil.ToFloat64(p.metrics.failed))
}

func TestPool_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool("t", 3, 10, func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, p.Start(ctx))
	require.NoError(t, p.Submit(1))
	cancel()
	assert.NoError(t, p.Stop(time.Second))
}

func TestPool_ConcurrentSubmit(t *testing.T) {
	var processed atomic.Int64
	p := NewPool("t", 4, 1000, func(context.Context, int) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = p.SubmitWait(context.Background(), i)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, p.Stop(2*time.Second))
	assert.Equal(t, int64(800), processed.Load())
}
