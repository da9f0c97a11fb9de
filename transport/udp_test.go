package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/health"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/reassembly"
	"github.com/c360/logstreams/throttle"
)

func newTestUDP(t *testing.T, cfg Config, deps Deps) (*UDP, *chanSink) {
	t.Helper()
	sink := newChanSink()
	if deps.Codec == nil {
		deps.Codec = newCodec(t)
	}
	deps.Sink = sink
	deps.BindRetry = noRetry
	if cfg.Name == "" {
		cfg.Name = "udp-test"
	}
	cfg.Bind = "127.0.0.1"

	u, err := NewUDP(cfg, deps)
	require.NoError(t, err)
	return u, sink
}

func dialUDP(t *testing.T, u *UDP) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, u.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNewUDP_Validation(t *testing.T) {
	_, err := NewUDP(Config{Name: "x"}, Deps{Sink: newChanSink()})
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = NewUDP(Config{Name: "x", ThrottlingAllowed: true}, Deps{Codec: newCodec(t), Sink: newChanSink()})
	assert.ErrorIs(t, err, errors.ErrMissingConfig)

	_, err = NewUDP(Config{Name: "x", TLS: securityEnabled()}, Deps{Codec: newCodec(t), Sink: newChanSink()})
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestUDP_ReceivesAndReassembles(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	engine, err := reassembly.NewEngine(reassembly.DefaultConfig(), reassembly.Deps{Name: "udp-test"})
	require.NoError(t, err)

	u, sink := newTestUDP(t, Config{Workers: 4}, Deps{
		Aggregator:      engine,
		MetricsRegistry: registry,
		Health:          monitor,
	})
	assert.Equal(t, StateStopped, u.State())

	require.NoError(t, u.Launch(context.Background()))
	defer func() { assert.NoError(t, u.Stop(time.Second)) }()
	assert.Equal(t, StateRunning, u.State())
	status, ok := monitor.Get("udp-test")
	require.True(t, ok)
	assert.Equal(t, health.Healthy, status.Level)

	conn := dialUDP(t, u)

	_, err = conn.Write([]byte(`{"short_message":"single"}`))
	require.NoError(t, err)
	msg := sink.next(t)
	assert.Equal(t, `{"short_message":"single"}`, string(msg.Payload))
	assert.Equal(t, "udp-test", msg.Input)
	assert.Equal(t, "127.0.0.1", msg.Source)

	payload := []byte(`{"short_message":"chunked message spanning several datagrams"}`)
	frames := reassembly.EncodeChunks(reassembly.MessageID{9, 9, 9}, payload, 10)
	for i := len(frames) - 1; i >= 0; i-- {
		_, err = conn.Write(frames[i])
		require.NoError(t, err)
	}
	assert.Equal(t, string(payload), string(sink.next(t).Payload))

	_, err = conn.Write([]byte("not a frame"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(u.metrics.framesInvalid) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(len(frames)+2), testutil.ToFloat64(u.metrics.framesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(u.metrics.messagesEmitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(registry.CoreMetrics().TransportState.WithLabelValues("udp-test")))
}

func TestUDP_Lifecycle(t *testing.T) {
	u, _ := newTestUDP(t, Config{}, Deps{})
	ctx := context.Background()

	require.NoError(t, u.Stop(time.Second), "stop before launch is a no-op")
	require.NoError(t, u.Launch(ctx))
	assert.ErrorIs(t, u.Launch(ctx), errors.ErrAlreadyStarted)

	require.NoError(t, u.Stop(time.Second))
	assert.Equal(t, StateStopped, u.State())
	require.NoError(t, u.Stop(time.Second))

	err := u.Launch(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRelaunch)
}

func TestUDP_BindFailure(t *testing.T) {
	taken, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer taken.Close()

	u, _ := newTestUDP(t, Config{Port: taken.LocalAddr().(*net.UDPAddr).Port}, Deps{})
	err = u.Launch(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateStopped, u.State())
}

func overloadedState() throttle.State {
	return throttle.State{QueueDepth: 10, ProcessingCapacity: 0}
}

func healthyState() throttle.State {
	return throttle.State{QueueDepth: 10, ProcessingCapacity: 100}
}

func TestUDP_ThrottleHoldsReads(t *testing.T) {
	bus := throttle.NewLocalBus()
	defer bus.Close()
	ctrl, err := throttle.NewController(throttle.Deps{Name: "udp-test", Source: bus})
	require.NoError(t, err)

	ctrl.Observe(overloadedState())
	u, sink := newTestUDP(t, Config{ThrottlingAllowed: true}, Deps{Throttle: ctrl})
	require.NoError(t, u.Launch(context.Background()))
	defer func() { assert.NoError(t, u.Stop(time.Second)) }()

	conn := dialUDP(t, u)
	_, err = conn.Write([]byte(`{"held":true}`))
	require.NoError(t, err)
	sink.none(t, 100*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), healthyState()))
	assert.Equal(t, `{"held":true}`, string(sink.next(t).Payload))
}

func TestUDP_StopReleasesThrottledReader(t *testing.T) {
	bus := throttle.NewLocalBus()
	defer bus.Close()
	ctrl, err := throttle.NewController(throttle.Deps{Name: "udp-test", Source: bus})
	require.NoError(t, err)
	ctrl.Observe(overloadedState())

	u, _ := newTestUDP(t, Config{ThrottlingAllowed: true}, Deps{Throttle: ctrl})
	require.NoError(t, u.Launch(context.Background()))

	done := make(chan error)
	go func() { done <- u.Stop(2 * time.Second) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop blocked on throttled reader")
	}
	assert.False(t, ctrl.IsThrottled())
}

// stuckSink holds every write until its context ends
type stuckSink struct {
	entered chan struct{}
	once    sync.Once
}

func (s *stuckSink) Write(ctx context.Context, _ *message.Message) error {
	s.once.Do(func() { close(s.entered) })
	<-ctx.Done()
	return ctx.Err()
}

func TestUDP_StopWithBlockedSinkHonoursTimeout(t *testing.T) {
	sink := &stuckSink{entered: make(chan struct{})}
	u, err := NewUDP(Config{Name: "udp-stuck", Bind: "127.0.0.1", Workers: 1, QueueSize: 1}, Deps{
		Codec:     newCodec(t),
		Sink:      sink,
		BindRetry: noRetry,
	})
	require.NoError(t, err)
	require.NoError(t, u.Launch(context.Background()))

	conn := dialUDP(t, u)
	for i := 0; i < 8; i++ {
		_, err := conn.Write([]byte(`{"n":1}`))
		require.NoError(t, err)
	}
	select {
	case <-sink.entered:
	case <-time.After(3 * time.Second):
		t.Fatal("sink never called")
	}
	// let the read loop fill the queue and park in SubmitWait
	time.Sleep(100 * time.Millisecond)

	const timeout = 300 * time.Millisecond
	start := time.Now()
	_ = u.Stop(timeout)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, timeout+200*time.Millisecond, "stop waited on the read loop and the pool in turn")
	assert.Equal(t, StateStopped, u.State())
}
