package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/pkg/retry"
	"github.com/c360/logstreams/pkg/worker"
)

const maxDatagramSize = 65535

// UDP reads datagrams on a single goroutine and processes them on a worker
// pool, so reassembly of different messages runs concurrently.
type UDP struct {
	lifecycle

	cfg      Config
	deps     Deps
	logger   *slog.Logger
	metrics  *Metrics
	pipeline *Pipeline
	warn     rate.Sometimes

	conn        *net.UDPConn
	pool        *worker.Pool[Frame]
	cancel      context.CancelFunc // workers and throttle
	stopReading context.CancelFunc // read loop only
	wg          sync.WaitGroup
}

var _ Transport = (*UDP)(nil)

// NewUDP creates a UDP transport. Nothing is bound until Launch.
func NewUDP(cfg Config, deps Deps) (*UDP, error) {
	cfg = cfg.WithDefaults()
	cfg.Type = TypeUDP
	if err := validateDeps(cfg, deps); err != nil {
		return nil, err
	}

	logger := componentLogger(deps.Logger, "udp", cfg)
	m, err := newMetrics(deps.MetricsRegistry, cfg.Name)
	if err != nil {
		return nil, errors.WrapFatal(err, "UDP", "NewUDP", "metrics registration")
	}

	u := &UDP{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		metrics: m,
		warn:    rate.Sometimes{Interval: 10 * time.Second},
	}
	u.lifecycle = newLifecycle(cfg.Name, deps)
	u.pipeline = newPipeline(cfg.Name, deps, m, logger, &u.warn)
	return u, nil
}

// Name returns the input name
func (u *UDP) Name() string { return u.cfg.Name }

// Addr returns the bound address, nil before Launch
func (u *UDP) Addr() net.Addr {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn == nil {
		return nil
	}
	return u.conn.LocalAddr()
}

// Launch binds the socket, starts the worker pool and the read loop, and
// subscribes the throttle controller when throttling is allowed.
func (u *UDP) Launch(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.beginLaunch(); err != nil {
		return err
	}

	conn, err := retry.DoWithResult(ctx, bindRetry(u.deps), func() (*net.UDPConn, error) {
		addr, err := net.ResolveUDPAddr("udp", u.cfg.Address())
		if err != nil {
			return nil, errors.WrapInvalid(err, "UDP", "Launch", "resolve "+u.cfg.Address())
		}
		return net.ListenUDP("udp", addr)
	})
	if err != nil {
		u.set(StateStopped)
		return errors.WrapTransient(err, "UDP", "Launch", "bind "+u.cfg.Address())
	}
	if err := conn.SetReadBuffer(u.cfg.RecvBufferSize); err != nil {
		u.logger.Warn("could not set receive buffer size", "size", u.cfg.RecvBufferSize, "error", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pool := worker.NewPool(u.cfg.Name, u.cfg.Workers, u.cfg.QueueSize, u.pipeline.Run,
		worker.WithMetricsRegistry[Frame](u.deps.MetricsRegistry))
	if err := pool.Start(runCtx); err != nil {
		cancel()
		_ = conn.Close()
		u.set(StateStopped)
		return errors.WrapFatal(err, "UDP", "Launch", "start worker pool")
	}

	if err := startThrottle(runCtx, u.cfg, u.deps); err != nil {
		cancel()
		_ = pool.Stop(time.Second)
		_ = conn.Close()
		u.set(StateStopped)
		return err
	}

	// The read loop gets its own context so Stop can end a blocked
	// SubmitWait while workers keep draining queued frames.
	readCtx, stopReading := context.WithCancel(runCtx)
	u.conn, u.pool, u.cancel, u.stopReading = conn, pool, cancel, stopReading
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.readLoop(readCtx, conn, pool)
	}()

	u.set(StateRunning)
	u.logger.Info("udp input listening", "addr", conn.LocalAddr().String(),
		"workers", u.cfg.Workers, "throttling", u.cfg.ThrottlingAllowed)
	return nil
}

func (u *UDP) readLoop(ctx context.Context, conn *net.UDPConn, pool *worker.Pool[Frame]) {
	buf := make([]byte, maxDatagramSize)
	for {
		if !waitUnthrottled(ctx, u.cfg, u.deps) {
			return
		}

		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			u.metrics.readError()
			u.warn.Do(func() { u.logger.Warn("udp read failed", "error", err) })
			continue
		}
		if n == 0 {
			continue
		}
		u.metrics.received(n)

		frame := Frame{
			Payload:    bytes.Clone(buf[:n]),
			Remote:     remote,
			ReceivedAt: time.Now().UTC(),
		}
		if err := pool.SubmitWait(ctx, frame); err != nil {
			if ctx.Err() != nil || stderrors.Is(err, worker.ErrPoolStopped) {
				return
			}
			u.logger.Debug("frame not queued", "error", err)
		}
	}
}

// Stop releases throttled readers first, then closes the socket and ends the
// read loop, drains the worker pool and unsubscribes from throttle state.
func (u *UDP) Stop(timeout time.Duration) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if !u.beginStop() {
		return nil
	}
	defer u.set(StateStopped)

	err := stopThrottle(u.cfg, u.deps)

	_ = u.conn.Close()
	u.stopReading()
	if !waitTimeout(&u.wg, timeout) {
		err = multierr.Append(err, errors.WrapTransient(fmt.Errorf("read loop still running after %v", timeout),
			"UDP", "Stop", "wait for read loop"))
	}
	if perr := u.pool.Stop(timeout); perr != nil {
		err = multierr.Append(err, errors.WrapTransient(perr, "UDP", "Stop", "drain worker pool"))
	}
	u.cancel()

	stats := u.pool.Stats()
	u.logger.Info("udp input stopped", "processed", stats.Processed, "failed", stats.Failed)
	return err
}
