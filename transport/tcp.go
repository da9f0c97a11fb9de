package transport

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
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
	"github.com/c360/logstreams/pkg/tlsutil"
)

// TCP accepts stream connections, optionally wrapped in TLS. Each connection
// is read by its own goroutine and frames are processed in arrival order.
type TCP struct {
	lifecycle

	cfg     Config
	deps    Deps
	logger  *slog.Logger
	metrics *Metrics
	warn    rate.Sometimes

	ln     net.Listener
	tls    *tls.Config
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

var _ Transport = (*TCP)(nil)

// NewTCP creates a TCP transport. Nothing is bound until Launch.
func NewTCP(cfg Config, deps Deps) (*TCP, error) {
	cfg = cfg.WithDefaults()
	cfg.Type = TypeTCP
	if err := validateDeps(cfg, deps); err != nil {
		return nil, err
	}

	m, err := newMetrics(deps.MetricsRegistry, cfg.Name)
	if err != nil {
		return nil, errors.WrapFatal(err, "TCP", "NewTCP", "metrics registration")
	}

	t := &TCP{
		cfg:     cfg,
		deps:    deps,
		logger:  componentLogger(deps.Logger, "tcp", cfg),
		metrics: m,
		warn:    rate.Sometimes{Interval: 10 * time.Second},
		conns:   make(map[net.Conn]struct{}),
	}
	t.lifecycle = newLifecycle(cfg.Name, deps)
	return t, nil
}

// Name returns the input name
func (t *TCP) Name() string { return t.cfg.Name }

// Addr returns the listening address, nil before Launch
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return nil
	}
	return t.ln.Addr()
}

// Launch prepares TLS, binds the listener and starts accepting. A TLS
// setup failure fails the launch; the input never falls back to plaintext.
func (t *TCP) Launch(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.beginLaunch(); err != nil {
		return err
	}

	tlsConfig, err := tlsutil.LoadServerTLSConfig(t.cfg.Name, t.cfg.TLS)
	if err != nil {
		t.set(StateStopped)
		return errors.Wrap(err, "TCP", "Launch", "prepare tls")
	}

	lc := net.ListenConfig{KeepAlive: -1}
	if t.cfg.TCPKeepAlive {
		lc.KeepAlive = 0 // platform default period
	}
	ln, err := retry.DoWithResult(ctx, bindRetry(t.deps), func() (net.Listener, error) {
		return lc.Listen(ctx, "tcp", t.cfg.Address())
	})
	if err != nil {
		t.set(StateStopped)
		return errors.WrapTransient(err, "TCP", "Launch", "bind "+t.cfg.Address())
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := startThrottle(runCtx, t.cfg, t.deps); err != nil {
		cancel()
		_ = ln.Close()
		t.set(StateStopped)
		return err
	}

	t.ln, t.tls, t.cancel = ln, tlsConfig, cancel
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.acceptLoop(runCtx, ln)
	}()

	t.set(StateRunning)
	t.logger.Info("tcp input listening", "addr", ln.Addr().String(),
		"tls", tlsConfig != nil, "throttling", t.cfg.ThrottlingAllowed)
	return nil
}

// TLSConfig returns the server TLS configuration in use, nil for plaintext
func (t *TCP) TLSConfig() *tls.Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tls
}

func (t *TCP) acceptLoop(ctx context.Context, ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				return
			}
			t.metrics.readError()
			t.warn.Do(func() { t.logger.Warn("accept failed", "error", err) })
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if !t.track(conn) {
			_ = conn.Close()
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.untrack(conn)
			t.serve(ctx, conn)
		}()
	}
}

func (t *TCP) track(conn net.Conn) bool {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if t.conns == nil {
		return false
	}
	t.conns[conn] = struct{}{}
	t.metrics.connOpened()
	return true
}

func (t *TCP) untrack(conn net.Conn) {
	_ = conn.Close()
	t.connMu.Lock()
	defer t.connMu.Unlock()
	if _, ok := t.conns[conn]; ok {
		delete(t.conns, conn)
		t.metrics.connClosed()
	}
}

// serve reads frames from one connection. The pipeline is composed once per
// connection.
func (t *TCP) serve(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr()
	logger := t.logger.With("remote", remote.String())
	pipeline := newPipeline(t.cfg.Name, t.deps, t.metrics, logger, &t.warn)
	logger.Debug("connection opened")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(64<<10, t.cfg.MaxFrameSize)), t.cfg.MaxFrameSize)
	scanner.Split(splitFrames(t.cfg.NewlineDelimiter))

	for {
		if !waitUnthrottled(ctx, t.cfg, t.deps) {
			return
		}
		if !scanner.Scan() {
			break
		}
		data := scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		t.metrics.received(len(data))
		_ = pipeline.Run(ctx, Frame{
			Payload:    bytes.Clone(data),
			Remote:     remote,
			ReceivedAt: time.Now().UTC(),
		})
	}

	switch err := scanner.Err(); {
	case err == nil, ctx.Err() != nil, stderrors.Is(err, net.ErrClosed):
		logger.Debug("connection closed")
	case stderrors.Is(err, bufio.ErrTooLong):
		t.metrics.invalid()
		t.warn.Do(func() {
			logger.Warn("closing connection: frame exceeds limit", "max_frame_size", t.cfg.MaxFrameSize)
		})
	default:
		t.metrics.readError()
		logger.Debug("connection read failed", "error", err)
	}
}

// Stop releases throttled readers first, then closes the listener and every
// open connection and waits for their goroutines.
func (t *TCP) Stop(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.beginStop() {
		return nil
	}
	defer t.set(StateStopped)

	err := stopThrottle(t.cfg, t.deps)

	t.cancel()
	_ = t.ln.Close()

	t.connMu.Lock()
	conns := t.conns
	t.conns = nil
	t.connMu.Unlock()
	for conn := range conns {
		_ = conn.Close()
		t.metrics.connClosed()
	}

	if !waitTimeout(&t.wg, timeout) {
		err = multierr.Append(err, errors.WrapTransient(fmt.Errorf("connections still open after %v", timeout),
			"TCP", "Stop", "wait for connections"))
	}
	t.logger.Info("tcp input stopped")
	return err
}
