package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/c360/logstreams/codec"
	"github.com/c360/logstreams/config"
	"github.com/c360/logstreams/health"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/natsclient"
	"github.com/c360/logstreams/pkg/tlsutil"
	"github.com/c360/logstreams/processbuffer"
	"github.com/c360/logstreams/reassembly"
	"github.com/c360/logstreams/throttle"
	"github.com/c360/logstreams/transport"
)

// stateBus carries load snapshots from the probe to the controllers
type stateBus interface {
	throttle.Source
	throttle.Publisher
}

type input struct {
	engine    *reassembly.Engine
	transport transport.Transport
}

// node wires one processing buffer to every configured input
type node struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	monitor  *health.Monitor
	server   *metric.Server

	nats     *natsclient.Client // nil when disabled
	localBus *throttle.LocalBus // nil when NATS carries throttle state
	buffer   *processbuffer.Buffer
	probe    *processbuffer.Probe
	inputs   []input
}

func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*node, error) {
	n := &node{
		cfg:      cfg,
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
	}
	n.server = metric.NewServer(cfg.HTTP.Addr, cfg.HTTP.MetricsPath, n.registry, n.monitor)

	if cfg.NATS.Enabled {
		client, err := n.connectNATS(ctx)
		if err != nil {
			return nil, err
		}
		n.nats = client
	}

	var bus stateBus
	if n.nats != nil {
		bus = throttle.NewNATSBus(n.nats, cfg.Throttle.Subject, logger)
	} else {
		n.localBus = throttle.NewLocalBus()
		bus = n.localBus
	}

	var out processbuffer.Output
	switch cfg.Processing.Output {
	case "nats":
		out = processbuffer.NewNATSOutput(n.nats, cfg.Processing.Subject)
	default:
		out = processbuffer.NewLogOutput(logger)
	}

	buf, err := processbuffer.NewBuffer(cfg.Processing, processbuffer.Deps{
		Output:          out,
		Logger:          logger,
		MetricsRegistry: n.registry,
	})
	if err != nil {
		return nil, n.abort(fmt.Errorf("create processing buffer: %w", err))
	}
	n.buffer = buf

	n.probe, err = processbuffer.NewProbe(cfg.Processing.ProbeInterval, processbuffer.ProbeDeps{
		Source:    buf,
		Publisher: bus,
		Logger:    logger,
	})
	if err != nil {
		return nil, n.abort(fmt.Errorf("create load probe: %w", err))
	}

	// One codec serves every input; its metrics are registered once.
	codecDeps := codec.Deps{Logger: logger, MetricsRegistry: n.registry}
	if cfg.DNS.Enabled {
		resolver, err := codec.NewDNSResolver(cfg.DNS, logger)
		if err != nil {
			return nil, n.abort(fmt.Errorf("create resolver: %w", err))
		}
		codecDeps.Resolver = resolver
	}
	payloadCodec, err := codec.NewPayloadCodec(cfg.Codec, codecDeps)
	if err != nil {
		return nil, n.abort(fmt.Errorf("create codec: %w", err))
	}

	for _, in := range cfg.Inputs {
		built, err := n.buildInput(in, bus, payloadCodec)
		if err != nil {
			return nil, n.abort(fmt.Errorf("input %s: %w", in.Name, err))
		}
		n.inputs = append(n.inputs, built)
	}
	return n, nil
}

func (n *node) buildInput(in transport.Config, bus stateBus, c codec.Codec) (input, error) {
	logger := n.logger.With("input", in.Name)

	engine, err := reassembly.NewEngine(n.cfg.Aggregator, reassembly.Deps{
		Name:            in.Name,
		Logger:          logger,
		MetricsRegistry: n.registry,
	})
	if err != nil {
		return input{}, err
	}

	deps := transport.Deps{
		Aggregator:      engine,
		Codec:           c,
		Sink:            n.buffer,
		Logger:          n.logger,
		MetricsRegistry: n.registry,
		Health:          n.monitor,
	}
	if in.ThrottlingAllowed {
		ctrl, err := throttle.NewController(throttle.Deps{
			Name:            in.Name,
			Source:          bus,
			Thresholds:      n.cfg.Throttle.Thresholds,
			Logger:          logger,
			MetricsRegistry: n.registry,
		})
		if err != nil {
			return input{}, err
		}
		deps.Throttle = ctrl
	}

	var t transport.Transport
	switch in.Type {
	case transport.TypeTCP:
		t, err = transport.NewTCP(in, deps)
	default:
		t, err = transport.NewUDP(in, deps)
	}
	if err != nil {
		return input{}, err
	}
	return input{engine: engine, transport: t}, nil
}

func (n *node) connectNATS(ctx context.Context) (*natsclient.Client, error) {
	nc := n.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(n.logger),
		natsclient.WithMaxReconnects(nc.MaxReconnects),
		natsclient.WithMetrics(n.registry.CoreMetrics()),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				n.monitor.Set("nats", health.Healthy, "connected")
				return
			}
			n.monitor.Set("nats", health.Unhealthy, "disconnected")
		}),
	}
	if nc.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(nc.ReconnectWait))
	}
	if nc.Name != "" {
		opts = append(opts, natsclient.WithName(nc.Name))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	if nc.TLS.Enabled {
		tlsCfg, err := tlsutil.LoadClientTLSConfig(nc.TLS)
		if err != nil {
			return nil, fmt.Errorf("nats tls: %w", err)
		}
		opts = append(opts, natsclient.WithTLS(tlsCfg))
	}

	client, err := natsclient.NewClient(nc.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	n.logger.Info("Connecting to NATS", "url", nc.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// abort releases what newNode already acquired
func (n *node) abort(err error) error {
	if n.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = multierr.Append(err, n.nats.Close(ctx))
	}
	return err
}

// run launches every component, blocks until ctx ends and shuts down in
// reverse order: inputs, aggregators, the processing buffer, then NATS.
func (n *node) run(ctx context.Context, shutdownTimeout time.Duration) error {
	// The buffer outlives ctx so it can drain after the inputs stop.
	bufCtx, cancelBuf := context.WithCancel(context.Background())
	defer cancelBuf()
	if err := n.buffer.Start(bufCtx); err != nil {
		return n.abort(err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return n.server.Run(gctx) })
	g.Go(func() error { return n.probe.Run(gctx) })

	var launchErr error
	for _, in := range n.inputs {
		if err := in.engine.Start(gctx); err != nil {
			launchErr = err
			break
		}
		if err := in.transport.Launch(gctx); err != nil {
			launchErr = fmt.Errorf("launch %s: %w", in.transport.Name(), err)
			break
		}
	}

	if launchErr == nil {
		n.logger.Info("logstreams running", "inputs", len(n.inputs), "http", n.cfg.HTTP.Addr)
		<-gctx.Done()
	}
	cancel()
	n.logger.Info("Shutting down", "timeout", shutdownTimeout)

	err := multierr.Append(launchErr, n.shutdown(shutdownTimeout))
	if werr := g.Wait(); werr != nil && !stderrors.Is(werr, context.Canceled) {
		err = multierr.Append(err, werr)
	}
	return err
}

func (n *node) shutdown(timeout time.Duration) error {
	var err error
	for _, in := range n.inputs {
		if in.transport.State() != transport.StateStopped {
			err = multierr.Append(err, in.transport.Stop(timeout))
		}
	}
	for _, in := range n.inputs {
		err = multierr.Append(err, in.engine.Stop())
		if waiting := in.engine.Len(); waiting > 0 {
			n.logger.Warn("discarding incomplete messages", "input", in.transport.Name(), "waiting", waiting)
		}
	}
	err = multierr.Append(err, n.buffer.Stop(timeout))
	if n.localBus != nil {
		n.localBus.Close()
	}
	if n.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		err = multierr.Append(err, n.nats.Close(ctx))
	}
	return err
}
