package transport

import (
	"context"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/logstreams/codec"
	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/reassembly"
)

// Frame is one unit read from the network
type Frame struct {
	Payload    []byte
	Remote     net.Addr
	ReceivedAt time.Time
}

// Stage is one step of a Pipeline. Returning false stops the frame without
// error (for example a chunk still waiting for its siblings).
type Stage interface {
	Name() string
	Handle(ctx context.Context, f *Frame) (bool, error)
}

// Pipeline runs frames through an ordered list of stages
type Pipeline struct {
	input   string
	stages  []Stage
	core    *metric.Metrics
	metrics *Metrics
	logger  *slog.Logger
	warn    *rate.Sometimes
}

// Run passes f through every stage in order. Invalid frames are counted and
// reported through a sampled warning; the error is returned for the caller's
// accounting only.
func (p *Pipeline) Run(ctx context.Context, f Frame) error {
	for _, s := range p.stages {
		start := time.Now()
		cont, err := s.Handle(ctx, &f)
		if p.core != nil {
			p.core.RecordProcessingDuration(p.input, s.Name(), time.Since(start))
		}
		if err != nil {
			p.reject(s.Name(), f, err)
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (p *Pipeline) reject(stage string, f Frame, err error) {
	p.metrics.invalid()
	reason := errors.Classify(err).String()
	if p.core != nil {
		p.core.RecordMessageDropped(p.input, stage)
	}
	p.warn.Do(func() {
		p.logger.Warn("dropping frame",
			"stage", stage, "class", reason, "remote", addrString(f.Remote),
			"size", len(f.Payload), "error", err)
	})
}

// Stages returns the stage names in order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, s := range p.stages {
		names[i] = s.Name()
	}
	return names
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

// aggregatorStage replaces a frame with its reassembled message, holds
// partial chunks back and rejects malformed frames.
type aggregatorStage struct {
	agg Aggregator
}

func (aggregatorStage) Name() string { return "aggregator" }

func (s aggregatorStage) Handle(_ context.Context, f *Frame) (bool, error) {
	res := s.agg.AddChunk(f.Payload)
	switch res.Status {
	case reassembly.Complete:
		f.Payload = res.Payload
		return true, nil
	case reassembly.Pending:
		return false, nil
	default:
		return false, errors.WrapInvalid(errors.ErrInvalidFrame, "aggregator", "Handle", "reassemble frame")
	}
}

// emitStage decodes a complete frame and writes the message to the sink
type emitStage struct {
	input   string
	codec   codec.Codec
	sink    Sink
	metrics *Metrics
	core    *metric.Metrics
	logger  *slog.Logger
}

func (emitStage) Name() string { return "emit" }

func (s emitStage) Handle(ctx context.Context, f *Frame) (bool, error) {
	msg, err := s.codec.Decode(ctx, codec.Raw{
		Input:      s.input,
		Payload:    f.Payload,
		Remote:     f.Remote,
		ReceivedAt: f.ReceivedAt,
	})
	if err != nil {
		return false, err
	}
	if msg == nil {
		s.logger.Debug("frame decoded to no message", "remote", addrString(f.Remote))
		return false, nil
	}
	if err := s.sink.Write(ctx, msg); err != nil {
		return false, errors.Wrap(err, "emit", "Handle", "write message to sink")
	}
	s.metrics.emitted()
	if s.core != nil {
		s.core.RecordMessageEmitted(s.input)
	}
	return true, nil
}

// newPipeline composes the aggregator stage (when configured) and the
// emission stage.
func newPipeline(input string, deps Deps, m *Metrics, logger *slog.Logger, warn *rate.Sometimes) *Pipeline {
	var core *metric.Metrics
	if deps.MetricsRegistry != nil {
		core = deps.MetricsRegistry.CoreMetrics()
	}

	var stages []Stage
	if deps.Aggregator != nil {
		stages = append(stages, aggregatorStage{agg: deps.Aggregator})
	}
	stages = append(stages, emitStage{
		input:   input,
		codec:   deps.Codec,
		sink:    deps.Sink,
		metrics: m,
		core:    core,
		logger:  logger,
	})

	return &Pipeline{
		input:   input,
		stages:  stages,
		core:    core,
		metrics: m,
		logger:  logger,
		warn:    warn,
	}
}
