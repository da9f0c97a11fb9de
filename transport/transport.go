// Package transport receives frames from the network and turns them into
// structured messages.
//
// A Transport owns one listener (UDP or TCP, optionally TLS-wrapped). Every
// frame it reads runs through a Pipeline: the aggregator stage reassembles
// chunked frames, then the emission stage decodes the complete buffer with a
// Codec and hands the message to a Sink. When throttling is enabled the read
// loops park on the throttle gate until the processing side recovers.
//
// Lifecycle:
//
//	Stopped -> Launching -> Running -> Stopping -> Stopped
//
// A transport is single-use: Launch after Stop returns ErrRelaunch.
package transport

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/logstreams/codec"
	"github.com/c360/logstreams/health"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/pkg/retry"
	"github.com/c360/logstreams/reassembly"
)

// Transport is a network input
type Transport interface {
	Name() string
	State() State
	Launch(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// Aggregator reassembles frames. reassembly.Engine implements it.
type Aggregator interface {
	AddChunk(frame []byte) reassembly.Result
}

// Sink receives decoded messages
type Sink interface {
	Write(ctx context.Context, msg *message.Message) error
}

// Throttle gates the read loops. throttle.Controller implements it.
type Throttle interface {
	Start(ctx context.Context) error
	Stop() error
	IsThrottled() bool
	BlockUntilUnthrottled(ctx context.Context, timeout time.Duration) bool
}

var _ Aggregator = (*reassembly.Engine)(nil)

// Deps holds runtime dependencies shared by UDP and TCP
type Deps struct {
	Aggregator      Aggregator  // optional; frames pass through unchanged without it
	Codec           codec.Codec // required
	Sink            Sink        // required
	Throttle        Throttle    // used only when throttling is allowed
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
	Health          *health.Monitor
	BindRetry       *retry.Config // defaults to retry.Quick
}
