package throttle

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/natsclient"
)

// DefaultSubject is the NATS subject carrying load snapshots
const DefaultSubject = "logstreams.throttle.state"

// Handler receives load snapshots
type Handler func(State)

// Subscription is returned by Source.Subscribe
type Subscription interface {
	Unsubscribe() error
}

// Source delivers load snapshots to subscribers
type Source interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// Publisher broadcasts load snapshots
type Publisher interface {
	Publish(ctx context.Context, s State) error
}

// LocalBus fans snapshots out to in-process subscribers. A slow subscriber
// misses snapshots instead of stalling the publisher.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[*localSub]struct{}
	closed bool
}

var (
	_ Source    = (*LocalBus)(nil)
	_ Publisher = (*LocalBus)(nil)
)

// NewLocalBus creates an empty bus
func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[*localSub]struct{})}
}

type localSub struct {
	bus  *LocalBus
	ch   chan State
	done chan struct{}
	once sync.Once
}

// Subscribe registers h. Snapshots are delivered in order on a dedicated
// goroutine until Unsubscribe or ctx ends.
func (b *LocalBus) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "LocalBus", "Subscribe", "nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.WrapInvalid(errors.ErrAlreadyStopped, "LocalBus", "Subscribe", "bus closed")
	}

	sub := &localSub{bus: b, ch: make(chan State, 1), done: make(chan struct{})}
	b.subs[sub] = struct{}{}

	go func() {
		for {
			select {
			case s := <-sub.ch:
				h(s)
			case <-sub.done:
				return
			case <-ctx.Done():
				_ = sub.Unsubscribe()
				return
			}
		}
	}()
	return sub, nil
}

// Publish hands s to every subscriber. A subscriber still busy with the
// previous snapshot gets the newer one in its place.
func (b *LocalBus) Publish(_ context.Context, s State) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "LocalBus", "Publish", "bus closed")
	}

	for sub := range b.subs {
		select {
		case sub.ch <- s:
		default:
			// replace the stale pending snapshot
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- s:
			default:
			}
		}
	}
	return nil
}

// Close unsubscribes everyone
func (b *LocalBus) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[*localSub]struct{})
	b.closed = true
	b.mu.Unlock()

	for sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}

func (s *localSub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}

// NATSBus carries snapshots as JSON over a NATS subject
type NATSBus struct {
	client  *natsclient.Client
	subject string
	logger  *slog.Logger
}

var (
	_ Source    = (*NATSBus)(nil)
	_ Publisher = (*NATSBus)(nil)
)

// NewNATSBus creates a bus on subject, DefaultSubject when empty
func NewNATSBus(client *natsclient.Client, subject string, logger *slog.Logger) *NATSBus {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSBus{
		client:  client,
		subject: subject,
		logger:  logger.With("component", "throttle-bus", "subject", subject),
	}
}

// Subject returns the NATS subject in use
func (b *NATSBus) Subject() string { return b.subject }

// Publish encodes s and publishes it
func (b *NATSBus) Publish(ctx context.Context, s State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.WrapInvalid(err, "NATSBus", "Publish", "encode state")
	}
	if err := b.client.Publish(ctx, b.subject, data); err != nil {
		return errors.Wrap(err, "NATSBus", "Publish", "publish state")
	}
	return nil
}

// Subscribe decodes every snapshot on the subject and passes it to h.
// Undecodable messages are logged and skipped.
func (b *NATSBus) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	if h == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "NATSBus", "Subscribe", "nil handler")
	}
	sub, err := b.client.Subscribe(ctx, b.subject, func(_ context.Context, data []byte) {
		var s State
		if err := json.Unmarshal(data, &s); err != nil {
			b.logger.Warn("dropping malformed throttle state", "error", err, "size", len(data))
			return
		}
		h(s)
	})
	if err != nil {
		return nil, errors.Wrap(err, "NATSBus", "Subscribe", "subscribe to state subject")
	}
	return sub, nil
}
