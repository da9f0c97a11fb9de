package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/codec"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/pkg/retry"
)

var noRetry = &retry.Config{MaxAttempts: 1}

type chanSink struct {
	ch chan *message.Message

	mu  sync.Mutex
	err error
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *message.Message, 64)}
}

func (s *chanSink) Write(ctx context.Context, msg *message.Message) error {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case s.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *chanSink) next(t *testing.T) *message.Message {
	t.Helper()
	select {
	case msg := <-s.ch:
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("no message delivered")
		return nil
	}
}

func (s *chanSink) none(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-s.ch:
		t.Fatalf("unexpected message %q", msg.Payload)
	case <-time.After(wait):
	}
}

func newCodec(t *testing.T) codec.Codec {
	t.Helper()
	c, err := codec.NewPayloadCodec(codec.Config{}, codec.Deps{})
	require.NoError(t, err)
	return c
}
