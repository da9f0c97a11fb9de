//go:build integration

package processbuffer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/natsclient"
)

func TestIntegration_NATSOutput(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	got := make(chan []byte, 4)
	sub, err := tc.Client.Subscribe(ctx, "logstreams.test.messages", func(_ context.Context, data []byte) {
		got <- data
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	b, err := NewBuffer(Config{
		Capacity: 16, Workers: 1, BatchSize: 8, ProbeInterval: time.Second,
		Output: "nats", Subject: "logstreams.test.messages",
	}, Deps{Output: NewNATSOutput(tc.Client, "logstreams.test.messages")})
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	defer b.Stop(time.Second)

	msg := message.New("gelf-udp", []byte(`{"short_message":"hello"}`))
	require.NoError(t, b.Write(ctx, msg))

	select {
	case data := <-got:
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, msg.ID.String(), decoded["id"])
		assert.Equal(t, "gelf-udp", decoded["input"])
		assert.Equal(t, map[string]any{"short_message": "hello"}, decoded["payload"])
	case <-time.After(5 * time.Second):
		t.Fatal("message not published")
	}
}
