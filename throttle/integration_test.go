//go:build integration

package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/natsclient"
)

func TestIntegration_NATSBusDrivesController(t *testing.T) {
	tc := natsclient.NewTestClient(t)
	ctx := context.Background()

	bus := NewNATSBus(tc.Client, "logstreams.test.throttle", nil)
	c, err := NewController(Deps{Name: "nats", Source: bus})
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer func() { assert.NoError(t, c.Stop()) }()

	require.NoError(t, bus.Publish(ctx, overloaded()))
	require.Eventually(t, c.IsThrottled, 5*time.Second, 10*time.Millisecond)

	// malformed payloads are skipped
	require.NoError(t, tc.Client.Publish(ctx, bus.Subject(), []byte("not json")))

	require.NoError(t, bus.Publish(ctx, healthy()))
	require.Eventually(t, func() bool { return !c.IsThrottled() }, 5*time.Second, 10*time.Millisecond)
}
