package codec

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/metric"
)

const event = `{"version":"1.1","host":"web-1","short_message":"disk full"}`

func zlibbed(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type stubResolver struct {
	name  string
	err   error
	delay time.Duration
	calls int
}

func (s *stubResolver) LookupAddr(ctx context.Context, _ net.IP) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return s.name, s.err
}

func TestPayloadCodec_Decode(t *testing.T) {
	c, err := NewPayloadCodec(Config{}, Deps{MetricsRegistry: metric.NewMetricsRegistry()})
	require.NoError(t, err)

	remote := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 5000}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for name, payload := range map[string][]byte{
		"plain": []byte(event + "\x00"),
		"zlib":  zlibbed(t, []byte(event)),
		"gzip":  gzipped(t, []byte(event)),
	} {
		t.Run(name, func(t *testing.T) {
			msg, err := c.Decode(context.Background(), Raw{
				Input: "gelf-udp", Payload: payload, Remote: remote, ReceivedAt: at,
			})
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, event, string(msg.Payload))
			assert.Equal(t, len(event), msg.Size)
			assert.Equal(t, "gelf-udp", msg.Input)
			assert.Equal(t, "10.0.0.7", msg.Source)
			assert.Equal(t, at, msg.ReceivedAt)
			assert.Empty(t, msg.Hostname)
		})
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.decodedTotal.WithLabelValues("zlib")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.decodedTotal.WithLabelValues("gzip")))
}

func TestPayloadCodec_Failures(t *testing.T) {
	c, err := NewPayloadCodec(Config{MaxPayloadSize: 64}, Deps{})
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload []byte
		want    error
	}{
		{"unsupported", []byte("plain text"), errors.ErrUnsupportedType},
		{"corrupt zlib", []byte{0x78, 0x9c, 0xff, 0xff, 0xff}, errors.ErrDecompression},
		{"corrupt gzip", []byte{0x1f, 0x8b, 0x00}, errors.ErrDecompression},
		{"inflated too large", zlibbed(t, bytes.Repeat([]byte("a"), 65)), errors.ErrFrameTooLarge},
		{"plain too large", append([]byte("{"), bytes.Repeat([]byte("a"), 64)...), errors.ErrFrameTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := c.Decode(context.Background(), Raw{Payload: tt.payload})
			require.Error(t, err)
			assert.Nil(t, msg)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestPayloadCodec_EmptyPayloadIsNoMessage(t *testing.T) {
	c, err := NewPayloadCodec(Config{}, Deps{})
	require.NoError(t, err)

	msg, err := c.Decode(context.Background(), Raw{Payload: zlibbed(t, []byte("\x00\n"))})
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestPayloadCodec_Hostname(t *testing.T) {
	remote := &net.TCPAddr{IP: net.IPv4(192, 0, 2, 1), Port: 1234}

	t.Run("resolved", func(t *testing.T) {
		r := &stubResolver{name: "app.example.org"}
		c, err := NewPayloadCodec(Config{}, Deps{Resolver: r})
		require.NoError(t, err)

		msg, err := c.Decode(context.Background(), Raw{Payload: []byte(event), Remote: remote})
		require.NoError(t, err)
		assert.Equal(t, "app.example.org", msg.Hostname)
	})

	t.Run("lookup error keeps message", func(t *testing.T) {
		r := &stubResolver{err: assert.AnError}
		c, err := NewPayloadCodec(Config{}, Deps{Resolver: r})
		require.NoError(t, err)

		msg, err := c.Decode(context.Background(), Raw{Payload: []byte(event), Remote: remote})
		require.NoError(t, err)
		assert.Empty(t, msg.Hostname)
	})

	t.Run("slow lookup is bounded", func(t *testing.T) {
		r := &stubResolver{name: "late", delay: time.Second}
		c, err := NewPayloadCodec(Config{LookupTimeout: 20 * time.Millisecond}, Deps{Resolver: r})
		require.NoError(t, err)

		start := time.Now()
		msg, err := c.Decode(context.Background(), Raw{Payload: []byte(event), Remote: remote})
		require.NoError(t, err)
		assert.Empty(t, msg.Hostname)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("no remote skips lookup", func(t *testing.T) {
		r := &stubResolver{name: "x"}
		c, err := NewPayloadCodec(Config{}, Deps{Resolver: r})
		require.NoError(t, err)

		_, err = c.Decode(context.Background(), Raw{Payload: []byte(event)})
		require.NoError(t, err)
		assert.Zero(t, r.calls)
	})
}
