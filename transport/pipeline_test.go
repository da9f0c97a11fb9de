package transport

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/c360/logstreams/codec"
	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/reassembly"
)

type aggFunc func([]byte) reassembly.Result

func (f aggFunc) AddChunk(frame []byte) reassembly.Result { return f(frame) }

func testPipeline(t *testing.T, deps Deps) (*Pipeline, *Metrics) {
	t.Helper()
	registry := metric.NewMetricsRegistry()
	deps.MetricsRegistry = registry
	m, err := newMetrics(registry, "pipe")
	require.NoError(t, err)
	return newPipeline("pipe", deps, m, slog.Default(), &rate.Sometimes{Interval: time.Minute}), m
}

func TestPipeline_Stages(t *testing.T) {
	sink := newChanSink()

	p, _ := testPipeline(t, Deps{Codec: newCodec(t), Sink: sink})
	assert.Equal(t, []string{"emit"}, p.Stages())

	p, _ = testPipeline(t, Deps{
		Aggregator: aggFunc(func(b []byte) reassembly.Result { return reassembly.Result{Status: reassembly.Complete, Payload: b} }),
		Codec:      newCodec(t),
		Sink:       sink,
	})
	assert.Equal(t, []string{"aggregator", "emit"}, p.Stages())
}

func TestPipeline_Run(t *testing.T) {
	sink := newChanSink()
	status := reassembly.Pending
	agg := aggFunc(func(b []byte) reassembly.Result {
		if status == reassembly.Complete {
			return reassembly.Result{Status: status, Payload: []byte(`{"assembled":true}`)}
		}
		return reassembly.Result{Status: status}
	})
	p, m := testPipeline(t, Deps{Aggregator: agg, Codec: newCodec(t), Sink: sink})
	ctx := context.Background()

	require.NoError(t, p.Run(ctx, Frame{Payload: []byte("chunk")}))
	sink.none(t, 10*time.Millisecond)

	status = reassembly.Invalid
	err := p.Run(ctx, Frame{Payload: []byte("junk")})
	assert.ErrorIs(t, err, errors.ErrInvalidFrame)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesInvalid))

	status = reassembly.Complete
	require.NoError(t, p.Run(ctx, Frame{Payload: []byte("last chunk")}))
	assert.Equal(t, `{"assembled":true}`, string(sink.next(t).Payload))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesEmitted))
}

func TestPipeline_CodecOutcomes(t *testing.T) {
	sink := newChanSink()
	var next func() (*message.Message, error)
	c := codec.Func(func(context.Context, codec.Raw) (*message.Message, error) { return next() })
	p, m := testPipeline(t, Deps{Codec: c, Sink: sink})
	ctx := context.Background()

	next = func() (*message.Message, error) { return nil, nil }
	require.NoError(t, p.Run(ctx, Frame{Payload: []byte("{}")}))
	sink.none(t, 10*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(m.framesInvalid))

	next = func() (*message.Message, error) {
		return nil, errors.WrapInvalid(errors.ErrUnsupportedType, "test", "Decode", "decode")
	}
	assert.Error(t, p.Run(ctx, Frame{Payload: []byte("x")}))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.framesInvalid))

	next = func() (*message.Message, error) { return message.New("pipe", []byte("ok")), nil }
	sink.mu.Lock()
	sink.err = errors.ErrBufferClosed
	sink.mu.Unlock()
	err := p.Run(ctx, Frame{Payload: []byte("x")})
	assert.ErrorIs(t, err, errors.ErrBufferClosed)
	assert.Zero(t, testutil.ToFloat64(m.messagesEmitted))
}

func TestSplitFrames(t *testing.T) {
	tests := []struct {
		name    string
		newline bool
		input   string
		want    []string
	}{
		{"nul only", false, "a\x00b\x00", []string{"a", "b"}},
		{"newline kept without option", false, "a\nb\x00", []string{"a\nb"}},
		{"newline option", true, "a\nb\x00c", []string{"a", "b", "c"}},
		{"empty frames", false, "\x00\x00a\x00", []string{"", "", "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			split := splitFrames(tt.newline)
			data := []byte(tt.input)
			var got []string
			for len(data) > 0 {
				adv, tok, err := split(data, true)
				require.NoError(t, err)
				require.Positive(t, adv)
				got = append(got, string(tok))
				data = data[adv:]
			}
			assert.Equal(t, tt.want, got)
		})
	}

	adv, tok, err := splitFrames(false)([]byte("partial"), false)
	assert.NoError(t, err)
	assert.Zero(t, adv)
	assert.Nil(t, tok)
}
