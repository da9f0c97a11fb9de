package codec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/message"
	"github.com/c360/logstreams/metric"
	"github.com/c360/logstreams/reassembly"
)

// DefaultMaxPayloadSize bounds decompressed payloads
const DefaultMaxPayloadSize = 8 << 20

// Config controls the payload codec
type Config struct {
	MaxPayloadSize int64         `json:"max_payload_size" yaml:"max_payload_size"`
	LookupTimeout  time.Duration `json:"lookup_timeout" yaml:"lookup_timeout"`
}

// Deps holds runtime dependencies for PayloadCodec
type Deps struct {
	Resolver        Resolver // optional reverse-DNS enrichment
	Logger          *slog.Logger
	MetricsRegistry *metric.MetricsRegistry
}

// PayloadCodec inflates zlib or gzip frames, passes plain frames through
// and stamps the source address and host name on the message.
type PayloadCodec struct {
	cfg      Config
	resolver Resolver
	logger   *slog.Logger
	metrics  *codecMetrics
}

var _ Codec = (*PayloadCodec)(nil)

// NewPayloadCodec creates a codec
func NewPayloadCodec(cfg Config, deps Deps) (*PayloadCodec, error) {
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newCodecMetrics(deps.MetricsRegistry)
	if err != nil {
		return nil, errors.WrapFatal(err, "PayloadCodec", "NewPayloadCodec", "metrics registration")
	}
	return &PayloadCodec{
		cfg:      cfg,
		resolver: deps.Resolver,
		logger:   logger.With("component", "codec"),
		metrics:  m,
	}, nil
}

// Decode implements Codec
func (c *PayloadCodec) Decode(ctx context.Context, raw Raw) (*message.Message, error) {
	kind := reassembly.Classify(raw.Payload)

	var (
		payload []byte
		err     error
	)
	switch kind {
	case reassembly.TypeZlib:
		payload, err = c.inflate(raw.Payload, func(r io.Reader) (io.ReadCloser, error) { return zlib.NewReader(r) })
	case reassembly.TypeGzip:
		payload, err = c.inflate(raw.Payload, func(r io.Reader) (io.ReadCloser, error) { return gzip.NewReader(r) })
	case reassembly.TypeUncompressed:
		if int64(len(raw.Payload)) > c.cfg.MaxPayloadSize {
			err = errors.WrapInvalid(errors.ErrFrameTooLarge, "PayloadCodec", "Decode",
				fmt.Sprintf("payload of %d bytes", len(raw.Payload)))
		}
		payload = raw.Payload
	default:
		err = errors.WrapInvalid(errors.ErrUnsupportedType, "PayloadCodec", "Decode", "classify frame")
	}
	if err != nil {
		c.metrics.failed(kind)
		return nil, err
	}

	payload = bytes.TrimRight(payload, "\x00\r\n\t ")
	if len(payload) == 0 {
		return nil, nil
	}
	c.metrics.decoded(kind)

	opts := []message.Option{message.WithSource(raw.Remote)}
	if !raw.ReceivedAt.IsZero() {
		opts = append(opts, message.WithTime(raw.ReceivedAt))
	}
	if host := c.lookup(ctx, raw); host != "" {
		opts = append(opts, message.WithHostname(host))
	}
	return message.New(raw.Input, payload, opts...), nil
}

func (c *PayloadCodec) inflate(data []byte, open func(io.Reader) (io.ReadCloser, error)) ([]byte, error) {
	r, err := open(bytes.NewReader(data))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecompression, err),
			"PayloadCodec", "inflate", "open reader")
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxPayloadSize+1))
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrDecompression, err),
			"PayloadCodec", "inflate", "read payload")
	}
	if int64(len(out)) > c.cfg.MaxPayloadSize {
		return nil, errors.WrapInvalid(errors.ErrFrameTooLarge, "PayloadCodec", "inflate",
			fmt.Sprintf("decompressed payload exceeds %d bytes", c.cfg.MaxPayloadSize))
	}
	return out, nil
}

// lookup resolves the sender under its own timeout. Failures leave the
// host name empty.
func (c *PayloadCodec) lookup(ctx context.Context, raw Raw) string {
	ip := message.IPOf(raw.Remote)
	if c.resolver == nil || ip == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.LookupTimeout)
	defer cancel()

	start := time.Now()
	host, err := c.resolver.LookupAddr(ctx, ip)
	c.metrics.lookup(time.Since(start))
	if err != nil {
		c.logger.Debug("reverse lookup failed", "ip", ip.String(), "error", err)
		return ""
	}
	return host
}

type codecMetrics struct {
	decodedTotal  *prometheus.CounterVec
	failuresTotal *prometheus.CounterVec
	lookupSeconds prometheus.Histogram
}

func newCodecMetrics(registry *metric.MetricsRegistry) (*codecMetrics, error) {
	if registry == nil {
		return nil, nil
	}
	m := &codecMetrics{
		decodedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "codec",
			Name:      "decoded_total",
			Help:      "Frames decoded by compression type",
		}, []string{"type"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metric.Namespace,
			Subsystem: "codec",
			Name:      "failures_total",
			Help:      "Frames that could not be decoded",
		}, []string{"type"}),
		lookupSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metric.Namespace,
			Subsystem: "codec",
			Name:      "reverse_lookup_seconds",
			Help:      "Reverse DNS lookup latency",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),
	}
	if err := registry.RegisterCounterVec("codec", "decoded_total", m.decodedTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("codec", "failures_total", m.failuresTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("codec", "reverse_lookup_seconds", m.lookupSeconds); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *codecMetrics) decoded(t reassembly.FrameType) {
	if m != nil {
		m.decodedTotal.WithLabelValues(t.String()).Inc()
	}
}

func (m *codecMetrics) failed(t reassembly.FrameType) {
	if m != nil {
		m.failuresTotal.WithLabelValues(t.String()).Inc()
	}
}

func (m *codecMetrics) lookup(d time.Duration) {
	if m != nil {
		m.lookupSeconds.Observe(d.Seconds())
	}
}
