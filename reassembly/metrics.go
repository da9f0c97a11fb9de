package reassembly

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/logstreams/metric"
)

// Metrics holds Prometheus metrics for one engine
type Metrics struct {
	chunks          prometheus.Counter
	completed       prometheus.Counter
	expiredMessages prometheus.Counter
	expiredChunks   prometheus.Counter
	duplicates      prometheus.Counter
	invalid         prometheus.Counter
	late            prometheus.Counter
	waiting         prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	opts := func(n, help string) prometheus.CounterOpts {
		return prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "reassembly",
			Name:        n,
			Help:        help,
			ConstLabels: prometheus.Labels{"input": name},
		}
	}

	m := &Metrics{
		chunks:          prometheus.NewCounter(opts("chunks_total", "Chunked frames accepted")),
		completed:       prometheus.NewCounter(opts("complete_messages_total", "Messages completed from chunks")),
		expiredMessages: prometheus.NewCounter(opts("expired_messages_total", "Partial messages dropped after the validity window")),
		expiredChunks:   prometheus.NewCounter(opts("expired_chunks_total", "Chunks dropped with expired messages")),
		duplicates:      prometheus.NewCounter(opts("duplicate_chunks_total", "Chunks for an already filled slot")),
		invalid:         prometheus.NewCounter(opts("invalid_frames_total", "Frames rejected as malformed or unsupported")),
		late:            prometheus.NewCounter(opts("late_chunks_total", "Chunks for messages already dropped as expired")),
		waiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "reassembly",
			Name:        "waiting_messages",
			Help:        "Partial messages currently held",
			ConstLabels: prometheus.Labels{"input": name},
		}),
	}

	service := "reassembly_" + name
	for metricName, c := range map[string]prometheus.Counter{
		"chunks_total":            m.chunks,
		"complete_messages_total": m.completed,
		"expired_messages_total":  m.expiredMessages,
		"expired_chunks_total":    m.expiredChunks,
		"duplicate_chunks_total":  m.duplicates,
		"invalid_frames_total":    m.invalid,
		"late_chunks_total":       m.late,
	} {
		if err := registry.RegisterCounter(service, metricName, c); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterGauge(service, "waiting_messages", m.waiting); err != nil {
		return nil, err
	}
	return m, nil
}
