package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by all inputs
type Metrics struct {
	// Transport lifecycle
	TransportState *prometheus.GaugeVec

	// Pipeline metrics
	MessagesEmitted    *prometheus.CounterVec
	MessagesDropped    *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TransportState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "transport",
				Name:      "state",
				Help:      "Transport state (0=stopped, 1=launching, 2=running, 3=stopping)",
			},
			[]string{"input"},
		),

		MessagesEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "emitted_total",
				Help:      "Structured messages handed to the processing buffer",
			},
			[]string{"input"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Messages dropped before reaching the processing buffer",
			},
			[]string{"input", "reason"},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "processing",
				Name:      "duration_seconds",
				Help:      "Frame processing duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"input", "stage"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"component", "type"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSRTT: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "rtt_milliseconds",
				Help:      "NATS round-trip time in milliseconds",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (c *Metrics) mustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.TransportState,
		c.MessagesEmitted,
		c.MessagesDropped,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
	)
}

// RecordTransportState updates the lifecycle gauge of an input
func (c *Metrics) RecordTransportState(input string, state int) {
	c.TransportState.WithLabelValues(input).Set(float64(state))
}

// RecordMessageEmitted increments the emitted message counter
func (c *Metrics) RecordMessageEmitted(input string) {
	c.MessagesEmitted.WithLabelValues(input).Inc()
}

// RecordMessageDropped increments the dropped message counter
func (c *Metrics) RecordMessageDropped(input, reason string) {
	c.MessagesDropped.WithLabelValues(input, reason).Inc()
}

// RecordProcessingDuration records time spent in a pipeline stage
func (c *Metrics) RecordProcessingDuration(input, stage string, duration time.Duration) {
	c.ProcessingDuration.WithLabelValues(input, stage).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(component, errorType string) {
	c.ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
