package transport

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/logstreams/metric"
)

// Metrics holds Prometheus metrics for one transport
type Metrics struct {
	openConnections prometheus.Gauge
	connections     prometheus.Counter
	framesReceived  prometheus.Counter
	bytesReceived   prometheus.Counter
	framesInvalid   prometheus.Counter
	messagesEmitted prometheus.Counter
	readErrors      prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry, name string) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	labels := prometheus.Labels{"input": name}
	counter := func(n, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metric.Namespace, Subsystem: "transport", Name: n, Help: help, ConstLabels: labels,
		})
	}

	m := &Metrics{
		openConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metric.Namespace, Subsystem: "transport", Name: "open_connections",
			Help: "Currently open client connections", ConstLabels: labels,
		}),
		connections:     counter("connections_total", "Accepted client connections"),
		framesReceived:  counter("frames_received_total", "Frames read from the network"),
		bytesReceived:   counter("bytes_received_total", "Bytes read from the network"),
		framesInvalid:   counter("frames_invalid_total", "Frames rejected by the pipeline"),
		messagesEmitted: counter("messages_emitted_total", "Messages handed to the sink"),
		readErrors:      counter("read_errors_total", "Socket read errors"),
	}

	service := "transport_" + name
	if err := registry.RegisterGauge(service, "open_connections", m.openConnections); err != nil {
		return nil, err
	}
	for metricName, c := range map[string]prometheus.Counter{
		"connections_total":      m.connections,
		"frames_received_total":  m.framesReceived,
		"bytes_received_total":   m.bytesReceived,
		"frames_invalid_total":   m.framesInvalid,
		"messages_emitted_total": m.messagesEmitted,
		"read_errors_total":      m.readErrors,
	} {
		if err := registry.RegisterCounter(service, metricName, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) received(n int) {
	if m != nil {
		m.framesReceived.Inc()
		m.bytesReceived.Add(float64(n))
	}
}

func (m *Metrics) invalid() {
	if m != nil {
		m.framesInvalid.Inc()
	}
}

func (m *Metrics) emitted() {
	if m != nil {
		m.messagesEmitted.Inc()
	}
}

func (m *Metrics) readError() {
	if m != nil {
		m.readErrors.Inc()
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
		m.openConnections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.openConnections.Dec()
	}
}
