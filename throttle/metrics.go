package throttle

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/logstreams/metric"
)

type controllerMetrics struct {
	transitions *prometheus.CounterVec
	throttled   prometheus.Gauge
}

func newControllerMetrics(registry *metric.MetricsRegistry, name string) (*controllerMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &controllerMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "throttle",
			Name:        "transitions_total",
			Help:        "Throttle state transitions by target state",
			ConstLabels: prometheus.Labels{"input": name},
		}, []string{"to"}),
		throttled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metric.Namespace,
			Subsystem:   "throttle",
			Name:        "throttled",
			Help:        "Whether the input is currently throttled (0/1)",
			ConstLabels: prometheus.Labels{"input": name},
		}),
	}

	service := "throttle_" + name
	if err := registry.RegisterCounterVec(service, "transitions_total", m.transitions); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge(service, "throttled", m.throttled); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *controllerMetrics) record(throttled bool) {
	if m == nil {
		return
	}
	if throttled {
		m.transitions.WithLabelValues("throttled").Inc()
		m.throttled.Set(1)
		return
	}
	m.transitions.WithLabelValues("unthrottled").Inc()
	m.throttled.Set(0)
}
