// Package metric owns the Prometheus registry shared by every logstreams
// component.
//
// Components receive a *MetricsRegistry through their Deps struct and
// register their own collectors under a service name:
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{...})
//	registry.RegisterCounter("udp_12201", "frames_received", counter)
//
// A nil registry disables metrics for that component (nil input = nil
// feature). Core platform metrics live in Metrics and are registered once by
// NewMetricsRegistry. Server exposes the registry over HTTP together with a
// health endpoint.
package metric
