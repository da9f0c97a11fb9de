// Package logstreams is a log ingestion node for GELF style traffic.
//
// # Architecture
//
// Frames flow through four layers:
//
//	transport (UDP/TCP/TLS)  ->  reassembly  ->  codec  ->  processbuffer
//	        ^                                                     |
//	        |                                                     v
//	    throttle.Controller  <--  throttle bus  <--  processbuffer.Probe
//
//   - transport: listeners that read frames and run them through a Pipeline
//   - reassembly: rebuilds chunked messages and evicts incomplete ones
//   - codec: inflates zlib/gzip payloads and stamps source metadata
//   - processbuffer: bounded queue drained by output workers
//   - throttle: pauses reading while the processing side is overloaded
//
// Load snapshots travel over NATS when it is configured, or an in-process
// bus otherwise.
//
// # Ambient packages
//
//   - config: YAML/JSON loading with layered files and LOGSTREAMS_* overrides
//   - errors: classified errors (transient, invalid, fatal)
//   - metric: Prometheus registry and the /metrics and /healthz server
//   - health: component health aggregation
//   - natsclient: NATS connection with reconnect and circuit breaking
//
// The binary lives in cmd/logstreams.
package logstreams
