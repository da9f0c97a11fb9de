// Package errors provides standardized error handling for logstreams components.
//
// # Overview
//
// Errors fall into three classes: Transient (temporary, retryable), Invalid
// (bad input or configuration, do not retry) and Fatal (unrecoverable, stop
// the component). Transports use the class to decide whether a socket error
// ends a read loop, the config loader returns Invalid errors, and TLS setup
// failures are Fatal so a listener never silently falls back to plaintext.
//
// # Error Wrapping Pattern
//
// All wrapping follows the format:
//
//	"component.method: action failed: %w"
//
// Three wrappers set the class explicitly:
//
//	errors.WrapTransient(err, "udp-transport", "Launch", "socket binding")
//	errors.WrapInvalid(err, "Config", "Validate", "input port")
//	errors.WrapFatal(err, "tlsutil", "ServerConfig", "self-signed certificate")
//
// Wrap() adds context without changing the class of the wrapped error.
//
// # Standard Error Variables
//
// Use the package sentinels for common conditions so callers can match with
// errors.Is:
//
//	if errors.Is(err, errors.ErrRelaunch) {
//	    // transports are single-use
//	}
package errors
