package transport

import (
	"fmt"
	"net"
	"strconv"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/pkg/security"
)

// Type selects the listener kind
type Type string

const (
	TypeUDP Type = "udp"
	TypeTCP Type = "tcp"
)

// Defaults for zero-valued Config fields
const (
	DefaultRecvBufferSize = 1 << 20
	DefaultMaxFrameSize   = 2 << 20
	DefaultWorkers        = 4
	DefaultQueueSize      = 1024
)

// Config describes one input
type Config struct {
	Name              string                   `json:"name" yaml:"name"`
	Type              Type                     `json:"type" yaml:"type"`
	Bind              string                   `json:"bind" yaml:"bind"`
	Port              int                      `json:"port" yaml:"port"`
	RecvBufferSize    int                      `json:"recv_buffer_size" yaml:"recv_buffer_size"`
	Workers           int                      `json:"workers" yaml:"workers"`
	QueueSize         int                      `json:"queue_size" yaml:"queue_size"`
	MaxFrameSize      int                      `json:"max_frame_size" yaml:"max_frame_size"`
	NewlineDelimiter  bool                     `json:"newline_delimiter" yaml:"newline_delimiter"`
	TCPKeepAlive      bool                     `json:"tcp_keepalive" yaml:"tcp_keepalive"`
	ThrottlingAllowed bool                     `json:"throttling_allowed" yaml:"throttling_allowed"`
	TLS               security.ServerTLSConfig `json:"tls" yaml:"tls"`
}

// WithDefaults fills zero fields
func (c Config) WithDefaults() Config {
	if c.Bind == "" {
		c.Bind = "0.0.0.0"
	}
	if c.RecvBufferSize <= 0 {
		c.RecvBufferSize = DefaultRecvBufferSize
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	return c
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "transport", "Validate", "input name required")
	}
	if c.Type != TypeUDP && c.Type != TypeTCP {
		return errors.WrapInvalid(fmt.Errorf("%w: type %q", errors.ErrInvalidConfig, c.Type),
			"transport", "Validate", "input "+c.Name)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.WrapInvalid(fmt.Errorf("%w: port %d", errors.ErrInvalidConfig, c.Port),
			"transport", "Validate", "input "+c.Name)
	}
	if c.Type == TypeUDP && c.TLS.Enabled {
		return errors.WrapInvalid(fmt.Errorf("%w: tls is not supported on udp", errors.ErrInvalidConfig),
			"transport", "Validate", "input "+c.Name)
	}
	if !c.TLS.ClientAuth.Valid() {
		return errors.WrapInvalid(fmt.Errorf("%w: client_auth %q", errors.ErrInvalidConfig, c.TLS.ClientAuth),
			"transport", "Validate", "input "+c.Name)
	}
	return nil
}

// Address returns bind:port
func (c Config) Address() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}
