// Package config loads the logstreams node configuration.
//
// Configuration is YAML (JSON is accepted as a subset). Files are applied as
// layers on top of Default(): later layers override the fields they set.
// Environment variables with the LOGSTREAMS_ prefix override the result.
// Durations are written as strings such as "5s" or "250ms".
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/logstreams/codec"
	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/pkg/security"
	"github.com/c360/logstreams/processbuffer"
	"github.com/c360/logstreams/reassembly"
	"github.com/c360/logstreams/throttle"
	"github.com/c360/logstreams/transport"
)

// Config is the complete node configuration
type Config struct {
	Inputs     []transport.Config   `json:"inputs" yaml:"inputs"`
	Aggregator reassembly.Config    `json:"aggregator" yaml:"aggregator"`
	Codec      codec.Config         `json:"codec" yaml:"codec"`
	Processing processbuffer.Config `json:"processing" yaml:"processing"`
	Throttle   ThrottleConfig       `json:"throttle" yaml:"throttle"`
	DNS        codec.DNSConfig      `json:"dns" yaml:"dns"`
	NATS       NATSConfig           `json:"nats" yaml:"nats"`
	HTTP       HTTPConfig           `json:"http" yaml:"http"`
}

// ThrottleConfig selects where load snapshots travel and the decision limits
type ThrottleConfig struct {
	Subject    string              `json:"subject" yaml:"subject"`
	Thresholds throttle.Thresholds `json:"thresholds" yaml:"thresholds"`
}

// NATSConfig defines the NATS connection. When disabled, throttle state
// stays in process and processing output must be "log".
type NATSConfig struct {
	Enabled       bool                     `json:"enabled" yaml:"enabled"`
	URL           string                   `json:"url" yaml:"url"`
	Name          string                   `json:"name,omitempty" yaml:"name,omitempty"`
	Username      string                   `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string                   `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string                   `json:"token,omitempty" yaml:"token,omitempty"`
	MaxReconnects int                      `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration            `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	TLS           security.ClientTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// HTTPConfig exposes metrics and health
type HTTPConfig struct {
	Addr        string `json:"addr" yaml:"addr"`
	MetricsPath string `json:"metrics_path,omitempty" yaml:"metrics_path,omitempty"`
}

// Default returns a configuration with one GELF-style UDP input on 12201
func Default() *Config {
	return &Config{
		Inputs: []transport.Config{{
			Name:              "gelf-udp",
			Type:              transport.TypeUDP,
			Bind:              "0.0.0.0",
			Port:              12201,
			ThrottlingAllowed: true,
		}},
		Aggregator: reassembly.DefaultConfig(),
		Codec:      codec.Config{MaxPayloadSize: codec.DefaultMaxPayloadSize, LookupTimeout: 2 * time.Second},
		Processing: processbuffer.DefaultConfig(),
		Throttle: ThrottleConfig{
			Subject:    throttle.DefaultSubject,
			Thresholds: throttle.DefaultThresholds(),
		},
		DNS: codec.DefaultDNSConfig(),
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":9090", MetricsPath: "/metrics"},
	}
}

// Validate checks the whole configuration and fills per-input defaults
func (c *Config) Validate() error {
	if len(c.Inputs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "at least one input required")
	}

	names := make(map[string]bool, len(c.Inputs))
	ports := make(map[string]string, len(c.Inputs))
	for i := range c.Inputs {
		in := c.Inputs[i].WithDefaults()
		if err := in.Validate(); err != nil {
			return errors.Wrap(err, "config", "Validate", fmt.Sprintf("inputs[%d]", i))
		}
		if names[in.Name] {
			return errors.WrapInvalid(fmt.Errorf("%w: duplicate input name %q", errors.ErrInvalidConfig, in.Name),
				"config", "Validate", "inputs")
		}
		names[in.Name] = true

		if in.Port != 0 {
			key := fmt.Sprintf("%s/%s", in.Type, in.Address())
			if other, taken := ports[key]; taken {
				return errors.WrapInvalid(fmt.Errorf("%w: inputs %q and %q share %s", errors.ErrInvalidConfig, other, in.Name, key),
					"config", "Validate", "inputs")
			}
			ports[key] = in.Name
		}
		c.Inputs[i] = in
	}

	if err := c.Aggregator.Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "aggregator")
	}
	if err := c.Processing.Validate(); err != nil {
		return errors.Wrap(err, "config", "Validate", "processing")
	}
	if c.Processing.Output == "nats" && !c.NATS.Enabled {
		return errors.WrapInvalid(fmt.Errorf("%w: processing.output nats needs nats.enabled", errors.ErrInvalidConfig),
			"config", "Validate", "processing")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.url")
	}
	if c.HTTP.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "http.addr")
	}
	return nil
}

// String renders the configuration as YAML with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}

// Loader applies configuration layers
type Loader struct {
	layers    []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader reading LOGSTREAMS_* overrides
func NewLoader() *Loader {
	return &Loader{envPrefix: "LOGSTREAMS", lookupEnv: os.LookupEnv}
}

// AddLayer appends a file applied after the previous ones
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// Load applies defaults, every layer and environment overrides, then
// validates.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()
	for _, path := range l.layers {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "Load", "read "+path)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", "parse "+path)
		}
	}
	l.applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads a single file over the defaults
func LoadFile(path string) (*Config, error) {
	l := NewLoader()
	l.AddLayer(path)
	return l.Load()
}

// Parse decodes YAML or JSON into cfg. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "config", "Parse", "decode")
	}
	return nil
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val, ok := l.lookupEnv(l.envPrefix + "_NATS_URL"); ok && val != "" {
		cfg.NATS.URL = val
		cfg.NATS.Enabled = true
	}
	if val, ok := l.lookupEnv(l.envPrefix + "_NATS_TOKEN"); ok && val != "" {
		cfg.NATS.Token = val
	}
	if val, ok := l.lookupEnv(l.envPrefix + "_HTTP_ADDR"); ok && val != "" {
		cfg.HTTP.Addr = val
	}
}
