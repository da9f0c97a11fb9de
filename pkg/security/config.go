// Package security holds the TLS settings shared by inputs and outbound clients
package security

// ClientAuth selects how a TLS listener treats client certificates
type ClientAuth string

const (
	ClientAuthDisabled ClientAuth = "disabled"
	ClientAuthOptional ClientAuth = "optional"
	ClientAuthRequired ClientAuth = "required"
)

// Valid reports whether the mode is one of the known values. Empty means disabled.
func (c ClientAuth) Valid() bool {
	switch c {
	case "", ClientAuthDisabled, ClientAuthOptional, ClientAuthRequired:
		return true
	}
	return false
}

// ServerTLSConfig wraps a listener in TLS. With no CertFile/KeyFile a
// self-signed certificate is generated for the listener and cached on disk.
type ServerTLSConfig struct {
	Enabled          bool       `json:"enabled" yaml:"enabled"`
	CertFile         string     `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile          string     `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	MinVersion       string     `json:"min_version,omitempty" yaml:"min_version,omitempty"` // "1.2" or "1.3"
	ClientAuth       ClientAuth `json:"client_auth,omitempty" yaml:"client_auth,omitempty"`
	ClientCAFiles    []string   `json:"client_ca_files,omitempty" yaml:"client_ca_files,omitempty"`
	AllowedClientCNs []string   `json:"allowed_client_cns,omitempty" yaml:"allowed_client_cns,omitempty"`
}

// ClientTLSConfig configures outbound TLS, e.g. to the NATS server.
// The system CA bundle is always trusted; CAFiles are added to it.
type ClientTLSConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`
	CAFiles            []string `json:"ca_files,omitempty" yaml:"ca_files,omitempty"`
	CertFile           string   `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile            string   `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	InsecureSkipVerify bool     `json:"insecure_skip_verify,omitempty" yaml:"insecure_skip_verify,omitempty"` // DEV/TEST ONLY
	MinVersion         string   `json:"min_version,omitempty" yaml:"min_version,omitempty"`
}
