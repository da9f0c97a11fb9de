// Package tlsutil builds tls.Config values for inputs and outbound clients.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/c360/logstreams/errors"
	"github.com/c360/logstreams/pkg/security"
)

// LoadServerTLSConfig creates a tls.Config for a listener named name.
// Returns nil when TLS is disabled. Missing cert/key files select a
// self-signed certificate from SelfSigned; a pair where only one file exists
// is an error.
func LoadServerTLSConfig(name string, cfg security.ServerTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		cert tls.Certificate
		err  error
	)
	if !fileExists(cfg.CertFile) && !fileExists(cfg.KeyFile) {
		cert, err = SelfSigned(name)
		if err != nil {
			return nil, err
		}
	} else {
		cert, err = tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadServerTLSConfig", "load certificate")
		}
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   parseTLSVersion(cfg.MinVersion),
	}

	if err := applyClientAuth(tlsConfig, cfg); err != nil {
		return nil, err
	}
	return tlsConfig, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func applyClientAuth(tlsConfig *tls.Config, cfg security.ServerTLSConfig) error {
	switch cfg.ClientAuth {
	case "", security.ClientAuthDisabled:
		tlsConfig.ClientAuth = tls.NoClientCert
		return nil
	case security.ClientAuthOptional:
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	case security.ClientAuthRequired:
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		return errors.WrapFatal(errors.ErrInvalidConfig, "tlsutil", "applyClientAuth",
			fmt.Sprintf("unknown client auth mode %q", cfg.ClientAuth))
	}

	pool, err := loadPool(x509.NewCertPool(), cfg.ClientCAFiles, "applyClientAuth")
	if err != nil {
		return err
	}
	tlsConfig.ClientCAs = pool

	if len(cfg.AllowedClientCNs) > 0 {
		allowed := cfg.AllowedClientCNs
		tlsConfig.VerifyPeerCertificate = func(_ [][]byte, chains [][]*x509.Certificate) error {
			if len(chains) == 0 {
				// optional mode without a presented certificate
				if tlsConfig.ClientAuth == tls.VerifyClientCertIfGiven {
					return nil
				}
				return fmt.Errorf("no verified certificate chains")
			}
			return verifyAllowedClientCN(chains, allowed)
		}
	}
	return nil
}

func verifyAllowedClientCN(chains [][]*x509.Certificate, allowedCNs []string) error {
	if len(chains) == 0 || len(chains[0]) == 0 {
		return fmt.Errorf("no verified certificate chains")
	}
	cn := chains[0][0].Subject.CommonName
	for _, allowed := range allowedCNs {
		if cn == allowed {
			return nil
		}
	}
	return fmt.Errorf("client certificate CN '%s' not in allowed list", cn)
}

// LoadClientTLSConfig creates a tls.Config for outbound connections.
// Returns nil when TLS is disabled.
func LoadClientTLSConfig(cfg security.ClientTLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	rootCAs, err := x509.SystemCertPool()
	if err != nil {
		rootCAs = x509.NewCertPool()
	}
	rootCAs, err = loadPool(rootCAs, cfg.CAFiles, "LoadClientTLSConfig")
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		RootCAs:            rootCAs,
		MinVersion:         parseTLSVersion(cfg.MinVersion),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", "LoadClientTLSConfig", "load client certificate")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

func loadPool(pool *x509.CertPool, files []string, op string) (*x509.CertPool, error) {
	for _, caFile := range files {
		caPEM, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.WrapFatal(err, "tlsutil", op, fmt.Sprintf("read CA file %s", caFile))
		}
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.WrapFatal(fmt.Errorf("invalid PEM data"), "tlsutil", op,
				fmt.Sprintf("parse CA certificate from %s", caFile))
		}
	}
	return pool, nil
}

// parseTLSVersion returns tls.VersionTLS12 if empty or unknown
func parseTLSVersion(version string) uint16 {
	if version == "1.3" {
		return tls.VersionTLS13
	}
	return tls.VersionTLS12
}
