package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/c360/logstreams/errors"
)

const selfSignedValidity = 365 * 24 * time.Hour

var (
	unsafeName = regexp.MustCompile(`[^a-zA-Z0-9._-]`)
	// serializes generation so concurrent listeners with the same name share one pair
	selfSignedMu sync.Mutex
)

// CacheDir returns the directory holding the self-signed pair for name
func CacheDir(name string) string {
	return filepath.Join(os.TempDir(), "logstreams-tls", unsafeName.ReplaceAllString(name, "_"))
}

// SelfSigned returns a self-signed certificate for the listener name. The
// pair is reused from CacheDir(name) when present and still valid, otherwise
// generated and written there. Failure is fatal to the caller.
func SelfSigned(name string) (tls.Certificate, error) {
	selfSignedMu.Lock()
	defer selfSignedMu.Unlock()

	dir := CacheDir(name)
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")

	if cert, err := tls.LoadX509KeyPair(certFile, keyFile); err == nil {
		if leaf, err := x509.ParseCertificate(cert.Certificate[0]); err == nil && time.Now().Before(leaf.NotAfter) {
			return cert, nil
		}
	}

	certPEM, keyPEM, err := generateSelfSigned(name)
	if err != nil {
		return tls.Certificate{}, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrCertificateGeneration, err), "tlsutil", "SelfSigned", "generate certificate")
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return tls.Certificate{}, errors.WrapFatal(err, "tlsutil", "SelfSigned", "create cache dir")
	}
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		return tls.Certificate{}, errors.WrapFatal(err, "tlsutil", "SelfSigned", "write certificate")
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return tls.Certificate{}, errors.WrapFatal(err, "tlsutil", "SelfSigned", "write key")
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errors.WrapFatal(err, "tlsutil", "SelfSigned", "parse generated pair")
	}
	return cert, nil
}

func generateSelfSigned(name string) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 127))
	if err != nil {
		return nil, nil, err
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "localhost"
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname, Organization: []string{"logstreams " + name}},
		DNSNames:              []string{hostname, "localhost"},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(selfSignedValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, nil, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, err
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM, nil
}
