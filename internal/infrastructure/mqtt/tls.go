package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/david-collett/reclaimenergy/internal/infrastructure/config"
)

// LoadTLSConfig builds the mutual-TLS configuration from the three
// certificate artifacts.
//
// The broker certificate is verified against the CA file only and the
// connection is pinned to TLS 1.2.
//
// Parameters:
//   - certs: Paths of the CA certificate, client certificate and private key
//
// Returns:
//   - *tls.Config: Configuration ready for the paho client options
//   - error: ErrTLSConfig wrapping the file or parse failure
func LoadTLSConfig(certs config.CertificatesConfig) (*tls.Config, error) {
	caPEM, err := os.ReadFile(certs.CACert)
	if err != nil {
		return nil, fmt.Errorf("%w: reading CA certificate: %w", ErrTLSConfig, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("%w: no certificates found in %s", ErrTLSConfig, certs.CACert)
	}

	clientCert, err := tls.LoadX509KeyPair(certs.ClientCert, certs.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: loading client key pair: %w", ErrTLSConfig, err)
	}

	return &tls.Config{
		MinVersion:   tlsVersion,
		MaxVersion:   tlsVersion,
		RootCAs:      pool,
		Certificates: []tls.Certificate{clientCert},
	}, nil
}
