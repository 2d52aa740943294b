package tlsutil

import (
	"crypto/tls"
	"fmt"
)

// ServerConfig holds the TLS settings for a listener that requires mutually authenticated clients.
type ServerConfig struct {
	// CertFile is the server certificate (PEM or .p12/.pfx)
	CertFile string `koanf:"certfile"`
	// KeyFile is the server key (PEM)
	KeyFile string `koanf:"keyfile"`
	// Password for encrypted key or .p12/.pfx file
	Password string `koanf:"password"`
	// ClientCAFile is the trust anchor client certificates must chain to
	ClientCAFile string `koanf:"clientcafile"`
}

func (c ServerConfig) Enabled() bool {
	return c.CertFile != ""
}

// CreateServerTLSConfig creates a TLS configuration that presents the server certificate
// and requires clients to present a certificate chaining to the configured client CA.
func CreateServerTLSConfig(config ServerConfig) (*tls.Config, error) {
	cert, err := LoadClientCertificate(Config{
		CertFile: config.CertFile,
		KeyFile:  config.KeyFile,
		Password: config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load server certificate: %w", err)
	}
	clientCAs, err := LoadCACertPool(config.ClientCAFile)
	if err != nil {
		return nil, err
	}
	if clientCAs == nil {
		return nil, fmt.Errorf("client CA file not specified, required for mutual TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
	}, nil
}
