package tlsutil

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
)

// Thumbprint calculates the x5t#S256 thumbprint of the certificate:
// the base64url encoding (no padding) of the SHA-256 hash over the DER encoding.
func Thumbprint(cert *x509.Certificate) string {
	h := sha256.Sum256(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// ParseCertificatePEM parses the first CERTIFICATE block from PEM data.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	for len(data) > 0 {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		return x509.ParseCertificate(block.Bytes)
	}
	return nil, fmt.Errorf("no certificate found in PEM data")
}

// LoadCertificatePEM reads a PEM file and parses the first certificate in it.
func LoadCertificatePEM(certFile string) (*x509.Certificate, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	return ParseCertificatePEM(data)
}
