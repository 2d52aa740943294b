package authz

import (
	"crypto/x509"
	"fmt"
	"slices"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/tlsutil"
)

// Client is a statically registered OAuth2 client. Clients are seeded from
// configuration at boot and are not mutable through the API.
type Client struct {
	// ID is the client_id, which must equal the iss/sub of the client's JWT assertions.
	ID string `koanf:"id"`
	// CertFile is the PEM certificate whose public key verifies the client's assertions
	// and whose thumbprint the issued tokens are bound to.
	CertFile string `koanf:"certfile"`
	// OrganizationID is the id of the Organization this client acts for.
	OrganizationID string `koanf:"organizationid"`
	// Scopes the client is allowed to request.
	Scopes []string `koanf:"scopes"`

	certificate *x509.Certificate
}

// Certificate returns the client's registered certificate.
func (c Client) Certificate() *x509.Certificate {
	return c.certificate
}

// Thumbprint returns the x5t#S256 thumbprint of the registered certificate.
func (c Client) Thumbprint() string {
	return tlsutil.Thumbprint(c.certificate)
}

// AllowsScope reports whether the client may request the given scope.
func (c Client) AllowsScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

func loadClients(configs []Client) (map[string]Client, error) {
	clients := make(map[string]Client)
	for _, client := range configs {
		if _, exists := clients[client.ID]; exists {
			return nil, fmt.Errorf("duplicate client_id: %s", client.ID)
		}
		cert, err := tlsutil.LoadCertificatePEM(client.CertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load certificate for client %s: %w", client.ID, err)
		}
		client.certificate = cert
		clients[client.ID] = client
	}
	return clients, nil
}
