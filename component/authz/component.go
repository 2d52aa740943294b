package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/cmd/core"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

var _ component.Lifecycle = (*Component)(nil)

const (
	tokenEndpointPath         = "/token"
	introspectionEndpointPath = "/introspect"
)

// Directory is the view on the resource store the authorization server needs for its
// consent, actor and resource binding decisions.
type Directory interface {
	Consent(id string) (*fhir.Consent, bool)
	HealthcareService(id string) (*fhir.HealthcareService, bool)
	Organization(id string) (*fhir.Organization, bool)
	// EndpointAddressesByOrganization returns the addresses of all Endpoints managed by the organization.
	EndpointAddressesByOrganization(organizationID string) []string
}

type Config struct {
	Enabled bool `koanf:"enabled"`
	// PublicURL is the externally reachable base URL of this authorization server,
	// e.g. "https://pcm.example.org:8443". The token endpoint audience check accepts
	// both the http and https variant of this host, to tolerate TLS-terminating proxies.
	PublicURL string `koanf:"publicurl"`
	// Clients are the statically registered OAuth2 clients.
	Clients []Client `koanf:"clients"`
}

func DefaultConfig() Config {
	return Config{}
}

// Component implements the PCM authorization server: an mTLS-required token endpoint
// issuing short-lived opaque tokens with holder-of-key and consent binding, and a
// token introspection endpoint with audience binding to the calling enforcement point.
type Component struct {
	config            Config
	clients           map[string]Client
	tokens            *TokenStore
	directory         Directory
	acceptedAudiences []string
	devMode           bool
}

func New(config Config, directory Directory, coreConfig core.Config) (*Component, error) {
	clients, err := loadClients(config.Clients)
	if err != nil {
		return nil, err
	}
	acceptedAudiences, err := acceptedTokenAudiences(config.PublicURL)
	if err != nil {
		return nil, err
	}
	return &Component{
		config:            config,
		clients:           clients,
		tokens:            NewTokenStore(),
		directory:         directory,
		acceptedAudiences: acceptedAudiences,
		devMode:           !coreConfig.StrictMode,
	}, nil
}

// TokenStore exposes the token store so the resource server can authenticate bearer tokens.
func (c *Component) TokenStore() *TokenStore {
	return c.tokens
}

func (c *Component) Start() error {
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	return nil
}

func (c *Component) RegisterHttpHandlers(publicMux *http.ServeMux, _ *http.ServeMux) {
	publicMux.HandleFunc("POST "+tokenEndpointPath, c.handleToken)
	publicMux.HandleFunc("POST "+introspectionEndpointPath, c.handleIntrospect)
}

// acceptedTokenAudiences derives the set of token endpoint URLs accepted as assertion
// audience from the configured public URL.
func acceptedTokenAudiences(publicURL string) ([]string, error) {
	parsed, err := url.Parse(publicURL)
	if err != nil {
		return nil, err
	}
	audiences := []string{
		"https://" + parsed.Host + tokenEndpointPath,
		"http://" + parsed.Host + tokenEndpointPath,
	}
	configured := strings.TrimSuffix(publicURL, "/") + tokenEndpointPath
	for _, audience := range audiences {
		if audience == configured {
			return audiences, nil
		}
	}
	return append(audiences, configured), nil
}

// peerCertificatePresent reports whether the request arrived over mutual TLS.
// The TLS layer already verified the chain against the trust anchor.
func (c *Component) peerCertificatePresent(r *http.Request) bool {
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		return true
	}
	// Outside strict mode plain connections are tolerated, for local setups and tests.
	return c.devMode
}

func writeOAuthError(ctx context.Context, w http.ResponseWriter, status int, oauthErr *oidc.Error, description string) {
	oauthErr.Description = description
	slog.DebugContext(ctx, "Rejecting token request", slog.String("error", string(oauthErr.ErrorType)), slog.String("description", description))
	writeJSON(ctx, w, status, oauthErr)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	data, err := json.Marshal(body)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to marshal response", logging.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "Failed to write response", logging.Error(err))
	}
}
