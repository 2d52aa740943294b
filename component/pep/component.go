package pep

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/tlsutil"
)

var _ component.Lifecycle = (*Component)(nil)

// LocalTokenHeader carries the minted internal token back to the gateway, which
// rewrites it into the Authorization header of the upstream request.
const LocalTokenHeader = "X-Local-Token"

// DefaultClientCertHeader is where the gateway passes the URL-escaped PEM client
// certificate of the external caller.
const DefaultClientCertHeader = "X-Client-Cert"

type Config struct {
	Enabled bool `koanf:"enabled"`
	// PCMBaseURL is the public base URL of the PCM authorization server.
	PCMBaseURL string `koanf:"pcmbaseurl"`
	// FHIRBaseURL is the PCM resource server base used for SMART discovery.
	// Defaults to PCMBaseURL + "/r4".
	FHIRBaseURL string `koanf:"fhirbaseurl"`
	// IntrospectionEndpoint is the fallback used when discovery fails.
	// Defaults to PCMBaseURL + "/introspect".
	IntrospectionEndpoint string `koanf:"introspectionendpoint"`
	// ClientID is the enforcement point's own registered client at the PCM.
	ClientID string `koanf:"clientid"`
	// TLS holds the client certificate for the mutually-authenticated PCM connection.
	// The same certificate signs the client assertions.
	TLS tlsutil.Config `koanf:"tls"`
	// InternalSecret is the HMAC key shared with the local resource server.
	InternalSecret string `koanf:"internalsecret"`
	// ClientCertHeader is the gateway header carrying the external caller's certificate.
	ClientCertHeader string `koanf:"clientcertheader"`
}

func DefaultConfig() Config {
	return Config{
		ClientCertHeader: DefaultClientCertHeader,
	}
}

// Component implements the data source's policy enforcement point. The gateway issues
// a sub-request to /auth-check for every inbound data request; the enforcement point
// introspects the presented token at the PCM, translates the patient identity into the
// local pseudonymous identifier and mints the internal token for the resource server.
type Component struct {
	config     Config
	httpClient *http.Client
	ownToken   *cachedToken
	discovery  *discoveryCache
}

// introspectionResult is the PCM's introspection response.
type introspectionResult struct {
	Active         bool            `json:"active"`
	Subject        string          `json:"sub"`
	ClientID       string          `json:"client_id"`
	OrganizationID string          `json:"organization_id"`
	Scope          string          `json:"scope"`
	Issuer         string          `json:"iss"`
	Audience       string          `json:"aud"`
	Patient        string          `json:"patient"`
	FHIRContext    json.RawMessage `json:"fhirContext"`
	Confirmation   struct {
		X5tS256 string `json:"x5t#S256"`
	} `json:"cnf"`
	IssuedAt  int64 `json:"iat"`
	ExpiresAt int64 `json:"exp"`
}

func New(config Config) (*Component, error) {
	if config.PCMBaseURL == "" {
		return nil, fmt.Errorf("pcmbaseurl must be configured when the enforcement point is enabled")
	}
	if config.InternalSecret == "" {
		return nil, fmt.Errorf("internalsecret must be configured when the enforcement point is enabled")
	}
	base := strings.TrimSuffix(config.PCMBaseURL, "/")
	config.PCMBaseURL = base
	if config.FHIRBaseURL == "" {
		config.FHIRBaseURL = base + "/r4"
	}
	if config.IntrospectionEndpoint == "" {
		config.IntrospectionEndpoint = base + "/introspect"
	}
	if config.ClientCertHeader == "" {
		config.ClientCertHeader = DefaultClientCertHeader
	}

	tlsConfig, err := tlsutil.CreateTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("failed to load enforcement point client certificate: %w", err)
	}
	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
	return &Component{
		config:     config,
		httpClient: httpClient,
		ownToken: &cachedToken{
			source: &pcmTokenSource{
				clientID:      config.ClientID,
				tokenEndpoint: base + "/token",
				resource:      base,
				scope:         []string{coding.IntrospectionScope},
				tlsConfig:     tlsConfig,
			},
		},
		discovery: &discoveryCache{},
	}, nil
}

func (c *Component) Start() error {
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	return nil
}

func (c *Component) RegisterHttpHandlers(_ *http.ServeMux, internalMux *http.ServeMux) {
	internalMux.HandleFunc("GET /auth-check", c.handleAuthCheck)
}

func (c *Component) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	authorization := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		http.Error(w, "bearer token required", http.StatusUnauthorized)
		return
	}

	result, err := c.introspect(ctx, token)
	if err != nil {
		slog.ErrorContext(ctx, "Token introspection failed", logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !result.Active {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	c.checkPeerThumbprint(r, result)

	localToken, err := c.mintLocalToken(*result)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to mint local token", logging.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set(LocalTokenHeader, localToken)
	w.WriteHeader(http.StatusOK)
}

// introspect resolves the token at the PCM. When the PCM rejects the enforcement
// point's own access token, the cached token is dropped and the call retried once
// with a fresh one.
func (c *Component) introspect(ctx context.Context, token string) (*introspectionResult, error) {
	result, status, err := c.introspectOnce(ctx, token)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.ownToken.Invalidate()
		result, _, err = c.introspectOnce(ctx, token)
	}
	return result, err
}

func (c *Component) introspectOnce(ctx context.Context, token string) (*introspectionResult, int, error) {
	ownToken, err := c.ownToken.Get()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to obtain own access token: %w", err)
	}
	endpoint := c.introspectionEndpoint(ctx)
	form := url.Values{"token": {token}}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, err
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	request.Header.Set("Authorization", "Bearer "+ownToken)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, 0, fmt.Errorf("introspection request failed: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, response.StatusCode, fmt.Errorf("introspection endpoint returned status %d", response.StatusCode)
	}
	var result introspectionResult
	if err := json.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, response.StatusCode, fmt.Errorf("failed to decode introspection response: %w", err)
	}
	return &result, response.StatusCode, nil
}

// checkPeerThumbprint compares the gateway-forwarded client certificate against the
// token's holder-of-key confirmation. The registered certificate at the PCM is
// authoritative, so a mismatch is logged but does not block the request.
func (c *Component) checkPeerThumbprint(r *http.Request, result *introspectionResult) {
	ctx := r.Context()
	escaped := r.Header.Get(c.config.ClientCertHeader)
	if escaped == "" {
		return
	}
	pemData, err := url.QueryUnescape(escaped)
	if err != nil {
		slog.WarnContext(ctx, "Unparseable client certificate header from gateway", logging.Error(err))
		return
	}
	cert, err := tlsutil.ParseCertificatePEM([]byte(pemData))
	if err != nil {
		slog.WarnContext(ctx, "Unparseable client certificate from gateway", logging.Error(err))
		return
	}
	thumbprint := tlsutil.Thumbprint(cert)
	if thumbprint != result.Confirmation.X5tS256 {
		slog.WarnContext(ctx, "Presented client certificate does not match token confirmation",
			logging.ClientID(result.ClientID),
			slog.String("presented_thumbprint", thumbprint),
			slog.String("cnf_thumbprint", result.Confirmation.X5tS256))
	}
}
