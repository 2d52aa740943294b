package dsrs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
)

var _ component.Lifecycle = (*Component)(nil)

type Config struct {
	Enabled bool `koanf:"enabled"`
	// InternalSecret is the HMAC key shared with the enforcement point. Only tokens
	// minted by the local enforcement point are accepted.
	InternalSecret string `koanf:"internalsecret"`
}

func DefaultConfig() Config {
	return Config{}
}

// Component implements the data source's resource server. It sits behind the gateway
// and only trusts the internal token the enforcement point minted for this request:
// any other bearer is rejected. Resources are keyed by the mapped pseudonymous
// patient; scope enforcement happened upstream through the consent binding at token
// issuance.
type Component struct {
	config Config
}

func New(config Config) (*Component, error) {
	if config.InternalSecret == "" {
		return nil, fmt.Errorf("internalsecret must be configured when the resource server is enabled")
	}
	return &Component{config: config}, nil
}

func (c *Component) Start() error {
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	return nil
}

func (c *Component) RegisterHttpHandlers(_ *http.ServeMux, internalMux *http.ServeMux) {
	internalMux.HandleFunc("GET /fhir", c.handleSearch)
	internalMux.HandleFunc("GET /fhir/Observation", c.handleSearch)
}

// localClaims is the payload of the internal token.
type localClaims struct {
	Patient string
	Scope   string
}

func (c *Component) authenticate(r *http.Request) (*localClaims, error) {
	authorization := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return nil, fmt.Errorf("bearer token required")
	}
	token, err := jwt.Parse([]byte(raw),
		jwt.WithKey(jwa.HS256, []byte(c.config.InternalSecret)),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid internal token: %w", err)
	}
	claims := &localClaims{}
	if patient, ok := token.Get("patient"); ok {
		claims.Patient, _ = patient.(string)
	}
	if claims.Patient == "" {
		return nil, fmt.Errorf("internal token without patient")
	}
	if scope, ok := token.Get("scope"); ok {
		claims.Scope, _ = scope.(string)
	}
	return claims, nil
}

func (c *Component) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims, err := c.authenticate(r)
	if err != nil {
		slog.DebugContext(ctx, "Rejecting data request", logging.Error(err))
		fhirapi.SendErrorResponse(ctx, w, fhirapi.UnauthorizedError("invalid or missing internal token"))
		return
	}
	bundle, err := observationBundle(claims.Patient)
	if err != nil {
		fhirapi.SendErrorResponse(ctx, w, err)
		return
	}
	fhirapi.SendResponse(ctx, w, http.StatusOK, bundle)
}
