package pcmrs

import (
	"context"
	"errors"
	"net/http"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/cmd/core"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
)

var _ component.Lifecycle = (*Component)(nil)

// ErrNotFound is returned by store updates targeting an absent resource.
var ErrNotFound = errors.New("resource not found")

const basePath = "/r4"

type Config struct {
	Enabled bool `koanf:"enabled"`
	// AuthorizationBaseURL is the public base URL of the authorization server, used in
	// the SMART configuration discovery document.
	AuthorizationBaseURL string `koanf:"authorizationbaseurl"`
	// BootstrapFile is a FHIR Bundle JSON document seeding the store at start.
	BootstrapFile string `koanf:"bootstrapfile"`
}

func DefaultConfig() Config {
	return Config{}
}

// Component implements the PCM resource server: a FHIR REST surface over the
// organization/endpoint/healthcare-service/consent graph with per-resource
// authorization rules. The same routes are registered twice: on the public
// mutually-authenticated listener with bearer authentication, and on the internal
// listener where callers act as the PCM administrator.
type Component struct {
	config  Config
	store   *Store
	authn   BearerAuthenticator
	devMode bool
}

func New(config Config, store *Store, authn BearerAuthenticator, coreConfig core.Config) *Component {
	return &Component{
		config:  config,
		store:   store,
		authn:   authn,
		devMode: !coreConfig.StrictMode,
	}
}

func (c *Component) Store() *Store {
	return c.store
}

func (c *Component) Start() error {
	if c.config.BootstrapFile != "" {
		if err := c.loadBootstrap(c.config.BootstrapFile); err != nil {
			return err
		}
	}
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	return nil
}

func (c *Component) RegisterHttpHandlers(publicMux *http.ServeMux, internalMux *http.ServeMux) {
	// Discovery endpoints are served without authentication.
	publicMux.HandleFunc("GET "+basePath+"/.well-known/smart-configuration", c.handleSMARTConfiguration)
	publicMux.HandleFunc("GET "+basePath+"/metadata", c.handleMetadata)
	internalMux.HandleFunc("GET "+basePath+"/.well-known/smart-configuration", c.handleSMARTConfiguration)
	internalMux.HandleFunc("GET "+basePath+"/metadata", c.handleMetadata)

	c.registerFHIRRoutes(publicMux, c.publicAuth)
	c.registerFHIRRoutes(internalMux, c.internalAuth)
}

func (c *Component) registerFHIRRoutes(mux *http.ServeMux, authenticate authFunc) {
	mux.HandleFunc("GET "+basePath+"/Organization", withPrincipal(authenticate, c.handleSearchOrganization))
	mux.HandleFunc("GET "+basePath+"/Organization/{id}", withPrincipal(authenticate, c.handleReadOrganization))
	mux.HandleFunc("POST "+basePath+"/Organization", withPrincipal(authenticate, c.handleCreateOrganization))
	mux.HandleFunc("PUT "+basePath+"/Organization/{id}", withPrincipal(authenticate, c.handleUpdateOrganization))

	mux.HandleFunc("GET "+basePath+"/Endpoint", withPrincipal(authenticate, c.handleSearchEndpoint))
	mux.HandleFunc("GET "+basePath+"/Endpoint/{id}", withPrincipal(authenticate, c.handleReadEndpoint))
	mux.HandleFunc("POST "+basePath+"/Endpoint", withPrincipal(authenticate, c.handleCreateEndpoint))
	mux.HandleFunc("PUT "+basePath+"/Endpoint/{id}", withPrincipal(authenticate, c.handleUpdateEndpoint))

	mux.HandleFunc("GET "+basePath+"/HealthcareService", withPrincipal(authenticate, c.handleSearchHealthcareService))
	mux.HandleFunc("GET "+basePath+"/HealthcareService/{id}", withPrincipal(authenticate, c.handleReadHealthcareService))
	mux.HandleFunc("POST "+basePath+"/HealthcareService", withPrincipal(authenticate, c.handleCreateHealthcareService))
	mux.HandleFunc("PUT "+basePath+"/HealthcareService/{id}", withPrincipal(authenticate, c.handleUpdateHealthcareService))

	mux.HandleFunc("GET "+basePath+"/Consent", withPrincipal(authenticate, c.handleSearchConsent))
	mux.HandleFunc("GET "+basePath+"/Consent/{id}", withPrincipal(authenticate, c.handleReadConsent))
	mux.HandleFunc("POST "+basePath+"/Consent", withPrincipal(authenticate, c.handleCreateConsent))
	mux.HandleFunc("PUT "+basePath+"/Consent/{id}", withPrincipal(authenticate, c.handleUpdateConsent))

	mux.HandleFunc("GET "+basePath+"/VerificationResult", withPrincipal(authenticate, c.handleSearchVerificationResult))
	mux.HandleFunc("GET "+basePath+"/VerificationResult/{id}", withPrincipal(authenticate, c.handleReadVerificationResult))
	mux.HandleFunc("POST "+basePath+"/VerificationResult", withPrincipal(authenticate, c.handleCreateVerificationResult))
}
