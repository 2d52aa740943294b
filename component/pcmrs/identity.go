package pcmrs

import (
	"net/http"
	"strings"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
)

// Principal is the authenticated caller of the resource server.
type Principal struct {
	ClientID       string
	OrganizationID string
	Scope          string
	// Admin is set for the PCM administrator organization. The admin bypasses the
	// per-resource ownership rules.
	Admin bool
}

// BearerAuthenticator resolves an opaque bearer token to its client and organization.
// The authorization server's token store implements this, since both servers share a process.
type BearerAuthenticator interface {
	Authenticate(token string) (clientID string, organizationID string, scope string, ok bool)
}

type authFunc func(r *http.Request) (*Principal, error)

// publicAuth authenticates requests on the mutually-authenticated listener:
// a presented client certificate plus a valid bearer token.
func (c *Component) publicAuth(r *http.Request) (*Principal, error) {
	if r.TLS == nil && !c.devMode {
		return nil, fhirapi.UnauthorizedError("client certificate required")
	}
	authorization := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || token == "" {
		return nil, fhirapi.UnauthorizedError("bearer token required")
	}
	clientID, organizationID, scope, ok := c.authn.Authenticate(token)
	if !ok {
		return nil, fhirapi.UnauthorizedError("invalid or expired access token")
	}
	principal := &Principal{
		ClientID:       clientID,
		OrganizationID: organizationID,
		Scope:          scope,
	}
	if org, ok := c.store.Organization(organizationID); ok {
		principal.Admin = coding.OrganizationHasType(*org, coding.OrgTypePCM)
	}
	return principal, nil
}

// internalAuth trusts the internal listener: requests there carry the PCM
// administrator identity. The internal listener must only be reachable by
// PCM-owned processes (the consent dashboard).
func (c *Component) internalAuth(_ *http.Request) (*Principal, error) {
	adminOrg := c.store.AdminOrganizationID()
	if adminOrg == "" {
		return nil, fhirapi.UnauthorizedError("no PCM administrator organization seeded")
	}
	return &Principal{
		ClientID:       "pcm-admin",
		OrganizationID: adminOrg,
		Scope:          coding.DefaultScope,
		Admin:          true,
	}, nil
}

type principalHandler func(w http.ResponseWriter, r *http.Request, principal Principal)

func withPrincipal(authenticate authFunc, handler principalHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := authenticate(r)
		if err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, err)
			return
		}
		handler(w, r, *principal)
	}
}
