package authz

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
)

// introspectionResponse is the RFC 7662 response. For active tokens the full token
// record is embedded verbatim.
type introspectionResponse struct {
	Active bool `json:"active"`
	*TokenRecord
}

// handleIntrospect resolves an opaque token for a policy enforcement point.
// The caller authenticates with its own bearer token (scope "introspection") and the
// result is audience-bound: a token whose aud is not one of the caller's own Endpoint
// addresses is reported inactive, so a PEP can never accept a token minted for another
// resource server.
func (c *Component) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !c.peerCertificatePresent(r) {
		http.Error(w, "client certificate required", http.StatusUnauthorized)
		return
	}

	callerToken := bearerToken(r)
	if callerToken == "" {
		http.Error(w, "bearer token required", http.StatusUnauthorized)
		return
	}
	caller, ok := c.tokens.Lookup(callerToken)
	if !ok || !slices.Contains(strings.Fields(caller.Scope), coding.IntrospectionScope) {
		http.Error(w, "caller is not allowed to introspect", http.StatusForbidden)
		return
	}
	introspectorAddresses := c.directory.EndpointAddressesByOrganization(caller.OrganizationID)
	if len(introspectorAddresses) == 0 {
		http.Error(w, "caller organization has no registered endpoint", http.StatusForbidden)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}
	record, ok := c.tokens.Lookup(r.PostForm.Get("token"))
	if !ok || !slices.Contains(introspectorAddresses, record.Audience) {
		if ok {
			slog.DebugContext(ctx, "Introspected token has foreign audience, reporting inactive",
				logging.Organization(caller.OrganizationID),
				slog.String("aud", record.Audience))
		}
		writeJSON(ctx, w, http.StatusOK, introspectionResponse{Active: false})
		return
	}

	writeJSON(ctx, w, http.StatusOK, introspectionResponse{Active: true, TokenRecord: record})
}

func bearerToken(r *http.Request) string {
	authorization := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return token
	}
	return ""
}

// MarshalJSON flattens the token record into the top-level introspection object.
func (i introspectionResponse) MarshalJSON() ([]byte, error) {
	if i.TokenRecord == nil {
		return []byte(`{"active":false}`), nil
	}
	type record TokenRecord
	return json.Marshal(struct {
		Active bool `json:"active"`
		record
	}{Active: i.Active, record: record(*i.TokenRecord)})
}
