package authz

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/tlsutil"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// handleToken implements the client_credentials grant with a private-key JWT assertion,
// an RFC 8707 resource indicator and optional HL7 B2B consent binding.
func (c *Component) handleToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !c.peerCertificatePresent(r) {
		writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrAccessDenied(), "client certificate required")
		return
	}

	if err := r.ParseForm(); err != nil {
		writeOAuthError(ctx, w, http.StatusBadRequest, oidc.ErrInvalidRequest(), "malformed form body")
		return
	}
	if r.PostForm.Get("grant_type") != string(oidc.GrantTypeClientCredentials) {
		writeOAuthError(ctx, w, http.StatusBadRequest, oidc.ErrUnsupportedGrantType(), "only client_credentials is supported")
		return
	}
	assertion := r.PostForm.Get("client_assertion")
	if r.PostForm.Get("client_assertion_type") != oidc.ClientAssertionTypeJWTAssertion || assertion == "" {
		writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrInvalidClient(), "client assertion required")
		return
	}
	resource := r.PostForm.Get("resource")
	if resource == "" {
		writeOAuthError(ctx, w, http.StatusBadRequest, oidc.ErrInvalidRequest(), "resource parameter required")
		return
	}

	clientID, err := parseAssertionSubject(assertion)
	if err != nil {
		writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrInvalidClient(), err.Error())
		return
	}
	client, ok := c.clients[clientID]
	if !ok {
		writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrInvalidClient(), "unknown client")
		return
	}
	b2b, err := verifyAssertion(assertion, client, c.acceptedAudiences)
	if err != nil {
		writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrInvalidClient(), err.Error())
		return
	}

	scope := grantedScope(client, r.PostForm.Get("scope"))
	patient := ""
	var fhirContext []ContextEntry
	if b2b != nil {
		if !b2b.OrganizationMatches(client.OrganizationID) {
			writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrUnauthorizedClient(), "organization_id does not match the registered client organization")
			return
		}
		consents := make([]*fhir.Consent, 0, len(b2b.ConsentReference))
		for _, reference := range b2b.ConsentReference {
			consent, ok := c.resolveConsent(reference)
			if !ok {
				writeOAuthError(ctx, w, http.StatusBadRequest, oidc.ErrInvalidGrant(), "consent not found: "+reference)
				return
			}
			if consent.Status != fhir.ConsentStateActive {
				writeOAuthError(ctx, w, http.StatusBadRequest, oidc.ErrInvalidGrant(), "consent is not active: "+reference)
				return
			}
			if !consentHasActor(consent, client.OrganizationID) {
				writeOAuthError(ctx, w, http.StatusUnauthorized, oidc.ErrAccessDenied(), "Client is not a party to this consent")
				return
			}
			if !c.custodianOwnsResource(consent, resource) {
				writeOAuthError(ctx, w, http.StatusBadRequest, oidc.ErrInvalidTarget(), "requested resource is not owned by a custodian of this consent")
				return
			}
			consents = append(consents, consent)
		}
		// The consent overrides whatever scope was requested.
		scope = coding.DSDataScope
		for _, consent := range consents {
			if consent.Patient != nil && consent.Patient.Identifier != nil {
				patient = fhirutil.IdentifierToken(*consent.Patient.Identifier)
			}
			fhirContext = append(fhirContext, c.consentContext(consent)...)
		}
	}

	confirmation := Confirmation{X5tS256: client.Thumbprint()}
	if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
		peerThumbprint := tlsutil.Thumbprint(r.TLS.PeerCertificates[0])
		if peerThumbprint != confirmation.X5tS256 {
			// The registered certificate is authoritative. Both thumbprints are logged
			// so the policy can later be tightened to block on mismatch.
			slog.WarnContext(ctx, "mTLS peer certificate does not match registered client certificate",
				logging.ClientID(client.ID),
				slog.String("peer_thumbprint", peerThumbprint),
				slog.String("registered_thumbprint", confirmation.X5tS256))
		}
	}

	now := time.Now()
	record := TokenRecord{
		Token:          uuid.NewString(),
		Subject:        client.ID,
		ClientID:       client.ID,
		OrganizationID: client.OrganizationID,
		Scope:          scope,
		Issuer:         c.config.PublicURL,
		Audience:       resource,
		Patient:        patient,
		FHIRContext:    fhirContext,
		Confirmation:   confirmation,
		IssuedAt:       now.Unix(),
		ExpiresAt:      now.Add(TokenLifetime).Unix(),
	}
	c.tokens.Insert(record)

	slog.InfoContext(ctx, "Issued access token",
		logging.ClientID(client.ID),
		logging.Organization(client.OrganizationID),
		slog.String("aud", resource),
		slog.Bool("consent_bound", b2b != nil))

	writeJSON(ctx, w, http.StatusOK, tokenResponse{
		AccessToken: record.Token,
		TokenType:   oidc.BearerToken,
		ExpiresIn:   int(TokenLifetime / time.Second),
		Scope:       scope,
	})
}

// grantedScope filters the requested scopes down to what the client is allowed to request.
// Without any allowed requested scope the default resource server scope is granted.
func grantedScope(client Client, requested string) string {
	var granted []string
	for _, scope := range strings.Fields(requested) {
		if client.AllowsScope(scope) {
			granted = append(granted, scope)
		}
	}
	if len(granted) == 0 {
		return coding.DefaultScope
	}
	return strings.Join(granted, " ")
}

// resolveConsent accepts both "Consent/id" references and bare logical ids.
func (c *Component) resolveConsent(reference string) (*fhir.Consent, bool) {
	id := reference
	if resourceType, refID, ok := fhirutil.ParseLocalReference(reference); ok {
		if resourceType != "Consent" {
			return nil, false
		}
		id = refID
	}
	return c.directory.Consent(id)
}

func consentHasActor(consent *fhir.Consent, organizationID string) bool {
	if consent.Provision == nil {
		return false
	}
	for _, actor := range consent.Provision.Actor {
		if fhirutil.ReferenceID(&actor.Reference, "Organization") == organizationID {
			return true
		}
	}
	return false
}

// custodianOwnsResource checks the requested resource URL against the Endpoint addresses
// of every custodian (CST) actor of the consent. Matching is exact, no prefix matching.
func (c *Component) custodianOwnsResource(consent *fhir.Consent, resource string) bool {
	if consent.Provision == nil {
		return false
	}
	for _, actor := range consent.Provision.Actor {
		if !conceptHasActorRole(actor.Role, coding.ConsentActorRoleCustodian) {
			continue
		}
		custodianID := fhirutil.ReferenceID(&actor.Reference, "Organization")
		if custodianID == "" {
			continue
		}
		for _, address := range c.directory.EndpointAddressesByOrganization(custodianID) {
			if address == resource {
				return true
			}
		}
	}
	return false
}

func conceptHasActorRole(role fhir.CodeableConcept, code string) bool {
	return coding.ConceptHasCode(role, coding.ConsentActorRoleSystem, code)
}

// consentContext assembles the fhirContext entries for a consent: the consent's business
// identifier and, when the consent references a healthcare service, the catalog identifier
// of that service (resolved through its canonical when it is an instance).
func (c *Component) consentContext(consent *fhir.Consent) []ContextEntry {
	entries := []ContextEntry{{
		Type:       "Consent",
		Identifier: consentBusinessIdentifier(consent),
	}}
	serviceID := consentServiceID(consent)
	if serviceID == "" {
		return entries
	}
	service, ok := c.directory.HealthcareService(serviceID)
	if !ok {
		return entries
	}
	catalog := service
	if canonicalID := serviceCanonicalID(service); canonicalID != "" {
		if canonical, ok := c.directory.HealthcareService(canonicalID); ok {
			catalog = canonical
		}
	}
	entries = append(entries, ContextEntry{
		Type:       "HealthcareService",
		Identifier: serviceCatalogIdentifier(catalog),
	})
	return entries
}

func consentBusinessIdentifier(consent *fhir.Consent) fhir.Identifier {
	for _, identifier := range consent.Identifier {
		if identifier.System != nil && *identifier.System == coding.ConsentIdentifierSystem && identifier.Value != nil {
			return identifier
		}
	}
	system := coding.ConsentIdentifierSystem
	return fhir.Identifier{System: &system, Value: consent.Id}
}

func consentServiceID(consent *fhir.Consent) string {
	for _, extension := range consent.Extension {
		if extension.Url == coding.PCMServiceExtensionURL {
			return fhirutil.ReferenceID(extension.ValueReference, "HealthcareService")
		}
	}
	return ""
}

func serviceCanonicalID(service *fhir.HealthcareService) string {
	for _, extension := range service.Extension {
		if extension.Url == coding.BasedOnCanonicalExtensionURL {
			return fhirutil.ReferenceID(extension.ValueReference, "HealthcareService")
		}
	}
	return ""
}

func serviceCatalogIdentifier(service *fhir.HealthcareService) fhir.Identifier {
	for _, identifier := range service.Identifier {
		if identifier.System != nil && *identifier.System == coding.ServiceCatalogIdentifierSystem && identifier.Value != nil {
			return identifier
		}
	}
	system := coding.ServiceCatalogIdentifierSystem
	return fhir.Identifier{System: &system, Value: service.Id}
}
