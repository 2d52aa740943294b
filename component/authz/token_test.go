package authz

import (
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/cmd/core"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/pcmrs"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/test"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const (
	publicURL       = "https://pcm.example.org"
	tokenAudience   = publicURL + "/token"
	dsGatewayFHIR   = "https://ds-gw:8080/fhir"
	otherGatewayURL = "https://other-ds:8443/fhir"
	patientID       = coding.PatientIdentifierSystem + "|99887766"
)

type fixture struct {
	component *Component
	server    *httptest.Server
	store     *pcmrs.Store
	spCert    test.Certificate
	hbCert    test.Certificate
	pepCert   test.Certificate
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	spCert := test.GenerateCertificate(t, "org-sp")
	hbCert := test.GenerateCertificate(t, "org-hospital-b-sp")
	pepCert := test.GenerateCertificate(t, "ds-gw")

	store := pcmrs.NewStore()
	seedOrganization(t, store, "org-pcm", coding.OrgTypePCM)
	seedOrganization(t, store, "org-sp", coding.OrgTypeServiceProvider)
	seedOrganization(t, store, "org-hospital-b-sp", coding.OrgTypeServiceProvider)
	seedOrganization(t, store, "org-vaccine-repo", coding.OrgTypeSource)
	seedOrganization(t, store, "org-other-ds", coding.OrgTypeSource)
	seedEndpoint(t, store, "ep-vaccine", dsGatewayFHIR, "org-vaccine-repo")
	seedEndpoint(t, store, "ep-other", otherGatewayURL, "org-other-ds")
	require.NoError(t, store.PutHealthcareService(fhir.HealthcareService{
		Id: to.Ptr("service-1"),
		Meta: &fhir.Meta{Tag: []fhir.Coding{{
			System: to.Ptr(coding.MetaTagSystem),
			Code:   to.Ptr(coding.MetaTagCatalog),
		}}},
		Identifier: []fhir.Identifier{{
			System: to.Ptr(coding.ServiceCatalogIdentifierSystem),
			Value:  to.Ptr("svc-cat-1"),
		}},
	}))

	component, err := New(Config{
		PublicURL: publicURL,
		Clients: []Client{
			{ID: "client-sp", CertFile: test.WriteFile(t, dir, "sp.pem", spCert.CertPEM), OrganizationID: "org-sp", Scopes: []string{coding.DefaultScope}},
			{ID: "client-hospital-b", CertFile: test.WriteFile(t, dir, "hb.pem", hbCert.CertPEM), OrganizationID: "org-hospital-b-sp", Scopes: []string{coding.DefaultScope}},
			{ID: "client-dsgw", CertFile: test.WriteFile(t, dir, "pep.pem", pepCert.CertPEM), OrganizationID: "org-vaccine-repo", Scopes: []string{coding.IntrospectionScope}},
			{ID: "client-noendpoint", CertFile: test.WriteFile(t, dir, "ne.pem", spCert.CertPEM), OrganizationID: "org-sp", Scopes: []string{coding.IntrospectionScope}},
		},
	}, store, core.Config{StrictMode: false})
	require.NoError(t, err)

	mux := http.NewServeMux()
	component.RegisterHttpHandlers(mux, http.NewServeMux())
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{
		component: component,
		server:    server,
		store:     store,
		spCert:    spCert,
		hbCert:    hbCert,
		pepCert:   pepCert,
	}
}

func seedOrganization(t *testing.T, store *pcmrs.Store, id string, orgType string) {
	t.Helper()
	require.NoError(t, store.PutOrganization(fhir.Organization{
		Id:     to.Ptr(id),
		Active: to.Ptr(true),
		Name:   to.Ptr(id),
		Type: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: to.Ptr(coding.OrgTypeSystem), Code: to.Ptr(orgType)}},
		}},
	}))
}

func seedEndpoint(t *testing.T, store *pcmrs.Store, id string, address string, organizationID string) {
	t.Helper()
	require.NoError(t, store.PutEndpoint(fhir.Endpoint{
		Id:                   to.Ptr(id),
		Status:               fhir.EndpointStatusActive,
		Address:              address,
		ManagingOrganization: to.Ptr(fhirutil.LocalReference("Organization", organizationID)),
	}))
}

func seedConsent(t *testing.T, store *pcmrs.Store, id string, status fhir.ConsentState, requester string, custodians ...string) {
	t.Helper()
	actors := []fhir.ConsentProvisionActor{{
		Role: fhir.CodeableConcept{Coding: []fhir.Coding{{
			System: to.Ptr(coding.ConsentActorRoleSystem),
			Code:   to.Ptr(coding.ConsentActorRoleRequester),
		}}},
		Reference: fhirutil.LocalReference("Organization", requester),
	}}
	for _, custodian := range custodians {
		actors = append(actors, fhir.ConsentProvisionActor{
			Role: fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: to.Ptr(coding.ConsentActorRoleSystem),
				Code:   to.Ptr(coding.ConsentActorRoleCustodian),
			}}},
			Reference: fhirutil.LocalReference("Organization", custodian),
		})
	}
	require.NoError(t, store.PutConsent(fhir.Consent{
		Id:     to.Ptr(id),
		Status: status,
		Patient: &fhir.Reference{Identifier: &fhir.Identifier{
			System: to.Ptr(coding.PatientIdentifierSystem),
			Value:  to.Ptr("99887766"),
		}},
		Extension: []fhir.Extension{{
			Url:            coding.PCMServiceExtensionURL,
			ValueReference: to.Ptr(fhirutil.LocalReference("HealthcareService", "service-1")),
		}},
		Provision: &fhir.ConsentProvision{Actor: actors},
	}))
}

func signAssertion(t *testing.T, key *rsa.PrivateKey, clientID string, audience string, b2b map[string]any) string {
	t.Helper()
	token := jwt.New()
	claims := map[string]any{
		jwt.IssuerKey:     clientID,
		jwt.SubjectKey:    clientID,
		jwt.AudienceKey:   []string{audience},
		jwt.IssuedAtKey:   time.Now(),
		jwt.ExpirationKey: time.Now().Add(time.Minute),
		jwt.JwtIDKey:      "jti-" + clientID,
	}
	if b2b != nil {
		claims["extensions"] = map[string]any{"hl7-b2b": b2b}
	}
	for key, value := range claims {
		require.NoError(t, token.Set(key, value))
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256, key))
	require.NoError(t, err)
	return string(signed)
}

func b2bExtension(organizationID string, consentRefs ...string) map[string]any {
	return map[string]any{
		"organization_id":   publicURL + "/r4/Organization/" + organizationID,
		"purpose_of_use":    "TREAT",
		"consent_reference": consentRefs,
	}
}

func (f *fixture) requestToken(t *testing.T, form url.Values) (int, map[string]any) {
	t.Helper()
	response, err := http.PostForm(f.server.URL+"/token", form)
	require.NoError(t, err)
	defer response.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	return response.StatusCode, body
}

func tokenForm(assertion string, resource string) url.Values {
	return url.Values{
		"grant_type":            {"client_credentials"},
		"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
		"client_assertion":      {assertion},
		"resource":              {resource},
	}
}

func TestTokenEndpoint_ConsentBound(t *testing.T) {
	t.Run("happy path", func(t *testing.T) {
		f := newFixture(t)
		seedConsent(t, f.store, "consent-1", fhir.ConsentStateActive, "org-sp", "org-vaccine-repo")
		assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, b2bExtension("org-sp", "Consent/consent-1"))

		status, body := f.requestToken(t, tokenForm(assertion, dsGatewayFHIR))
		require.Equal(t, http.StatusOK, status, "body: %v", body)
		assert.Equal(t, "Bearer", body["token_type"])
		assert.Equal(t, float64(30), body["expires_in"])
		assert.Equal(t, coding.DSDataScope, body["scope"])

		record, ok := f.component.TokenStore().Lookup(body["access_token"].(string))
		require.True(t, ok)
		assert.Equal(t, "client-sp", record.Subject)
		assert.Equal(t, "org-sp", record.OrganizationID)
		assert.Equal(t, dsGatewayFHIR, record.Audience)
		assert.Equal(t, patientID, record.Patient)

		// Holder-of-key: cnf carries the registered certificate's thumbprint.
		expectedThumbprint := f.component.clients["client-sp"].Thumbprint()
		assert.Equal(t, expectedThumbprint, record.Confirmation.X5tS256)

		// fhirContext carries the consent and the catalog service.
		require.Len(t, record.FHIRContext, 2)
		assert.Equal(t, "Consent", record.FHIRContext[0].Type)
		assert.Equal(t, coding.ConsentIdentifierSystem, *record.FHIRContext[0].Identifier.System)
		assert.Equal(t, "consent-1", *record.FHIRContext[0].Identifier.Value)
		assert.Equal(t, "HealthcareService", record.FHIRContext[1].Type)
		assert.Equal(t, coding.ServiceCatalogIdentifierSystem, *record.FHIRContext[1].Identifier.System)
		assert.Equal(t, "svc-cat-1", *record.FHIRContext[1].Identifier.Value)
	})

	t.Run("client is not a party to the consent", func(t *testing.T) {
		f := newFixture(t)
		seedConsent(t, f.store, "consent-hb", fhir.ConsentStateActive, "org-hospital-b-sp", "org-vaccine-repo")
		assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, b2bExtension("org-sp", "Consent/consent-hb"))

		status, body := f.requestToken(t, tokenForm(assertion, dsGatewayFHIR))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "access_denied", body["error"])
		assert.Equal(t, "Client is not a party to this consent", body["error_description"])
	})

	t.Run("resource not owned by a custodian", func(t *testing.T) {
		f := newFixture(t)
		seedConsent(t, f.store, "consent-1", fhir.ConsentStateActive, "org-sp", "org-vaccine-repo")
		assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, b2bExtension("org-sp", "Consent/consent-1"))

		status, body := f.requestToken(t, tokenForm(assertion, "https://evil.example/fhir"))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_target", body["error"])
	})

	t.Run("consent not active", func(t *testing.T) {
		f := newFixture(t)
		seedConsent(t, f.store, "consent-1", fhir.ConsentStateProposed, "org-sp", "org-vaccine-repo")
		assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, b2bExtension("org-sp", "Consent/consent-1"))

		status, body := f.requestToken(t, tokenForm(assertion, dsGatewayFHIR))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("consent not found", func(t *testing.T) {
		f := newFixture(t)
		assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, b2bExtension("org-sp", "Consent/nope"))

		status, body := f.requestToken(t, tokenForm(assertion, dsGatewayFHIR))
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("organization mismatch", func(t *testing.T) {
		f := newFixture(t)
		seedConsent(t, f.store, "consent-1", fhir.ConsentStateActive, "org-sp", "org-vaccine-repo")
		assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, b2bExtension("org-hospital-b-sp", "Consent/consent-1"))

		status, body := f.requestToken(t, tokenForm(assertion, dsGatewayFHIR))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized_client", body["error"])
	})
}

func TestTokenEndpoint_RequestValidation(t *testing.T) {
	f := newFixture(t)
	assertion := signAssertion(t, f.spCert.Key, "client-sp", tokenAudience, nil)

	t.Run("wrong grant type", func(t *testing.T) {
		form := tokenForm(assertion, dsGatewayFHIR)
		form.Set("grant_type", "authorization_code")
		status, body := f.requestToken(t, form)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "unsupported_grant_type", body["error"])
	})

	t.Run("missing assertion", func(t *testing.T) {
		form := tokenForm(assertion, dsGatewayFHIR)
		form.Del("client_assertion")
		status, body := f.requestToken(t, form)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_client", body["error"])
	})

	t.Run("missing resource", func(t *testing.T) {
		form := tokenForm(assertion, dsGatewayFHIR)
		form.Del("resource")
		status, body := f.requestToken(t, form)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "invalid_request", body["error"])
	})

	t.Run("unknown client", func(t *testing.T) {
		unknown := signAssertion(t, f.spCert.Key, "client-unknown", tokenAudience, nil)
		status, body := f.requestToken(t, tokenForm(unknown, dsGatewayFHIR))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_client", body["error"])
	})

	t.Run("signature from wrong key", func(t *testing.T) {
		forged := signAssertion(t, f.hbCert.Key, "client-sp", tokenAudience, nil)
		status, body := f.requestToken(t, tokenForm(forged, dsGatewayFHIR))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_client", body["error"])
	})

	t.Run("wrong audience", func(t *testing.T) {
		wrongAud := signAssertion(t, f.spCert.Key, "client-sp", "https://elsewhere.example/token", nil)
		status, body := f.requestToken(t, tokenForm(wrongAud, dsGatewayFHIR))
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "invalid_client", body["error"])
	})

	t.Run("plain client credentials without consent binding", func(t *testing.T) {
		status, body := f.requestToken(t, tokenForm(assertion, publicURL))
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, coding.DefaultScope, body["scope"])
	})

	t.Run("http audience variant is accepted", func(t *testing.T) {
		httpAud := signAssertion(t, f.spCert.Key, "client-sp", "http://pcm.example.org/token", nil)
		status, _ := f.requestToken(t, tokenForm(httpAud, dsGatewayFHIR))
		assert.Equal(t, http.StatusOK, status)
	})
}
