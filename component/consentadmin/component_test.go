package consentadmin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/cmd/core"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/pcmrs"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

type noAuth struct{}

func (noAuth) Authenticate(string) (string, string, string, bool) {
	return "", "", "", false
}

type adminFixture struct {
	store  *pcmrs.Store
	server *httptest.Server
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	store := pcmrs.NewStore()
	seedOrg := func(id string, orgType string) {
		require.NoError(t, store.PutOrganization(fhir.Organization{
			Id:     to.Ptr(id),
			Active: to.Ptr(true),
			Name:   to.Ptr(id),
			Type: []fhir.CodeableConcept{{
				Coding: []fhir.Coding{{System: to.Ptr(coding.OrgTypeSystem), Code: to.Ptr(orgType)}},
			}},
		}))
	}
	seedOrg("org-pcm", coding.OrgTypePCM)
	seedOrg("org-sp", coding.OrgTypeServiceProvider)
	seedOrg("org-vaccine-repo", coding.OrgTypeSource)

	// The admin surface talks to the resource server's internal listener.
	rs := pcmrs.New(pcmrs.Config{AuthorizationBaseURL: "https://pcm.example.org"}, store, noAuth{}, core.Config{StrictMode: false})
	rsInternalMux := http.NewServeMux()
	rs.RegisterHttpHandlers(http.NewServeMux(), rsInternalMux)
	rsServer := httptest.NewServer(rsInternalMux)
	t.Cleanup(rsServer.Close)

	admin, err := New(Config{Enabled: true, FHIRBaseURL: rsServer.URL + "/r4"})
	require.NoError(t, err)
	adminMux := http.NewServeMux()
	admin.RegisterHttpHandlers(http.NewServeMux(), adminMux)
	adminServer := httptest.NewServer(adminMux)
	t.Cleanup(adminServer.Close)

	return &adminFixture{store: store, server: adminServer}
}

func (f *adminFixture) seedProposedConsent(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.PutConsent(fhir.Consent{
		Id:     to.Ptr(id),
		Status: fhir.ConsentStateProposed,
		Patient: &fhir.Reference{Identifier: &fhir.Identifier{
			System: to.Ptr(coding.PatientIdentifierSystem),
			Value:  to.Ptr("99887766"),
		}},
		Provision: &fhir.ConsentProvision{Actor: []fhir.ConsentProvisionActor{{
			Role: fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: to.Ptr(coding.ConsentActorRoleSystem),
				Code:   to.Ptr(coding.ConsentActorRoleRequester),
			}}},
			Reference: fhirutil.LocalReference("Organization", "org-sp"),
		}}},
	}))
}

func (f *adminFixture) post(t *testing.T, path string, body string) *http.Response {
	t.Helper()
	response, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return response
}

func TestApproveConsent(t *testing.T) {
	t.Run("adds custodian and activates", func(t *testing.T) {
		f := newAdminFixture(t)
		f.seedProposedConsent(t, "consent-1")

		response := f.post(t, "/admin/consents/consent-1/approve", `{"custodians":["Organization/org-vaccine-repo"]}`)
		defer response.Body.Close()
		require.Equal(t, http.StatusOK, response.StatusCode)

		consent, ok := f.store.Consent("consent-1")
		require.True(t, ok)
		assert.Equal(t, fhir.ConsentStateActive, consent.Status)
		require.Len(t, consent.Provision.Actor, 2)
		custodian := consent.Provision.Actor[1]
		assert.True(t, coding.ConceptHasCode(custodian.Role, coding.ConsentActorRoleSystem, coding.ConsentActorRoleCustodian))
		assert.Equal(t, "Organization/org-vaccine-repo", *custodian.Reference.Reference)
	})

	t.Run("custodian must be a data source", func(t *testing.T) {
		f := newAdminFixture(t)
		f.seedProposedConsent(t, "consent-1")

		response := f.post(t, "/admin/consents/consent-1/approve", `{"custodians":["Organization/org-sp"]}`)
		defer response.Body.Close()
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)

		consent, _ := f.store.Consent("consent-1")
		assert.Equal(t, fhir.ConsentStateProposed, consent.Status)
	})

	t.Run("custodians are required", func(t *testing.T) {
		f := newAdminFixture(t)
		f.seedProposedConsent(t, "consent-1")
		response := f.post(t, "/admin/consents/consent-1/approve", `{}`)
		defer response.Body.Close()
		assert.Equal(t, http.StatusBadRequest, response.StatusCode)
	})

	t.Run("only proposed consents can be approved", func(t *testing.T) {
		f := newAdminFixture(t)
		f.seedProposedConsent(t, "consent-1")
		require.NoError(t, f.store.UpdateConsent("consent-1", func(stored *fhir.Consent) error {
			stored.Status = fhir.ConsentStateRejected
			return nil
		}))
		response := f.post(t, "/admin/consents/consent-1/approve", `{"custodians":["Organization/org-vaccine-repo"]}`)
		defer response.Body.Close()
		assert.Equal(t, http.StatusConflict, response.StatusCode)
	})

	t.Run("unknown consent", func(t *testing.T) {
		f := newAdminFixture(t)
		response := f.post(t, "/admin/consents/nope/approve", `{"custodians":["Organization/org-vaccine-repo"]}`)
		defer response.Body.Close()
		assert.Equal(t, http.StatusNotFound, response.StatusCode)
	})
}

func TestRejectConsent(t *testing.T) {
	f := newAdminFixture(t)
	f.seedProposedConsent(t, "consent-1")

	response := f.post(t, "/admin/consents/consent-1/reject", "")
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)

	consent, ok := f.store.Consent("consent-1")
	require.True(t, ok)
	assert.Equal(t, fhir.ConsentStateRejected, consent.Status)
}

func TestListConsents(t *testing.T) {
	f := newAdminFixture(t)
	f.seedProposedConsent(t, "consent-1")
	f.seedProposedConsent(t, "consent-2")

	response, err := http.Get(f.server.URL + "/admin/consents")
	require.NoError(t, err)
	defer response.Body.Close()
	require.Equal(t, http.StatusOK, response.StatusCode)
	var bundle fhir.Bundle
	require.NoError(t, json.NewDecoder(response.Body).Decode(&bundle))
	assert.Equal(t, 2, *bundle.Total)
}
