package consentadmin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	fhirclient "github.com/SanteonNL/go-fhir-client"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

var _ component.Lifecycle = (*Component)(nil)

type Config struct {
	Enabled bool `koanf:"enabled"`
	// FHIRBaseURL is the resource server's internal admin surface,
	// e.g. "http://localhost:8081/r4".
	FHIRBaseURL string `koanf:"fhirbaseurl"`
}

func DefaultConfig() Config {
	return Config{}
}

// Component is the server-side surface of the consent dashboard. It acts as the PCM
// administrator organization against the resource server's internal listener and owns
// the approval transitions: proposed consents become active (gaining their custodian
// actors) or rejected here, never through the public FHIR surface.
type Component struct {
	config Config
	client fhirclient.Client
}

func clientConfig() *fhirclient.Config {
	config := fhirclient.DefaultConfig()
	config.DefaultOptions = []fhirclient.Option{
		fhirclient.RequestHeaders(map[string][]string{
			"Cache-Control": {"no-cache"},
		}),
	}
	config.Non2xxStatusHandler = func(response *http.Response, responseBody []byte) {
		log.Debug().Msgf("Non-2xx status code from FHIR server (%s %s, status=%d), content: %s", response.Request.Method, response.Request.URL, response.StatusCode, string(responseBody))
	}
	return &config
}

func New(config Config) (*Component, error) {
	if config.FHIRBaseURL == "" {
		return nil, fmt.Errorf("fhirbaseurl must be configured when the consent admin is enabled")
	}
	baseURL, err := url.Parse(config.FHIRBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid fhirbaseurl: %w", err)
	}
	return &Component{
		config: config,
		client: fhirclient.New(baseURL, http.DefaultClient, clientConfig()),
	}, nil
}

func (c *Component) Start() error {
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	return nil
}

func (c *Component) RegisterHttpHandlers(_ *http.ServeMux, internalMux *http.ServeMux) {
	internalMux.HandleFunc("GET /admin/consents", c.handleListConsents)
	internalMux.HandleFunc("POST /admin/consents/{id}/approve", c.handleApproveConsent)
	internalMux.HandleFunc("POST /admin/consents/{id}/reject", c.handleRejectConsent)
}

func (c *Component) handleListConsents(w http.ResponseWriter, r *http.Request) {
	var bundle fhir.Bundle
	if err := c.client.Search("Consent", url.Values{}, &bundle); err != nil {
		http.Error(w, "failed to list consents: "+err.Error(), http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(bundle)
}

type approvalRequest struct {
	// Custodians are "Organization/id" references to the data sources granted
	// custodianship by the patient.
	Custodians []string `json:"custodians"`
}

// handleApproveConsent transitions a proposed consent to active, adding one custodian
// actor per granted data source. Each custodian must be a registered organization of
// type source.
func (c *Component) handleApproveConsent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var approval approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&approval); err != nil {
		http.Error(w, "unable to parse request body", http.StatusBadRequest)
		return
	}
	if len(approval.Custodians) == 0 {
		http.Error(w, "at least one custodian is required", http.StatusBadRequest)
		return
	}

	var consent fhir.Consent
	if err := c.client.Read("Consent/"+id, &consent); err != nil {
		http.Error(w, "consent not found", http.StatusNotFound)
		return
	}
	if consent.Status != fhir.ConsentStateProposed {
		http.Error(w, "only proposed consents can be approved", http.StatusConflict)
		return
	}

	for _, reference := range approval.Custodians {
		resourceType, orgID, ok := fhirutil.ParseLocalReference(reference)
		if !ok || resourceType != "Organization" {
			http.Error(w, "custodian must be an Organization reference: "+reference, http.StatusBadRequest)
			return
		}
		var custodian fhir.Organization
		if err := c.client.Read("Organization/"+orgID, &custodian); err != nil {
			http.Error(w, "custodian organization not found: "+reference, http.StatusBadRequest)
			return
		}
		if !coding.OrganizationHasType(custodian, coding.OrgTypeSource) {
			http.Error(w, "custodian is not a data source: "+reference, http.StatusBadRequest)
			return
		}
		if consent.Provision == nil {
			consent.Provision = &fhir.ConsentProvision{}
		}
		consent.Provision.Actor = append(consent.Provision.Actor, fhir.ConsentProvisionActor{
			Role: fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System: to.Ptr(coding.ConsentActorRoleSystem),
					Code:   to.Ptr(coding.ConsentActorRoleCustodian),
				}},
			},
			Reference: fhirutil.LocalReference("Organization", orgID),
		})
	}
	consent.Status = fhir.ConsentStateActive

	var updated fhir.Consent
	if err := c.client.Update("Consent/"+id, consent, &updated); err != nil {
		http.Error(w, "failed to update consent: "+err.Error(), http.StatusBadGateway)
		return
	}
	log.Info().Str("consent", id).Int("custodians", len(approval.Custodians)).Msg("Consent approved")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(updated)
}

func (c *Component) handleRejectConsent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var consent fhir.Consent
	if err := c.client.Read("Consent/"+id, &consent); err != nil {
		http.Error(w, "consent not found", http.StatusNotFound)
		return
	}
	if consent.Status != fhir.ConsentStateProposed {
		http.Error(w, "only proposed consents can be rejected", http.StatusConflict)
		return
	}
	consent.Status = fhir.ConsentStateRejected

	var updated fhir.Consent
	if err := c.client.Update("Consent/"+id, consent, &updated); err != nil {
		http.Error(w, "failed to update consent: "+err.Error(), http.StatusBadGateway)
		return
	}
	log.Info().Str("consent", id).Msg("Consent rejected")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(updated)
}
