package pcmrs

import (
	"net/http"
	"strings"
	"time"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// SMARTConfiguration is the discovery document served at
// /r4/.well-known/smart-configuration. Enforcement points use it to locate the
// introspection endpoint.
type SMARTConfiguration struct {
	Issuer                            string   `json:"issuer"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	Capabilities                      []string `json:"capabilities"`
}

func (c *Component) handleSMARTConfiguration(w http.ResponseWriter, r *http.Request) {
	base := strings.TrimSuffix(c.config.AuthorizationBaseURL, "/")
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, SMARTConfiguration{
		Issuer:                            base,
		TokenEndpoint:                     base + "/token",
		IntrospectionEndpoint:             base + "/introspect",
		GrantTypesSupported:               []string{"client_credentials"},
		TokenEndpointAuthMethodsSupported: []string{"private_key_jwt"},
		ScopesSupported:                   []string{"system/*.cruds", "introspection"},
		Capabilities:                      []string{"client-confidential-asymmetric", "permission-v2"},
	})
}

func (c *Component) handleMetadata(w http.ResponseWriter, r *http.Request) {
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, c.capabilityStatement())
}

func (c *Component) capabilityStatement() fhir.CapabilityStatement {
	readSearchUpdate := []fhir.CapabilityStatementRestResourceInteraction{
		{Code: fhir.TypeRestfulInteractionRead},
		{Code: fhir.TypeRestfulInteractionSearchType},
		{Code: fhir.TypeRestfulInteractionUpdate},
	}
	full := append(readSearchUpdate, fhir.CapabilityStatementRestResourceInteraction{Code: fhir.TypeRestfulInteractionCreate})
	return fhir.CapabilityStatement{
		Status:      fhir.PublicationStatusActive,
		Date:        time.Now().Format(time.RFC3339),
		Publisher:   to.Ptr("Patient Consent Manager"),
		Kind:        fhir.CapabilityStatementKindInstance,
		FhirVersion: fhir.FHIRVersion4_0_1,
		Format:      []string{fhirapi.JSONMimeType},
		Rest: []fhir.CapabilityStatementRest{{
			Mode: fhir.RestfulCapabilityModeServer,
			Resource: []fhir.CapabilityStatementRestResource{
				{
					Type:        fhir.ResourceTypeOrganization,
					Interaction: readSearchUpdate,
					SearchParam: []fhir.CapabilityStatementRestResourceSearchParam{
						{Name: "type", Type: fhir.SearchParamTypeToken},
						{Name: "name", Type: fhir.SearchParamTypeString},
						{Name: "identifier", Type: fhir.SearchParamTypeToken},
					},
				},
				{
					Type:        fhir.ResourceTypeEndpoint,
					Interaction: full,
					SearchParam: []fhir.CapabilityStatementRestResourceSearchParam{
						{Name: "thumbprint", Type: fhir.SearchParamTypeToken},
					},
				},
				{
					Type:        fhir.ResourceTypeHealthcareService,
					Interaction: full,
					SearchParam: []fhir.CapabilityStatementRestResourceSearchParam{
						{Name: "providedBy", Type: fhir.SearchParamTypeReference},
						{Name: "category", Type: fhir.SearchParamTypeToken},
						{Name: "type", Type: fhir.SearchParamTypeToken},
						{Name: "identifier", Type: fhir.SearchParamTypeToken},
						{Name: "name", Type: fhir.SearchParamTypeString},
						{Name: "active", Type: fhir.SearchParamTypeToken},
					},
				},
				{
					Type:        fhir.ResourceTypeConsent,
					Interaction: full,
					SearchParam: []fhir.CapabilityStatementRestResourceSearchParam{
						{Name: "_id", Type: fhir.SearchParamTypeToken},
						{Name: "status", Type: fhir.SearchParamTypeToken},
						{Name: "patient", Type: fhir.SearchParamTypeToken},
						{Name: "patient.identifier", Type: fhir.SearchParamTypeToken},
						{Name: "pcm-service", Type: fhir.SearchParamTypeReference},
					},
				},
				{
					Type: fhir.ResourceTypeVerificationResult,
					Interaction: []fhir.CapabilityStatementRestResourceInteraction{
						{Code: fhir.TypeRestfulInteractionRead},
						{Code: fhir.TypeRestfulInteractionSearchType},
						{Code: fhir.TypeRestfulInteractionCreate},
					},
				},
			},
		}},
	}
}
