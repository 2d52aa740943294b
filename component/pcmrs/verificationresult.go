package pcmrs

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// handleCreateVerificationResult records a validation statement. When the caller does
// not name a validator, the caller's parent organization (or the caller itself, for a
// top-level organization) is recorded as the validator.
func (c *Component) handleCreateVerificationResult(w http.ResponseWriter, r *http.Request, principal Principal) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("request body is not valid JSON", err))
		return
	}
	data, err := json.Marshal(raw)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("request body is not valid JSON", err))
		return
	}
	var result fhir.VerificationResult
	if err := json.Unmarshal(data, &result); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("invalid VerificationResult", err))
		return
	}

	result.Id = to.Ptr(uuid.NewString())
	// The status code has no unset representation once decoded, so presence is checked
	// on the raw document.
	if _, ok := raw["status"]; !ok {
		result.Status = "validated"
	}
	if len(result.Validator) == 0 {
		result.Validator = []fhir.VerificationResultValidator{{
			Organization: fhirutil.LocalReference("Organization", c.validatorOrganization(principal.OrganizationID)),
		}}
	}

	if err := c.store.PutVerificationResult(result); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store verification result", err))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusCreated, result)
}

// validatorOrganization resolves the default validator: the caller's parent
// organization, or the caller itself when it has none.
func (c *Component) validatorOrganization(organizationID string) string {
	org, ok := c.store.Organization(organizationID)
	if !ok {
		return organizationID
	}
	if parentID := fhirutil.ReferenceID(org.PartOf, "Organization"); parentID != "" {
		return parentID
	}
	return organizationID
}

func (c *Component) handleReadVerificationResult(w http.ResponseWriter, r *http.Request, _ Principal) {
	result, ok := c.store.VerificationResult(r.PathValue("id"))
	if !ok {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("VerificationResult not found"))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, result)
}

func (c *Component) handleSearchVerificationResult(w http.ResponseWriter, r *http.Request, _ Principal) {
	var entries []fhir.BundleEntry
	for _, result := range c.store.VerificationResults() {
		entry, err := fhirutil.SearchsetEntry(result, fhir.SearchEntryModeMatch)
		if err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, err)
			return
		}
		entries = append(entries, entry)
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, fhirutil.NewSearchset(entries))
}
