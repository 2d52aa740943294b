package pcmrs

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// Any authenticated caller may search and read organizations: the directory is what
// service providers use to find data sources.
func (c *Component) handleSearchOrganization(w http.ResponseWriter, r *http.Request, _ Principal) {
	query := r.URL.Query()
	var matches []fhir.Organization
	for _, org := range c.store.Organizations() {
		if wanted := query.Get("type"); wanted != "" && !matchesTokenParam(org.Type, wanted) {
			continue
		}
		if wanted := query.Get("name"); wanted != "" && !matchesNameParam(org.Name, wanted) {
			continue
		}
		if wanted := query.Get("identifier"); wanted != "" && !matchesIdentifierParam(org.Identifier, wanted) {
			continue
		}
		matches = append(matches, org)
	}

	var entries []fhir.BundleEntry
	seeds := make([]string, 0, len(matches))
	for _, org := range matches {
		entry, err := fhirutil.SearchsetEntry(org, fhir.SearchEntryModeMatch)
		if err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, err)
			return
		}
		entries = append(entries, entry)
		seeds = append(seeds, *org.Id)
	}
	includes := parseIncludes(query)
	set := newIncludeSet()
	c.expandOrganizationGraph(seeds, false, includes, set)
	// Matched organizations are not repeated as includes.
	for _, org := range matches {
		delete(set.organizations, *org.Id)
	}
	includeEntries, err := set.entries()
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, fhirutil.NewSearchset(append(entries, includeEntries...)))
}

func (c *Component) handleReadOrganization(w http.ResponseWriter, r *http.Request, _ Principal) {
	org, ok := c.store.Organization(r.PathValue("id"))
	if !ok {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("Organization not found"))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, org)
}

// Organizations are seeded at boot; creating new ones is an administrative operation.
func (c *Component) handleCreateOrganization(w http.ResponseWriter, r *http.Request, principal Principal) {
	if !principal.Admin {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.ForbiddenError("only the PCM administrator may create organizations"))
		return
	}
	request, err := fhirapi.ReadRequest[fhir.Organization](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	org := request.Resource
	if org.Id == nil || *org.Id == "" {
		org.Id = to.Ptr(uuid.NewString())
	}
	if err := c.store.PutOrganization(org); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store organization", err))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusCreated, org)
}

func (c *Component) handleUpdateOrganization(w http.ResponseWriter, r *http.Request, principal Principal) {
	id := r.PathValue("id")
	if !principal.Admin && principal.OrganizationID != id {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.ForbiddenError("caller may only update its own organization"))
		return
	}
	request, err := fhirapi.ReadRequest[fhir.Organization](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	var updated fhir.Organization
	err = c.store.UpdateOrganization(id, func(stored *fhir.Organization) error {
		incoming := request.Resource
		incoming.Id = stored.Id
		if !principal.Admin {
			// Structural placement in the organization graph is administered centrally.
			incoming.PartOf = stored.PartOf
			incoming.Type = stored.Type
			// Re-activation is admin-only; a deactivated organization stays inactive.
			if stored.Active != nil && !*stored.Active && incoming.Active != nil && *incoming.Active {
				incoming.Active = to.Ptr(false)
			}
		}
		*stored = incoming
		updated = incoming
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("Organization not found"))
		return
	}
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, updated)
}
