package pcmrs

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func (c *Component) handleSearchEndpoint(w http.ResponseWriter, r *http.Request, _ Principal) {
	query := r.URL.Query()
	var entries []fhir.BundleEntry
	for _, endpoint := range c.store.Endpoints() {
		if wanted := query.Get("thumbprint"); wanted != "" && !endpointHasThumbprint(endpoint, wanted) {
			continue
		}
		entry, err := fhirutil.SearchsetEntry(endpoint, fhir.SearchEntryModeMatch)
		if err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, err)
			return
		}
		entries = append(entries, entry)
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, fhirutil.NewSearchset(entries))
}

// endpointHasThumbprint matches the applicable-certificates extension against a
// x5t#S256 thumbprint.
func endpointHasThumbprint(endpoint fhir.Endpoint, thumbprint string) bool {
	for _, extension := range endpoint.Extension {
		if extension.Url != coding.ApplicableCertificatesExtensionURL {
			continue
		}
		for _, nested := range extension.Extension {
			if nested.Url == "thumbprint" && nested.ValueString != nil && *nested.ValueString == thumbprint {
				return true
			}
		}
	}
	return false
}

func (c *Component) handleReadEndpoint(w http.ResponseWriter, r *http.Request, _ Principal) {
	endpoint, ok := c.store.Endpoint(r.PathValue("id"))
	if !ok {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("Endpoint not found"))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, endpoint)
}

func (c *Component) handleCreateEndpoint(w http.ResponseWriter, r *http.Request, principal Principal) {
	request, err := fhirapi.ReadRequest[fhir.Endpoint](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	endpoint := request.Resource
	if !principal.Admin {
		if fhirutil.ReferenceID(endpoint.ManagingOrganization, "Organization") != principal.OrganizationID {
			fhirapi.SendErrorResponse(r.Context(), w, fhirapi.ForbiddenError("endpoint must be managed by the caller's organization"))
			return
		}
	}
	if endpoint.Id == nil || *endpoint.Id == "" {
		endpoint.Id = to.Ptr(uuid.NewString())
	}
	if err := c.store.PutEndpoint(endpoint); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store endpoint", err))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusCreated, endpoint)
}

func (c *Component) handleUpdateEndpoint(w http.ResponseWriter, r *http.Request, principal Principal) {
	id := r.PathValue("id")
	request, err := fhirapi.ReadRequest[fhir.Endpoint](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	var updated fhir.Endpoint
	err = c.store.UpdateEndpoint(id, func(stored *fhir.Endpoint) error {
		if !principal.Admin && fhirutil.ReferenceID(stored.ManagingOrganization, "Organization") != principal.OrganizationID {
			return fhirapi.ForbiddenError("caller may only update endpoints it manages")
		}
		incoming := request.Resource
		incoming.Id = stored.Id
		*stored = incoming
		updated = incoming
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("Endpoint not found"))
		return
	}
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, updated)
}
