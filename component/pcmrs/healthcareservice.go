package pcmrs

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func (c *Component) handleSearchHealthcareService(w http.ResponseWriter, r *http.Request, _ Principal) {
	query := r.URL.Query()
	var entries []fhir.BundleEntry
	for _, service := range c.store.HealthcareServices() {
		if wanted := query.Get("providedBy"); wanted != "" && !matchesReferenceParam(service.ProvidedBy, "Organization", wanted) {
			continue
		}
		if wanted := query.Get("category"); wanted != "" && !matchesTokenParam(service.Category, wanted) {
			continue
		}
		if wanted := query.Get("type"); wanted != "" && !matchesTokenParam(service.Type, wanted) {
			continue
		}
		if wanted := query.Get("identifier"); wanted != "" && !matchesIdentifierParam(service.Identifier, wanted) {
			continue
		}
		if wanted := query.Get("name"); wanted != "" && !matchesNameParam(service.Name, wanted) {
			continue
		}
		if wanted := query.Get("active"); wanted != "" {
			active, err := strconv.ParseBool(wanted)
			if err != nil || service.Active == nil || *service.Active != active {
				continue
			}
		}
		entry, err := fhirutil.SearchsetEntry(service, fhir.SearchEntryModeMatch)
		if err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, err)
			return
		}
		entries = append(entries, entry)
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, fhirutil.NewSearchset(entries))
}

func (c *Component) handleReadHealthcareService(w http.ResponseWriter, r *http.Request, _ Principal) {
	service, ok := c.store.HealthcareService(r.PathValue("id"))
	if !ok {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("HealthcareService not found"))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, service)
}

// handleCreateHealthcareService stores either a catalog entry (a PCM-managed template)
// or a service instance owned by a service provider. An instance created without an
// explicit canonical link gets a generated catalog entry, committed before the instance
// that references it.
func (c *Component) handleCreateHealthcareService(w http.ResponseWriter, r *http.Request, principal Principal) {
	request, err := fhirapi.ReadRequest[fhir.HealthcareService](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	service := request.Resource
	if service.Id == nil || *service.Id == "" {
		service.Id = to.Ptr(uuid.NewString())
	}

	if principal.Admin {
		if err := c.store.PutHealthcareService(service); err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store healthcare service", err))
			return
		}
		fhirapi.SendResponse(r.Context(), w, http.StatusCreated, service)
		return
	}

	if coding.MetaHasTag(service.Meta, coding.MetaTagCatalog) {
		ensureCatalogIdentifier(&service)
		if err := c.store.PutHealthcareService(service); err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store healthcare service", err))
			return
		}
		fhirapi.SendResponse(r.Context(), w, http.StatusCreated, service)
		return
	}

	// A service provider's instance: ownership is forced onto the caller and the
	// instance starts out inactive unless explicitly activated.
	service.ProvidedBy = to.Ptr(fhirutil.LocalReference("Organization", principal.OrganizationID))
	if service.Active == nil {
		service.Active = to.Ptr(false)
	}
	setMetaTag(&service, coding.MetaTagInstance)

	if serviceCanonicalReference(service) != "" {
		if err := c.store.PutHealthcareService(service); err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store healthcare service", err))
			return
		}
		fhirapi.SendResponse(r.Context(), w, http.StatusCreated, service)
		return
	}

	canonical := newCanonicalFrom(service)
	service.Extension = append(service.Extension, fhir.Extension{
		Url:            coding.BasedOnCanonicalExtensionURL,
		ValueReference: to.Ptr(fhirutil.LocalReference("HealthcareService", *canonical.Id)),
	})
	if err := c.store.PutHealthcareServicePair(canonical, service); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store healthcare service", err))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusCreated, service)
}

func (c *Component) handleUpdateHealthcareService(w http.ResponseWriter, r *http.Request, principal Principal) {
	id := r.PathValue("id")
	request, err := fhirapi.ReadRequest[fhir.HealthcareService](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	var updated fhir.HealthcareService
	err = c.store.UpdateHealthcareService(id, func(stored *fhir.HealthcareService) error {
		incoming := request.Resource
		incoming.Id = stored.Id
		if !principal.Admin {
			if coding.MetaHasTag(stored.Meta, coding.MetaTagCatalog) {
				return fhirapi.ForbiddenError("catalog entries are managed by the PCM administrator")
			}
			if fhirutil.ReferenceID(stored.ProvidedBy, "Organization") != principal.OrganizationID {
				return fhirapi.ForbiddenError("caller may only update its own service instances")
			}
			incoming.ProvidedBy = stored.ProvidedBy
		}
		*stored = incoming
		updated = incoming
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("HealthcareService not found"))
		return
	}
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, updated)
}

func serviceCanonicalReference(service fhir.HealthcareService) string {
	for _, extension := range service.Extension {
		if extension.Url == coding.BasedOnCanonicalExtensionURL {
			return fhirutil.ReferenceID(extension.ValueReference, "HealthcareService")
		}
	}
	return ""
}

// newCanonicalFrom derives the PCM-managed catalog entry for an instance created
// without an explicit canonical link.
func newCanonicalFrom(instance fhir.HealthcareService) fhir.HealthcareService {
	canonical := instance
	canonical.Id = to.Ptr(uuid.NewString())
	canonical.ProvidedBy = nil
	canonical.Active = to.Ptr(true)
	canonical.Extension = nil
	canonical.Identifier = nil
	canonical.Meta = nil
	setMetaTag(&canonical, coding.MetaTagCatalog)
	ensureCatalogIdentifier(&canonical)
	return canonical
}

func ensureCatalogIdentifier(service *fhir.HealthcareService) {
	for _, identifier := range service.Identifier {
		if identifier.System != nil && *identifier.System == coding.ServiceCatalogIdentifierSystem && identifier.Value != nil {
			return
		}
	}
	service.Identifier = append(service.Identifier, fhir.Identifier{
		System: to.Ptr(coding.ServiceCatalogIdentifierSystem),
		Value:  to.Ptr(uuid.NewString()),
	})
}

// setMetaTag replaces any pcm-meta-tag on the resource with the given code.
func setMetaTag(service *fhir.HealthcareService, code string) {
	if service.Meta == nil {
		service.Meta = &fhir.Meta{}
	}
	tags := service.Meta.Tag[:0]
	for _, tag := range service.Meta.Tag {
		if tag.System == nil || *tag.System != coding.MetaTagSystem {
			tags = append(tags, tag)
		}
	}
	service.Meta.Tag = append(tags, fhir.Coding{
		System: to.Ptr(coding.MetaTagSystem),
		Code:   to.Ptr(code),
	})
}
