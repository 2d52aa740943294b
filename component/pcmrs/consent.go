package pcmrs

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirapi"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// consentTransitionAllowed encodes the consent state machine:
// proposed->active and proposed->rejected happen through the approval surface (admin),
// active->inactive may be done by the requester, and the administrator may force any
// transition.
func consentTransitionAllowed(from fhir.ConsentState, target fhir.ConsentState, requester bool, admin bool) bool {
	if admin {
		return true
	}
	if requester {
		return from == fhir.ConsentStateActive && target == fhir.ConsentStateInactive
	}
	return false
}

// consentActorIDs returns the organization ids of all provision actors.
func consentActorIDs(consent fhir.Consent) []string {
	if consent.Provision == nil {
		return nil
	}
	ids := make([]string, 0, len(consent.Provision.Actor))
	for _, actor := range consent.Provision.Actor {
		if id := fhirutil.ReferenceID(&actor.Reference, "Organization"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func consentHasActor(consent fhir.Consent, organizationID string) bool {
	for _, id := range consentActorIDs(consent) {
		if id == organizationID {
			return true
		}
	}
	return false
}

// consentRequesterID returns the organization id of the IRCP (information recipient) actor.
func consentRequesterID(consent fhir.Consent) string {
	if consent.Provision == nil {
		return ""
	}
	for _, actor := range consent.Provision.Actor {
		if coding.ConceptHasCode(actor.Role, coding.ConsentActorRoleSystem, coding.ConsentActorRoleRequester) {
			return fhirutil.ReferenceID(&actor.Reference, "Organization")
		}
	}
	return ""
}

// handleCreateConsent registers a consent proposal. The server owns the identifiers,
// the default codings and the initial actor list: the caller becomes the sole
// information recipient, custodians are only added on approval.
func (c *Component) handleCreateConsent(w http.ResponseWriter, r *http.Request, principal Principal) {
	request, err := fhirapi.ReadRequest[fhir.Consent](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	consent := request.Resource
	if consent.Patient == nil || consent.Patient.Identifier == nil || consent.Patient.Identifier.Value == nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("consent requires patient.identifier", nil))
		return
	}
	if _, ok := c.store.Organization(principal.OrganizationID); !ok {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("caller organization is not registered", nil))
		return
	}

	consent.Id = to.Ptr(uuid.NewString())
	consent.Identifier = append(consent.Identifier, fhir.Identifier{
		System: to.Ptr(coding.ConsentIdentifierSystem),
		Value:  to.Ptr(uuid.NewString()),
	})
	consent.Status = fhir.ConsentStateProposed
	consent.Scope = fhir.CodeableConcept{
		Coding: []fhir.Coding{{
			System: to.Ptr("http://terminology.hl7.org/CodeSystem/consentscope"),
			Code:   to.Ptr("patient-privacy"),
		}},
	}
	consent.Category = []fhir.CodeableConcept{{
		Coding: []fhir.Coding{{
			System: to.Ptr("http://loinc.org"),
			Code:   to.Ptr("59284-0"),
		}},
	}}
	consent.Provision = &fhir.ConsentProvision{
		Actor: []fhir.ConsentProvisionActor{{
			Role: fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System: to.Ptr(coding.ConsentActorRoleSystem),
					Code:   to.Ptr(coding.ConsentActorRoleRequester),
				}},
			},
			Reference: fhirutil.LocalReference("Organization", principal.OrganizationID),
		}},
		Purpose: []fhir.Coding{{
			System: to.Ptr("http://terminology.hl7.org/CodeSystem/v3-ActReason"),
			Code:   to.Ptr("TREAT"),
		}},
	}

	if err := c.store.PutConsent(consent); err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.BadRequestError("failed to store consent", err))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusCreated, consent)
}

// handleReadConsent returns the consent to the administrator and to actors. Anyone else
// gets a 404, not a 403: non-parties must not learn that the consent exists.
func (c *Component) handleReadConsent(w http.ResponseWriter, r *http.Request, principal Principal) {
	consent, ok := c.store.Consent(r.PathValue("id"))
	if !ok || (!principal.Admin && !consentHasActor(*consent, principal.OrganizationID)) {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("Consent not found"))
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, consent)
}

func (c *Component) handleSearchConsent(w http.ResponseWriter, r *http.Request, principal Principal) {
	query := r.URL.Query()
	var matches []fhir.Consent
	for _, consent := range c.store.Consents() {
		if !principal.Admin && !consentHasActor(consent, principal.OrganizationID) {
			continue
		}
		if wanted := query.Get("_id"); wanted != "" && (consent.Id == nil || *consent.Id != wanted) {
			continue
		}
		if wanted := query.Get("status"); wanted != "" && consent.Status.Code() != wanted {
			continue
		}
		patientToken := query.Get("patient.identifier")
		if patientToken == "" {
			patientToken = query.Get("patient")
		}
		if patientToken != "" {
			if consent.Patient == nil || consent.Patient.Identifier == nil ||
				!fhirutil.IdentifierMatchesToken(*consent.Patient.Identifier, patientToken) {
				continue
			}
		}
		if wanted := query.Get("pcm-service"); wanted != "" && !matchesConsentService(consent, wanted) {
			continue
		}
		matches = append(matches, consent)
	}

	var entries []fhir.BundleEntry
	actorSeeds := map[string]struct{}{}
	for _, consent := range matches {
		entry, err := fhirutil.SearchsetEntry(consent, fhir.SearchEntryModeMatch)
		if err != nil {
			fhirapi.SendErrorResponse(r.Context(), w, err)
			return
		}
		entries = append(entries, entry)
		for _, id := range consentActorIDs(consent) {
			actorSeeds[id] = struct{}{}
		}
	}

	// Includes expand only from the consents the caller is allowed to see, so a
	// non-admin can never pull in organizations or endpoints that are not reachable
	// through one of its own consents.
	includes := parseIncludes(query)
	set := newIncludeSet()
	if includes.wants(includeConsentActor) {
		seeds := make([]string, 0, len(actorSeeds))
		for id := range actorSeeds {
			seeds = append(seeds, id)
		}
		c.expandOrganizationGraph(seeds, true, includes, set)
	}
	includeEntries, err := set.entries()
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, fhirutil.NewSearchset(append(entries, includeEntries...)))
}

func matchesConsentService(consent fhir.Consent, wanted string) bool {
	for _, extension := range consent.Extension {
		if extension.Url != coding.PCMServiceExtensionURL {
			continue
		}
		if matchesReferenceParam(extension.ValueReference, "HealthcareService", wanted) {
			return true
		}
	}
	return false
}

// handleUpdateConsent lets the administrator replace the consent wholesale. A
// non-admin caller must be the requester, and the only accepted change is the
// transition to inactive: the submitted resource must be identical to the stored one
// apart from the status.
func (c *Component) handleUpdateConsent(w http.ResponseWriter, r *http.Request, principal Principal) {
	id := r.PathValue("id")
	request, err := fhirapi.ReadRequest[fhir.Consent](r)
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	var updated fhir.Consent
	err = c.store.UpdateConsent(id, func(stored *fhir.Consent) error {
		incoming := request.Resource
		incoming.Id = stored.Id
		if principal.Admin {
			*stored = incoming
			updated = incoming
			return nil
		}
		if consentRequesterID(*stored) != principal.OrganizationID {
			return fhirapi.ForbiddenError("only the requesting organization may update this consent")
		}
		if !consentTransitionAllowed(stored.Status, incoming.Status, true, false) {
			return fhirapi.ForbiddenError("the requester may only withdraw an active consent")
		}
		if !equalExceptStatus(*stored, incoming) {
			return fhirapi.ForbiddenError("only the status may be changed")
		}
		stored.Status = fhir.ConsentStateInactive
		updated = *stored
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		fhirapi.SendErrorResponse(r.Context(), w, fhirapi.NotFoundError("Consent not found"))
		return
	}
	if err != nil {
		fhirapi.SendErrorResponse(r.Context(), w, err)
		return
	}
	fhirapi.SendResponse(r.Context(), w, http.StatusOK, updated)
}

// equalExceptStatus compares two consents over their canonical JSON form, ignoring the
// status and meta fields.
func equalExceptStatus(a fhir.Consent, b fhir.Consent) bool {
	a.Status = b.Status
	a.Meta = nil
	b.Meta = nil
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}
