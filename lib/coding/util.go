package coding

import (
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func EqualsCode(coding fhir.Coding, system string, value string) bool {
	return coding.System != nil && *coding.System == system &&
		coding.Code != nil && *coding.Code == value
}

// ConceptHasCode reports whether any of the concept's codings matches system|value.
func ConceptHasCode(concept fhir.CodeableConcept, system string, value string) bool {
	for _, c := range concept.Coding {
		if EqualsCode(c, system, value) {
			return true
		}
	}
	return false
}

// OrganizationHasType reports whether the organization carries the given pcm-org-type code.
func OrganizationHasType(org fhir.Organization, code string) bool {
	for _, concept := range org.Type {
		if ConceptHasCode(concept, OrgTypeSystem, code) {
			return true
		}
	}
	return false
}

// MetaHasTag reports whether the resource meta carries the given pcm-meta-tag code.
func MetaHasTag(meta *fhir.Meta, code string) bool {
	if meta == nil {
		return false
	}
	for _, tag := range meta.Tag {
		if EqualsCode(tag, MetaTagSystem, code) {
			return true
		}
	}
	return false
}
