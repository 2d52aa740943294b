package coding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

func ptr(s string) *string { return &s }

func TestOrganizationHasType(t *testing.T) {
	org := fhir.Organization{
		Type: []fhir.CodeableConcept{{
			Coding: []fhir.Coding{{System: ptr(OrgTypeSystem), Code: ptr(OrgTypeSource)}},
		}},
	}
	assert.True(t, OrganizationHasType(org, OrgTypeSource))
	assert.False(t, OrganizationHasType(org, OrgTypePCM))
	assert.False(t, OrganizationHasType(fhir.Organization{}, OrgTypeSource))
}

func TestMetaHasTag(t *testing.T) {
	meta := &fhir.Meta{Tag: []fhir.Coding{{System: ptr(MetaTagSystem), Code: ptr(MetaTagCatalog)}}}
	assert.True(t, MetaHasTag(meta, MetaTagCatalog))
	assert.False(t, MetaHasTag(meta, MetaTagInstance))
	assert.False(t, MetaHasTag(nil, MetaTagCatalog))
}

func TestEqualsCode(t *testing.T) {
	assert.True(t, EqualsCode(fhir.Coding{System: ptr("sys"), Code: ptr("code")}, "sys", "code"))
	assert.False(t, EqualsCode(fhir.Coding{System: ptr("sys")}, "sys", "code"))
	assert.False(t, EqualsCode(fhir.Coding{Code: ptr("code")}, "sys", "code"))
}
