package dsrs

import (
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// observationBundle builds the laboratory result set for the mapped patient. The data
// source keys its records by the pseudonymous identifier only; there is no way back to
// the national identifier from here.
func observationBundle(patient string) (fhir.Bundle, error) {
	patientRef := fhir.Reference{Reference: &patient}
	securityLabel := fhir.Coding{
		System: to.Ptr(coding.InformationBucketsSystem),
		Code:   to.Ptr("laboratoryTests"),
	}
	observations := []fhir.Observation{
		{
			Id:     to.Ptr("obs-hemoglobin-" + shortKey(patient)),
			Meta:   &fhir.Meta{Security: []fhir.Coding{securityLabel}},
			Status: fhir.ObservationStatusFinal,
			Category: []fhir.CodeableConcept{{
				Coding: []fhir.Coding{{
					System: to.Ptr("http://terminology.hl7.org/CodeSystem/observation-category"),
					Code:   to.Ptr("laboratory"),
				}},
			}},
			Code: fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System:  to.Ptr("http://loinc.org"),
					Code:    to.Ptr("718-7"),
					Display: to.Ptr("Hemoglobin [Mass/volume] in Blood"),
				}},
			},
			Subject:           &patientRef,
			EffectiveDateTime: to.Ptr("2024-03-12T08:30:00Z"),
			ValueQuantity: &fhir.Quantity{
				Value:  to.Ptr(13.5),
				Unit:   to.Ptr("g/dL"),
				System: to.Ptr("http://unitsofmeasure.org"),
				Code:   to.Ptr("g/dL"),
			},
		},
		{
			Id:     to.Ptr("obs-glucose-" + shortKey(patient)),
			Meta:   &fhir.Meta{Security: []fhir.Coding{securityLabel}},
			Status: fhir.ObservationStatusFinal,
			Category: []fhir.CodeableConcept{{
				Coding: []fhir.Coding{{
					System: to.Ptr("http://terminology.hl7.org/CodeSystem/observation-category"),
					Code:   to.Ptr("laboratory"),
				}},
			}},
			Code: fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System:  to.Ptr("http://loinc.org"),
					Code:    to.Ptr("2339-0"),
					Display: to.Ptr("Glucose [Mass/volume] in Blood"),
				}},
			},
			Subject:           &patientRef,
			EffectiveDateTime: to.Ptr("2024-05-02T09:15:00Z"),
			ValueQuantity: &fhir.Quantity{
				Value:  to.Ptr(92.0),
				Unit:   to.Ptr("mg/dL"),
				System: to.Ptr("http://unitsofmeasure.org"),
				Code:   to.Ptr("mg/dL"),
			},
		},
	}

	var entries []fhir.BundleEntry
	for _, observation := range observations {
		entry, err := fhirutil.SearchsetEntry(observation, fhir.SearchEntryModeMatch)
		if err != nil {
			return fhir.Bundle{}, err
		}
		entries = append(entries, entry)
	}
	return fhirutil.NewSearchset(entries), nil
}

// shortKey derives a stable per-patient suffix for the generated resource ids.
func shortKey(patient string) string {
	const prefix = "Patient/"
	key := patient
	if len(key) > len(prefix)+8 {
		key = key[len(prefix) : len(prefix)+8]
	}
	return key
}
