package fhirutil

import (
	"encoding/json"
	"fmt"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/to"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// VisitBundleResources iterates over all entries in the bundle,
// unmarshals the entry's resource to the specified ResType and calls the visitor function.
func VisitBundleResources[ResType any](bundle *fhir.Bundle, visitor func(resource *ResType) error) error {
	for i, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		var res ResType
		if err := json.Unmarshal(entry.Resource, &res); err != nil {
			return fmt.Errorf("unmarshal bundle entry resource into %T: %w", res, err)
		}
		if err := visitor(&res); err != nil {
			return fmt.Errorf("visit bundle entry resource %T: %w", res, err)
		}
		data, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("remarshal bundle entry resource %T: %w", res, err)
		}
		entry.Resource = data
		bundle.Entry[i] = entry
	}
	return nil
}

// SearchsetEntry marshals the resource into a Bundle entry with the given search mode.
func SearchsetEntry(resource any, mode fhir.SearchEntryMode) (fhir.BundleEntry, error) {
	data, err := json.Marshal(resource)
	if err != nil {
		return fhir.BundleEntry{}, fmt.Errorf("marshal bundle entry resource %T: %w", resource, err)
	}
	return fhir.BundleEntry{
		Resource: data,
		Search: &fhir.BundleEntrySearch{
			Mode: to.Ptr(mode),
		},
	}, nil
}

// NewSearchset creates a searchset Bundle with the given entries, setting the total to the number of matches.
func NewSearchset(entries []fhir.BundleEntry) fhir.Bundle {
	matches := 0
	for _, entry := range entries {
		if entry.Search != nil && entry.Search.Mode != nil && *entry.Search.Mode == fhir.SearchEntryModeMatch {
			matches++
		}
	}
	return fhir.Bundle{
		Type:  fhir.BundleTypeSearchset,
		Total: to.Ptr(matches),
		Entry: entries,
	}
}
