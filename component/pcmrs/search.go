package pcmrs

import (
	"net/url"
	"slices"
	"strings"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

const (
	includeConsentActor         = "Consent:actor"
	includeOrganizationEndpoint = "Organization:endpoint"
	includeOrganizationPartOf   = "Organization:partof"
)

// maxIncludeDepth bounds the _include:iterate expansion over the organization graph.
// The partOf references form a DAG; two levels cover the parents of included
// organizations in practice.
const maxIncludeDepth = 2

type includeParams struct {
	direct  []string
	iterate []string
}

func parseIncludes(query url.Values) includeParams {
	return includeParams{
		direct:  query["_include"],
		iterate: query["_include:iterate"],
	}
}

func (p includeParams) wants(include string) bool {
	return slices.Contains(p.direct, include) || p.wantsIterate(include)
}

func (p includeParams) wantsIterate(include string) bool {
	return slices.Contains(p.iterate, include)
}

// includeSet collects included resources, deduplicated by id.
type includeSet struct {
	organizations map[string]fhir.Organization
	endpoints     map[string]fhir.Endpoint
}

func newIncludeSet() *includeSet {
	return &includeSet{
		organizations: map[string]fhir.Organization{},
		endpoints:     map[string]fhir.Endpoint{},
	}
}

// expandOrganizationGraph resolves Organization:endpoint and Organization:partof
// includes, walking breadth-first from the seed organizations. Seeds are either search
// matches (seedsAreIncludes false) or organizations that are themselves includes, e.g.
// consent actors. Expansion beyond the seeds only happens for the :iterate form of a
// parameter, bounded by maxIncludeDepth.
func (c *Component) expandOrganizationGraph(seeds []string, seedsAreIncludes bool, includes includeParams, set *includeSet) {
	type item struct {
		id    string
		depth int
	}
	queue := make([]item, 0, len(seeds))
	for _, id := range seeds {
		queue = append(queue, item{id: id})
	}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		org, ok := c.store.Organization(current.id)
		if !ok {
			continue
		}
		fromInclude := seedsAreIncludes || current.depth > 0
		if fromInclude {
			if _, seen := set.organizations[current.id]; seen && current.depth > 0 {
				continue
			}
			set.organizations[current.id] = *org
		}
		if current.depth >= maxIncludeDepth {
			continue
		}
		if includes.wants(includeOrganizationEndpoint) && (!fromInclude || includes.wantsIterate(includeOrganizationEndpoint)) {
			for _, endpoint := range c.store.EndpointsByOrganization(current.id) {
				set.endpoints[*endpoint.Id] = endpoint
			}
		}
		if includes.wants(includeOrganizationPartOf) && (!fromInclude || includes.wantsIterate(includeOrganizationPartOf)) {
			if parentID := fhirutil.ReferenceID(org.PartOf, "Organization"); parentID != "" {
				queue = append(queue, item{id: parentID, depth: current.depth + 1})
			}
		}
	}
}

// entries renders the include set as Bundle entries with search mode "include".
func (s *includeSet) entries() ([]fhir.BundleEntry, error) {
	var entries []fhir.BundleEntry
	for _, org := range sortedValues(s.organizations) {
		entry, err := fhirutil.SearchsetEntry(org, fhir.SearchEntryModeInclude)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	for _, endpoint := range sortedValues(s.endpoints) {
		entry, err := fhirutil.SearchsetEntry(endpoint, fhir.SearchEntryModeInclude)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// matchesTokenParam matches a token search value ("system|code" or "code") against a
// set of codeable concepts.
func matchesTokenParam(concepts []fhir.CodeableConcept, token string) bool {
	system := ""
	code := token
	if strings.Contains(token, "|") {
		parts := strings.SplitN(token, "|", 2)
		system, code = parts[0], parts[1]
	}
	for _, concept := range concepts {
		for _, c := range concept.Coding {
			if c.Code == nil || *c.Code != code {
				continue
			}
			if system == "" || (c.System != nil && *c.System == system) {
				return true
			}
		}
	}
	return false
}

// matchesNameParam implements the default FHIR string search: case-insensitive prefix.
func matchesNameParam(name *string, wanted string) bool {
	if name == nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(*name), strings.ToLower(wanted))
}

// matchesReferenceParam matches a reference search value, accepting both "Type/id" and
// a bare id.
func matchesReferenceParam(reference *fhir.Reference, resourceType string, wanted string) bool {
	id := fhirutil.ReferenceID(reference, resourceType)
	if id == "" {
		return false
	}
	return wanted == id || wanted == resourceType+"/"+id
}

func matchesIdentifierParam(identifiers []fhir.Identifier, token string) bool {
	return slices.ContainsFunc(identifiers, func(identifier fhir.Identifier) bool {
		return fhirutil.IdentifierMatchesToken(identifier, token)
	})
}
