package pcmrs

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// loadBootstrap seeds the store from a FHIR Bundle JSON document. All state is
// process memory, so every start replays the bootstrap set.
func (c *Component) loadBootstrap(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read bootstrap file: %w", err)
	}
	var bundle fhir.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("failed to parse bootstrap bundle: %w", err)
	}
	count, err := c.store.LoadBundle(bundle)
	if err != nil {
		return fmt.Errorf("failed to load bootstrap bundle: %w", err)
	}
	log.Info().Int("resources", count).Str("file", path).Msg("Seeded resource store from bootstrap bundle")
	return nil
}

// LoadBundle inserts every entry of the bundle into the store, dispatching on the
// entry's resourceType.
func (s *Store) LoadBundle(bundle fhir.Bundle) (int, error) {
	count := 0
	for _, entry := range bundle.Entry {
		if entry.Resource == nil {
			continue
		}
		var probe struct {
			ResourceType string `json:"resourceType"`
		}
		if err := json.Unmarshal(entry.Resource, &probe); err != nil {
			return count, fmt.Errorf("bundle entry is not a FHIR resource: %w", err)
		}
		var putErr error
		switch probe.ResourceType {
		case "Organization":
			var org fhir.Organization
			if putErr = json.Unmarshal(entry.Resource, &org); putErr == nil {
				putErr = s.PutOrganization(org)
			}
		case "Endpoint":
			var endpoint fhir.Endpoint
			if putErr = json.Unmarshal(entry.Resource, &endpoint); putErr == nil {
				putErr = s.PutEndpoint(endpoint)
			}
		case "HealthcareService":
			var service fhir.HealthcareService
			if putErr = json.Unmarshal(entry.Resource, &service); putErr == nil {
				putErr = s.PutHealthcareService(service)
			}
		case "Consent":
			var consent fhir.Consent
			if putErr = json.Unmarshal(entry.Resource, &consent); putErr == nil {
				putErr = s.PutConsent(consent)
			}
		case "VerificationResult":
			var result fhir.VerificationResult
			if putErr = json.Unmarshal(entry.Resource, &result); putErr == nil {
				putErr = s.PutVerificationResult(result)
			}
		default:
			return count, fmt.Errorf("unsupported resource type in bootstrap bundle: %s", probe.ResourceType)
		}
		if putErr != nil {
			return count, fmt.Errorf("failed to load %s: %w", probe.ResourceType, putErr)
		}
		count++
	}
	return count, nil
}
