package pcmrs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/coding"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/fhirutil"
	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// Store holds the PCM resource graph in process memory, keyed by (type, id).
// All state is rebuilt from the bootstrap set at start; there is no persistence.
// A single lock guards all types: updates are read-modify-write and cross-resource
// invariants (an instance referencing its freshly created canonical) must be
// committed atomically.
type Store struct {
	mux                 sync.RWMutex
	organizations       map[string]fhir.Organization
	endpoints           map[string]fhir.Endpoint
	services            map[string]fhir.HealthcareService
	consents            map[string]fhir.Consent
	verificationResults map[string]fhir.VerificationResult
}

func NewStore() *Store {
	return &Store{
		organizations:       map[string]fhir.Organization{},
		endpoints:           map[string]fhir.Endpoint{},
		services:            map[string]fhir.HealthcareService{},
		consents:            map[string]fhir.Consent{},
		verificationResults: map[string]fhir.VerificationResult{},
	}
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]T, 0, len(keys))
	for _, key := range keys {
		values = append(values, m[key])
	}
	return values
}

func (s *Store) Organization(id string) (*fhir.Organization, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	org, ok := s.organizations[id]
	if !ok {
		return nil, false
	}
	return &org, true
}

func (s *Store) Organizations() []fhir.Organization {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return sortedValues(s.organizations)
}

func (s *Store) PutOrganization(org fhir.Organization) error {
	if org.Id == nil || *org.Id == "" {
		return fmt.Errorf("organization without id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.organizations[*org.Id] = org
	return nil
}

// UpdateOrganization applies fn to the stored organization under the write lock,
// so the read and write are atomic with respect to concurrent writers.
func (s *Store) UpdateOrganization(id string, fn func(stored *fhir.Organization) error) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	org, ok := s.organizations[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&org); err != nil {
		return err
	}
	s.organizations[id] = org
	return nil
}

func (s *Store) Endpoint(id string) (*fhir.Endpoint, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	endpoint, ok := s.endpoints[id]
	if !ok {
		return nil, false
	}
	return &endpoint, true
}

func (s *Store) Endpoints() []fhir.Endpoint {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return sortedValues(s.endpoints)
}

func (s *Store) PutEndpoint(endpoint fhir.Endpoint) error {
	if endpoint.Id == nil || *endpoint.Id == "" {
		return fmt.Errorf("endpoint without id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.endpoints[*endpoint.Id] = endpoint
	return nil
}

func (s *Store) UpdateEndpoint(id string, fn func(stored *fhir.Endpoint) error) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	endpoint, ok := s.endpoints[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&endpoint); err != nil {
		return err
	}
	s.endpoints[id] = endpoint
	return nil
}

func (s *Store) HealthcareService(id string) (*fhir.HealthcareService, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	service, ok := s.services[id]
	if !ok {
		return nil, false
	}
	return &service, true
}

func (s *Store) HealthcareServices() []fhir.HealthcareService {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return sortedValues(s.services)
}

func (s *Store) PutHealthcareService(service fhir.HealthcareService) error {
	if service.Id == nil || *service.Id == "" {
		return fmt.Errorf("healthcare service without id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.services[*service.Id] = service
	return nil
}

// PutHealthcareServicePair stores a canonical and the instance referencing it in one
// critical section, canonical first, so no reader can observe the instance with a
// dangling canonical link.
func (s *Store) PutHealthcareServicePair(canonical fhir.HealthcareService, instance fhir.HealthcareService) error {
	if canonical.Id == nil || instance.Id == nil {
		return fmt.Errorf("healthcare service without id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.services[*canonical.Id] = canonical
	s.services[*instance.Id] = instance
	return nil
}

func (s *Store) UpdateHealthcareService(id string, fn func(stored *fhir.HealthcareService) error) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	service, ok := s.services[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&service); err != nil {
		return err
	}
	s.services[id] = service
	return nil
}

func (s *Store) Consent(id string) (*fhir.Consent, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	consent, ok := s.consents[id]
	if !ok {
		return nil, false
	}
	return &consent, true
}

func (s *Store) Consents() []fhir.Consent {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return sortedValues(s.consents)
}

func (s *Store) PutConsent(consent fhir.Consent) error {
	if consent.Id == nil || *consent.Id == "" {
		return fmt.Errorf("consent without id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.consents[*consent.Id] = consent
	return nil
}

func (s *Store) UpdateConsent(id string, fn func(stored *fhir.Consent) error) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	consent, ok := s.consents[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(&consent); err != nil {
		return err
	}
	s.consents[id] = consent
	return nil
}

func (s *Store) VerificationResult(id string) (*fhir.VerificationResult, bool) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	result, ok := s.verificationResults[id]
	if !ok {
		return nil, false
	}
	return &result, true
}

func (s *Store) VerificationResults() []fhir.VerificationResult {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return sortedValues(s.verificationResults)
}

func (s *Store) PutVerificationResult(result fhir.VerificationResult) error {
	if result.Id == nil || *result.Id == "" {
		return fmt.Errorf("verification result without id")
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.verificationResults[*result.Id] = result
	return nil
}

// EndpointAddressesByOrganization returns the addresses of all Endpoints managed by the
// organization. It backs the authorization server's resource and audience binding.
func (s *Store) EndpointAddressesByOrganization(organizationID string) []string {
	var addresses []string
	for _, endpoint := range s.Endpoints() {
		if fhirutil.ReferenceID(endpoint.ManagingOrganization, "Organization") == organizationID {
			addresses = append(addresses, endpoint.Address)
		}
	}
	return addresses
}

// EndpointsByOrganization returns all Endpoints managed by the organization.
func (s *Store) EndpointsByOrganization(organizationID string) []fhir.Endpoint {
	var endpoints []fhir.Endpoint
	for _, endpoint := range s.Endpoints() {
		if fhirutil.ReferenceID(endpoint.ManagingOrganization, "Organization") == organizationID {
			endpoints = append(endpoints, endpoint)
		}
	}
	return endpoints
}

// AdminOrganizationID returns the id of the single Organization of type pcm.
func (s *Store) AdminOrganizationID() string {
	for _, org := range s.Organizations() {
		if coding.OrganizationHasType(org, coding.OrgTypePCM) {
			return *org.Id
		}
	}
	return ""
}
