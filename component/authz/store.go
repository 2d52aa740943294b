package authz

import (
	"sync"
	"time"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// TokenLifetime is the lifetime of issued access tokens. Tokens are short-lived on purpose:
// the consent binding is only checked at issuance, so the window in which a revoked consent
// can still be exercised is bounded by this value.
const TokenLifetime = 30 * time.Second

// Confirmation is the RFC 7800 holder-of-key confirmation claim.
type Confirmation struct {
	X5tS256 string `json:"x5t#S256"`
}

// ContextEntry is a fhirContext hint attached to the token for downstream policy.
type ContextEntry struct {
	Type       string          `json:"type"`
	Identifier fhir.Identifier `json:"identifier"`
}

// TokenRecord is the authoritative record behind an opaque access token.
// Its JSON form is the introspection response body (minus the active flag).
type TokenRecord struct {
	Token          string         `json:"-"`
	Subject        string         `json:"sub"`
	ClientID       string         `json:"client_id"`
	OrganizationID string         `json:"organization_id"`
	Scope          string         `json:"scope"`
	Issuer         string         `json:"iss"`
	Audience       string         `json:"aud"`
	Patient        string         `json:"patient,omitempty"`
	FHIRContext    []ContextEntry `json:"fhirContext,omitempty"`
	Confirmation   Confirmation   `json:"cnf"`
	IssuedAt       int64          `json:"iat"`
	ExpiresAt      int64          `json:"exp"`
}

func (t TokenRecord) expired(now time.Time) bool {
	return now.Unix() >= t.ExpiresAt
}

// TokenStore holds issued tokens in process memory. There is no persistence and no
// background sweeper: expired entries are deleted when a lookup observes them.
type TokenStore struct {
	tokens *sync.Map
	nowFn  func() time.Time
}

func NewTokenStore() *TokenStore {
	return &TokenStore{
		tokens: &sync.Map{},
		nowFn:  time.Now,
	}
}

// Insert stores the record under its opaque token.
func (s *TokenStore) Insert(record TokenRecord) {
	s.tokens.Store(record.Token, record)
}

// Lookup returns the record for the given opaque token.
// Expired records are removed and reported as absent.
func (s *TokenStore) Lookup(token string) (*TokenRecord, bool) {
	raw, ok := s.tokens.Load(token)
	if !ok {
		return nil, false
	}
	record := raw.(TokenRecord)
	if record.expired(s.nowFn()) {
		s.tokens.Delete(token)
		return nil, false
	}
	return &record, true
}

// Authenticate resolves a bearer token to its client and organization.
// It implements the resource server's bearer authentication.
func (s *TokenStore) Authenticate(token string) (clientID string, organizationID string, scope string, ok bool) {
	record, ok := s.Lookup(token)
	if !ok {
		return "", "", "", false
	}
	return record.ClientID, record.OrganizationID, record.Scope, true
}
