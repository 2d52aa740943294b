package authz

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// B2BExtension is the HL7 B2B authorization extension carried in the client assertion
// (extensions.hl7-b2b). It binds the token request to an organization, a purpose of use
// and one or more consents.
type B2BExtension struct {
	Version          string   `json:"version,omitempty"`
	OrganizationID   string   `json:"organization_id"`
	PurposeOfUse     any      `json:"purpose_of_use,omitempty"`
	ConsentReference []string `json:"consent_reference,omitempty"`
}

// OrganizationMatches compares the extension's organization_id (a URL) against a local
// organization id by its URL suffix.
func (e B2BExtension) OrganizationMatches(organizationID string) bool {
	if e.OrganizationID == organizationID {
		return true
	}
	return strings.HasSuffix(e.OrganizationID, "/"+organizationID)
}

// parseAssertionSubject decodes the assertion without verifying it, returning the iss/sub
// claim so the client (and thereby the verification key) can be looked up.
// iss and sub must both be present and equal.
func parseAssertionSubject(assertion string) (string, error) {
	token, err := jwt.ParseInsecure([]byte(assertion))
	if err != nil {
		return "", fmt.Errorf("failed to parse assertion: %w", err)
	}
	issuer := token.Issuer()
	subject := token.Subject()
	if issuer == "" || subject == "" || issuer != subject {
		return "", fmt.Errorf("assertion iss and sub must be present and equal")
	}
	return issuer, nil
}

// verifyAssertion verifies the assertion's RS256 signature with the client's registered
// certificate and checks that its audience is one of the accepted token endpoint URLs.
// It returns the hl7-b2b extension when the assertion carries one.
func verifyAssertion(assertion string, client Client, acceptedAudiences []string) (*B2BExtension, error) {
	token, err := jwt.Parse([]byte(assertion),
		jwt.WithKey(jwa.RS256, client.Certificate().PublicKey),
		jwt.WithValidate(true),
	)
	if err != nil {
		return nil, fmt.Errorf("assertion verification failed: %w", err)
	}
	audienceOK := slices.ContainsFunc(token.Audience(), func(audience string) bool {
		return slices.Contains(acceptedAudiences, audience)
	})
	if !audienceOK {
		return nil, fmt.Errorf("assertion audience does not match token endpoint (aud=%v)", token.Audience())
	}
	extensions, ok := token.PrivateClaims()["extensions"]
	if !ok {
		return nil, nil
	}
	extensionsMap, ok := extensions.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("assertion extensions claim is not an object")
	}
	b2bRaw, ok := extensionsMap["hl7-b2b"]
	if !ok {
		return nil, nil
	}
	data, err := json.Marshal(b2bRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode hl7-b2b extension: %w", err)
	}
	var b2b B2BExtension
	if err := json.Unmarshal(data, &b2b); err != nil {
		return nil, fmt.Errorf("failed to decode hl7-b2b extension: %w", err)
	}
	return &b2b, nil
}
