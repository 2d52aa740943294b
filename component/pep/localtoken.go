package pep

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// localTokenLifetime bounds the internal token handed to the resource server.
const localTokenLifetime = 30 * time.Second

// LocalPatientID maps the patient identifier value from the PCM token onto the data
// source's logical patient identifier. The mapping is a one-way hash: the national
// identifier never reaches the resource server.
func LocalPatientID(identifierValue string) string {
	sum := sha256.Sum256([]byte(identifierValue))
	return "Patient/" + hex.EncodeToString(sum[:])
}

// patientIdentifierValue extracts the value part of the "system|value" patient claim.
func patientIdentifierValue(patient string) (string, error) {
	parts := strings.SplitN(patient, "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", fmt.Errorf("patient claim is not of the form system|value: %q", patient)
	}
	return parts[1], nil
}

// mintLocalToken translates an active introspection result into the short-lived
// internal JWT for the resource server. The claims are copied through, with the
// patient rewritten to the local hashed identifier.
func (c *Component) mintLocalToken(result introspectionResult) (string, error) {
	identifierValue, err := patientIdentifierValue(result.Patient)
	if err != nil {
		return "", err
	}

	issuedAt := time.Unix(result.IssuedAt, 0)
	token := jwt.New()
	claims := map[string]any{
		jwt.SubjectKey:    result.ClientID,
		jwt.IssuerKey:     result.Issuer,
		jwt.AudienceKey:   []string{result.Audience},
		jwt.JwtIDKey:      uuid.NewString(),
		jwt.IssuedAtKey:   issuedAt,
		jwt.ExpirationKey: issuedAt.Add(localTokenLifetime),
		"scope":           result.Scope,
		"client_id":       result.ClientID,
		"patient":         LocalPatientID(identifierValue),
		"cnf": map[string]any{
			"x5t#S256": result.Confirmation.X5tS256,
		},
	}
	if len(result.FHIRContext) > 0 {
		var fhirContext any
		if err := json.Unmarshal(result.FHIRContext, &fhirContext); err != nil {
			return "", fmt.Errorf("invalid fhirContext in introspection response: %w", err)
		}
		claims["fhirContext"] = fhirContext
	}
	for key, value := range claims {
		if err := token.Set(key, value); err != nil {
			return "", fmt.Errorf("set %s: %w", key, err)
		}
	}
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, []byte(c.config.InternalSecret)))
	if err != nil {
		return "", fmt.Errorf("sign local token: %w", err)
	}
	return string(signed), nil
}
