package fhirutil

import (
	"fmt"
	"strings"

	"github.com/zorgbijjou/golang-fhir-models/fhir-models/fhir"
)

// TokenToIdentifier parses a FHIR token search value ("system|value" or "value") into an Identifier.
func TokenToIdentifier(token string) (*fhir.Identifier, error) {
	if token == "" {
		return nil, fmt.Errorf("empty identifier token")
	}
	if !strings.Contains(token, "|") {
		value := token
		return &fhir.Identifier{Value: &value}, nil
	}
	parts := strings.SplitN(token, "|", 2)
	if parts[1] == "" {
		return nil, fmt.Errorf("identifier token without value: %s", token)
	}
	return &fhir.Identifier{System: &parts[0], Value: &parts[1]}, nil
}

// IdentifierToken renders an Identifier as "system|value", or just "value" when system is absent.
func IdentifierToken(identifier fhir.Identifier) string {
	value := ""
	if identifier.Value != nil {
		value = *identifier.Value
	}
	if identifier.System == nil || *identifier.System == "" {
		return value
	}
	return *identifier.System + "|" + value
}

// IdentifierMatchesToken matches an Identifier against a token search value.
// A token without system matches on value alone.
func IdentifierMatchesToken(identifier fhir.Identifier, token string) bool {
	wanted, err := TokenToIdentifier(token)
	if err != nil {
		return false
	}
	if identifier.Value == nil || wanted.Value == nil || *identifier.Value != *wanted.Value {
		return false
	}
	if wanted.System == nil {
		return true
	}
	return identifier.System != nil && *identifier.System == *wanted.System
}

// ParseLocalReference splits a local reference "Type/id" into its parts.
func ParseLocalReference(reference string) (resourceType string, id string, ok bool) {
	parts := strings.Split(reference, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// LocalReference builds a Reference to a local resource.
func LocalReference(resourceType string, id string) fhir.Reference {
	ref := resourceType + "/" + id
	return fhir.Reference{
		Reference: &ref,
		Type:      &resourceType,
	}
}

// ReferenceID returns the id part of a local reference, or "" when the reference
// is absent or not of the given type.
func ReferenceID(reference *fhir.Reference, resourceType string) string {
	if reference == nil || reference.Reference == nil {
		return ""
	}
	refType, id, ok := ParseLocalReference(*reference.Reference)
	if !ok || refType != resourceType {
		return ""
	}
	return id
}
