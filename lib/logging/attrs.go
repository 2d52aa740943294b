package logging

import (
	"fmt"
	"log/slog"
)

// Error returns a slog attribute for errors.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// ClientID returns a slog attribute for OAuth2 client identifiers.
func ClientID(id string) slog.Attr {
	return slog.String("client_id", id)
}

// Organization returns a slog attribute for organization identifiers.
func Organization(id string) slog.Attr {
	return slog.String("organization_id", id)
}

// TypeOf returns a slog attribute with the type name of the given value.
func TypeOf(key string, v any) slog.Attr {
	return slog.String(key, fmt.Sprintf("%T", v))
}

// Component returns a slog attribute for a component type.
func Component(v any) slog.Attr {
	return TypeOf("component", v)
}
