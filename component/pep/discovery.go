package pep

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/from"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
)

// smartConfiguration is the subset of the PCM's SMART discovery document the
// enforcement point needs.
type smartConfiguration struct {
	IntrospectionEndpoint string `json:"introspection_endpoint"`
}

// discoveryCache resolves and caches the PCM introspection endpoint. Discovery
// failures fall back to the configured default; a duplicate fetch on a cold cache is
// harmless.
type discoveryCache struct {
	mux      sync.RWMutex
	endpoint string
}

func (c *Component) introspectionEndpoint(ctx context.Context) string {
	c.discovery.mux.RLock()
	endpoint := c.discovery.endpoint
	c.discovery.mux.RUnlock()
	if endpoint != "" {
		return endpoint
	}

	configURL := c.config.FHIRBaseURL + "/.well-known/smart-configuration"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, configURL, nil)
	if err != nil {
		return c.config.IntrospectionEndpoint
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		slog.WarnContext(ctx, "SMART configuration discovery failed, using configured introspection endpoint", logging.Error(err))
		return c.config.IntrospectionEndpoint
	}
	defer response.Body.Close()
	config, err := from.JSONResponse[smartConfiguration](response)
	if err != nil || config.IntrospectionEndpoint == "" {
		slog.WarnContext(ctx, "SMART configuration document unusable, using configured introspection endpoint", logging.Error(err))
		return c.config.IntrospectionEndpoint
	}

	c.discovery.mux.Lock()
	c.discovery.endpoint = config.IntrospectionEndpoint
	c.discovery.mux.Unlock()
	return config.IntrospectionEndpoint
}
