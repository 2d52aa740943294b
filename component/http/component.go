package http

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"

	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/tlsutil"
	"github.com/rs/zerolog/log"
)

var _ component.Lifecycle = (*Component)(nil)

type Config struct {
	// PublicAddress is the listen address for the mutually-authenticated API listener.
	PublicAddress string `koanf:"publicaddress"`
	// InternalAddress is the listen address for the plain-HTTP internal listener.
	// It must not be exposed outside the trusted network.
	InternalAddress string `koanf:"internaladdress"`
	// TLS configures the public listener. When set, clients must present a certificate
	// chaining to the configured client CA.
	TLS tlsutil.ServerConfig `koanf:"tls"`
}

func DefaultConfig() Config {
	return Config{
		PublicAddress:   ":8443",
		InternalAddress: ":8081",
	}
}

type Component struct {
	config         Config
	publicMux      *http.ServeMux
	publicServer   *http.Server
	internalMux    *http.ServeMux
	internalServer *http.Server
	tlsConfig      *tls.Config
}

// New creates an instance of the HTTP component, which owns the two listeners of the application:
// a public one terminating mutual TLS and an internal plain-HTTP one.
func New(config Config, publicMux *http.ServeMux, internalMux *http.ServeMux) (*Component, error) {
	var tlsConfig *tls.Config
	if config.TLS.Enabled() {
		var err error
		tlsConfig, err = tlsutil.CreateServerTLSConfig(config.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create server TLS config: %w", err)
		}
	}
	return &Component{
		config:      config,
		publicMux:   publicMux,
		internalMux: internalMux,
		tlsConfig:   tlsConfig,
	}, nil
}

func (c *Component) Start() error {
	c.publicServer = &http.Server{
		Addr:      c.config.PublicAddress,
		Handler:   c.publicMux,
		TLSConfig: c.tlsConfig,
	}
	c.internalServer = &http.Server{
		Addr:    c.config.InternalAddress,
		Handler: c.internalMux,
	}
	log.Info().Msgf("Starting HTTP servers (public-address: %s, internal-address: %s)", c.publicServer.Addr, c.internalServer.Addr)
	go func() {
		var err error
		if c.tlsConfig != nil {
			// Certificates come from TLSConfig.
			err = c.publicServer.ListenAndServeTLS("", "")
		} else {
			err = c.publicServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Err(err).Msg("Failed to start public HTTP server")
		}
	}()
	go func() {
		if err := c.internalServer.ListenAndServe(); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				log.Err(err).Msg("Failed to start internal HTTP server")
			}
		}
	}()
	return nil
}

func (c *Component) Stop(ctx context.Context) error {
	if err := c.publicServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown public HTTP server: %w", err)
	}
	if err := c.internalServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown internal HTTP server: %w", err)
	}
	return nil
}

func (c *Component) RegisterHttpHandlers(publicMux *http.ServeMux, _ *http.ServeMux) {
	// Nothing to do here
}
