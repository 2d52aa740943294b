package cmd

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pkg/errors"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/authz"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/consentadmin"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/dsrs"
	libHTTPComponent "github.com/ronenabra/HDP-reference-architecture-v2-public/component/http"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/pcmrs"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/component/pep"
	"github.com/ronenabra/HDP-reference-architecture-v2-public/lib/logging"
)

// Start wires and runs the enabled components. A PCM deployment enables the
// authorization server, the resource server and the consent admin surface; a data
// source deployment enables the enforcement point and the local resource server.
func Start(ctx context.Context, config Config) error {
	logging.Init()
	if !config.StrictMode {
		slog.WarnContext(ctx, "Strict mode is disabled. This is NOT recommended for production environments!")
	}

	publicMux := http.NewServeMux()
	internalMux := http.NewServeMux()

	httpComponent, err := libHTTPComponent.New(config.HTTP, publicMux, internalMux)
	if err != nil {
		return errors.Wrap(err, "failed to create HTTP component")
	}
	components := []component.Lifecycle{
		httpComponent,
	}

	// The authorization and resource server share the process, the token store and
	// the resource graph: the store backs both the FHIR surface and the consent,
	// actor and endpoint binding decisions at the token endpoint.
	store := pcmrs.NewStore()

	var authzComponent *authz.Component
	if config.AuthZ.Enabled {
		authzComponent, err = authz.New(config.AuthZ, store, config.Config)
		if err != nil {
			return errors.Wrap(err, "failed to create authorization server component")
		}
		components = append(components, authzComponent)
	} else {
		slog.InfoContext(ctx, "Authorization server is disabled")
	}

	if config.PCMRS.Enabled {
		if authzComponent == nil {
			return errors.New("the resource server requires the authorization server to be enabled")
		}
		rsComponent := pcmrs.New(config.PCMRS, store, authzComponent.TokenStore(), config.Config)
		components = append(components, rsComponent)
	} else {
		slog.InfoContext(ctx, "Resource server is disabled")
	}

	if config.ConsentAdmin.Enabled {
		adminComponent, err := consentadmin.New(config.ConsentAdmin)
		if err != nil {
			return errors.Wrap(err, "failed to create consent admin component")
		}
		components = append(components, adminComponent)
	}

	if config.PEP.Enabled {
		pepComponent, err := pep.New(config.PEP)
		if err != nil {
			return errors.Wrap(err, "failed to create enforcement point component")
		}
		components = append(components, pepComponent)
	} else {
		slog.InfoContext(ctx, "Policy enforcement point is disabled")
	}

	if config.DSRS.Enabled {
		dsrsComponent, err := dsrs.New(config.DSRS)
		if err != nil {
			return errors.Wrap(err, "failed to create data source resource server component")
		}
		components = append(components, dsrsComponent)
	}

	// Components: RegisterHandlers()
	for _, cmp := range components {
		cmp.RegisterHttpHandlers(publicMux, internalMux)
	}

	// Components: Start()
	for _, cmp := range components {
		slog.DebugContext(ctx, "Starting component", logging.Component(cmp))
		if err := cmp.Start(); err != nil {
			return errors.Wrapf(err, "failed to start component: %T", cmp)
		}
		slog.DebugContext(ctx, "Component started", logging.Component(cmp))
	}

	slog.DebugContext(ctx, "System started, waiting for shutdown...")
	<-ctx.Done()

	// Components: Stop()
	slog.DebugContext(ctx, "Shutdown signalled, stopping components...")
	for _, cmp := range components {
		slog.DebugContext(ctx, "Stopping component", logging.Component(cmp))
		if err := cmp.Stop(context.Background()); err != nil {
			slog.ErrorContext(ctx, "Error stopping component", logging.Component(cmp), logging.Error(err))
		}
		slog.DebugContext(ctx, "Component stopped", logging.Component(cmp))
	}
	slog.InfoContext(ctx, "Goodbye!")
	return nil
}
