// Package collabservice wires the internal API surface of the realtime
// collaboration service into a runnable HTTP server.
package collabservice

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/collabservice/config"
	"github.com/evgenyalesich/project-manager/internal/api"
	"github.com/evgenyalesich/project-manager/internal/dispatch"
)

// Wrapper owns the internal API HTTP server.
type Wrapper struct {
	server *http.Server
	logger zerolog.Logger
}

// New creates and wires up the internal API service.
func New(
	cfg *config.AppConfig,
	dispatcher *dispatch.Dispatcher,
	membership api.Pinger,
	cache api.Pinger,
	logger zerolog.Logger,
) (*Wrapper, error) {
	handler, err := api.NewAPI(dispatcher, cfg.InternalAPIToken, membership, cache,
		logger.With().Str("component", "ApiService").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to create API handlers: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /internal/v1/dispatch", handler.DispatchHandler)
	mux.HandleFunc("GET /healthz", handler.HealthzHandler)

	return &Wrapper{
		server: &http.Server{
			Addr:    ":" + cfg.HTTPPort,
			Handler: mux,
		},
		logger: logger.With().Str("component", "ApiService").Logger(),
	}, nil
}

// Start runs the API server until it fails or is shut down.
func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info().Str("addr", w.server.Addr).Msg("API server starting...")
	if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the API server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info().Msg("Shutting down API server...")
	return w.server.Shutdown(ctx)
}

// Handler exposes the route mux for handler-level tests.
func (w *Wrapper) Handler() http.Handler { return w.server.Handler }
