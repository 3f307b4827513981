// Package api defines the HTTP handlers of the internal control surface: the
// dispatch endpoint the CRUD layer calls after a committed write, and health
// reporting.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/dispatch"
)

// Pinger reports liveness of an infrastructure dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API holds the dependencies for the stateless internal handlers.
type API struct {
	dispatcher   *dispatch.Dispatcher
	serviceToken string
	membership   Pinger
	cache        Pinger
	logger       zerolog.Logger
}

// NewAPI creates the internal API handler set. serviceToken protects the
// dispatch endpoint; membership and cache are optional health probes.
func NewAPI(dispatcher *dispatch.Dispatcher, serviceToken string, membership, cache Pinger, logger zerolog.Logger) (*API, error) {
	if serviceToken == "" {
		return nil, errors.New("internal api token cannot be empty")
	}
	return &API{
		dispatcher:   dispatcher,
		serviceToken: serviceToken,
		membership:   membership,
		cache:        cache,
		logger:       logger.With().Str("component", "API").Logger(),
	}, nil
}

// DispatchHandler accepts one committed mutation and hands it to the event
// dispatcher. 202 means the fan-out was sequenced; delivery itself stays
// best-effort.
func (a *API) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		writeJSONError(w, http.StatusUnauthorized, "missing or invalid service token")
		return
	}

	var m dispatch.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to decode mutation body.")
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := a.dispatcher.Dispatch(r.Context(), m); err != nil {
		a.logger.Warn().Err(err).Str("kind", string(m.Kind)).Msg("Mutation rejected.")
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// HealthzHandler reports process liveness plus dependency reachability.
func (a *API) HealthzHandler(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	deps := map[string]string{}

	check := func(name string, p Pinger) {
		if p == nil {
			return
		}
		if err := p.Ping(r.Context()); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}
	check("postgres", a.membership)
	check("redis", a.cache)

	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "dependencies": deps})
}

// authorized checks the static bearer token in constant time.
func (a *API) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.serviceToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
