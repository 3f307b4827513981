package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/auth"
	"github.com/evgenyalesich/project-manager/internal/events"
)

// TokenVerifier resolves the bearer credential from the handshake.
type TokenVerifier interface {
	Verify(credential string) (auth.Identity, error)
}

// Authorizer gates joins against current membership state. The same gate
// serves the handshake check and later in-session subscribe requests.
type Authorizer interface {
	CanJoin(ctx context.Context, ident auth.Identity, group events.Group) (bool, error)
}

// ServerConfig carries the transport-level knobs for the WebSocket server.
type ServerConfig struct {
	Port           string
	AllowedOrigins []string
	SendQueueSize  int
}

// Server runs the WebSocket endpoint: it admits connections, authenticates
// them, gates project-room access, and wires each accepted connection into
// the registry and broker. It runs its own dedicated HTTP server.
type Server struct {
	server    *http.Server
	upgrader  websocket.Upgrader
	verifier  TokenVerifier
	guard     Authorizer
	registry  *Registry
	broker    *Broker
	queueSize int
	logger    zerolog.Logger
}

// NewServer creates and wires up the WebSocket server.
func NewServer(
	cfg ServerConfig,
	verifier TokenVerifier,
	authorizer Authorizer,
	registry *Registry,
	broker *Broker,
	logger zerolog.Logger,
) (*Server, error) {
	if verifier == nil || authorizer == nil {
		return nil, fmt.Errorf("verifier and authorizer are required")
	}
	queueSize := cfg.SendQueueSize
	if queueSize <= 0 {
		queueSize = 64
	}

	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		verifier:  verifier,
		guard:     authorizer,
		registry:  registry,
		broker:    broker,
		queueSize: queueSize,
		logger:    logger.With().Str("component", "WebSocketServer").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/projects/{id}", s.projectHandler)
	mux.HandleFunc("GET /ws/notifications", s.notificationsHandler)
	s.server = &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: mux,
	}
	return s, nil
}

// Start runs the HTTP server for WebSocket connections.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("WebSocket server starting...")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server and tears down live connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down WebSocket server...")
	err := s.server.Shutdown(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("WebSocket server shutdown failed.")
	}
	s.logger.Info().Msg("WebSocket server shut down.")
	return err
}

// Handler exposes the route mux, for tests that dial through httptest.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// projectHandler admits a connection into one project broadcast room. The
// access gate runs before the upgrade: a bad credential is a 401, a valid
// identity without membership a 403.
func (s *Server) projectHandler(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || projectID <= 0 {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}

	ident, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	group := events.ProjectGroup(projectID)
	allowed, err := s.guard.CanJoin(r.Context(), ident, group)
	if err != nil {
		s.logger.Error().Err(err).Int64("project_id", projectID).Msg("Join authorization failed.")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if !allowed {
		http.Error(w, "not a project member", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	c := NewConnection(ws, ident, s.queueSize)
	s.registry.Register(c)
	if err := s.broker.Join(c, group); err != nil {
		s.broker.Unregister(c)
		c.Close()
		return
	}
	defer func() {
		s.broker.Unregister(c)
		c.Close()
	}()

	go c.WritePump(s.logger)

	s.logger.Info().Str("conn", c.ID()).Int64("user_id", ident.UserID).
		Int64("project_id", projectID).Msg("User connected to project room.")

	s.readLoop(c, func(raw []byte) {
		// Free-form client messages are relayed to the room verbatim.
		s.broker.Broadcast(group, events.Event{Type: events.Relay, Data: json.RawMessage(raw)})
	})

	s.logger.Info().Str("conn", c.ID()).Int64("project_id", projectID).Msg("User disconnected.")
}

// notificationsHandler admits a connection onto the caller's own personal
// channel. Identity is mandatory; the channel of user N only ever holds
// connections authenticated as N.
func (s *Server) notificationsHandler(w http.ResponseWriter, r *http.Request) {
	ident, err := s.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection.")
		return
	}

	c := NewConnection(ws, ident, s.queueSize)
	s.registry.Register(c)
	if err := s.broker.Join(c, events.UserGroup(ident.UserID)); err != nil {
		s.broker.Unregister(c)
		c.Close()
		return
	}
	defer func() {
		s.broker.Unregister(c)
		c.Close()
	}()

	go c.WritePump(s.logger)

	s.logger.Info().Str("conn", c.ID()).Int64("user_id", ident.UserID).
		Msg("User connected to notification channel.")

	s.readLoop(c, func(raw []byte) {
		s.handleControlFrame(r.Context(), c, raw)
	})

	s.logger.Info().Str("conn", c.ID()).Int64("user_id", ident.UserID).Msg("User disconnected.")
}

// readLoop pulls inbound frames until the peer goes away. Unparseable frames
// get an error reply and the connection stays open.
func (s *Server) readLoop(c *Connection, handle func(raw []byte)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !json.Valid(raw) {
			s.broker.Send(c, events.ErrorEvent(events.CodeMalformedMessage, "invalid JSON"))
			continue
		}
		handle(raw)
	}
}

// inboundFrame is the client→server wire shape on the personal channel.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleControlFrame services subscribe/unsubscribe requests sent over the
// personal channel, letting one connection follow additional project rooms.
// A denied subscribe is rejected with an error frame; the connection is not
// closed.
func (s *Server) handleControlFrame(ctx context.Context, c *Connection, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.broker.Send(c, events.ErrorEvent(events.CodeMalformedMessage, "invalid frame"))
		return
	}

	switch frame.Type {
	case "subscribe", "unsubscribe":
	default:
		// Anything else on this channel is ignored; it only exists for
		// server→client delivery.
		return
	}

	var req struct {
		ProjectID int64 `json:"project_id"`
	}
	if err := json.Unmarshal(frame.Data, &req); err != nil || req.ProjectID <= 0 {
		s.broker.Send(c, events.ErrorEvent(events.CodeBadRequest, "project_id required"))
		return
	}
	group := events.ProjectGroup(req.ProjectID)

	if frame.Type == "unsubscribe" {
		s.broker.Leave(c, group)
		s.broker.Send(c, events.Event{Type: events.Unsubscribed, Data: req})
		return
	}

	allowed, err := s.guard.CanJoin(ctx, c.Identity(), group)
	if err != nil || !allowed {
		if err != nil {
			s.logger.Error().Err(err).Int64("project_id", req.ProjectID).Msg("Subscribe authorization failed.")
		}
		s.broker.Send(c, events.ErrorEvent(events.CodeUnauthorized, "not a project member"))
		return
	}
	if err := s.broker.Join(c, group); err != nil {
		return
	}
	s.broker.Send(c, events.Event{Type: events.Subscribed, Data: req})
}

// originChecker builds the upgrader origin gate from the configured
// allow-list. An empty list admits only same-host requests; "*" admits all.
func originChecker(origins []string) func(r *http.Request) bool {
	allowAll := false
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		if u, err := url.Parse(o); err == nil && u.Scheme != "" && u.Host != "" {
			allowed[strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host)] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		normalized := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
		if _, ok := allowed[normalized]; ok {
			return true
		}
		return strings.EqualFold(u.Host, r.Host)
	}
}
