package realtime

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry indexes every live connection by id and by authenticated user.
// It is the shared structure independent connection lifecycles compete over,
// so all operations are safe under concurrent invocation. Group membership
// lives on the Broker; the registry only tracks existence and identity.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[int64]map[string]*Connection
	logger zerolog.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		conns:  make(map[string]*Connection),
		byUser: make(map[int64]map[string]*Connection),
		logger: logger.With().Str("component", "ConnectionRegistry").Logger(),
	}
}

// Register adds a live connection and returns its id. Anonymous connections
// are tracked but not indexed by user.
func (r *Registry) Register(c *Connection) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[c.id] = c
	if !c.ident.Anonymous() {
		userConns, ok := r.byUser[c.ident.UserID]
		if !ok {
			userConns = make(map[string]*Connection)
			r.byUser[c.ident.UserID] = userConns
		}
		userConns[c.id] = c
	}

	r.logger.Debug().Str("conn", c.id).Int64("user_id", c.ident.UserID).
		Int("total", len(r.conns)).Msg("Connection registered.")
	return c.id
}

// Remove drops the connection from both indices. Idempotent; called from the
// transport-close path and from administrative force-disconnects alike.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[c.id]; !ok {
		return
	}
	delete(r.conns, c.id)
	if userConns, ok := r.byUser[c.ident.UserID]; ok {
		delete(userConns, c.id)
		if len(userConns) == 0 {
			delete(r.byUser, c.ident.UserID)
		}
	}

	r.logger.Debug().Str("conn", c.id).Int64("user_id", c.ident.UserID).
		Int("total", len(r.conns)).Msg("Connection removed.")
}

// Get looks a connection up by id.
func (r *Registry) Get(connID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connID]
	return c, ok
}

// ConnectionsForUser returns a snapshot of every open connection belonging to
// the user, across tabs and devices.
func (r *Registry) ConnectionsForUser(userID int64) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns := r.byUser[userID]
	out := make([]*Connection, 0, len(userConns))
	for _, c := range userConns {
		out = append(out, c)
	}
	return out
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
