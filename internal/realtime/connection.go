// Package realtime provides the components that track live WebSocket
// connections and fan events out to them: the connection registry, the group
// broker, and the HTTP server that admits connections.
package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/auth"
	"github.com/evgenyalesich/project-manager/internal/events"
)

const (
	// writeWait bounds a single frame write to the peer.
	writeWait = 10 * time.Second
	// pongWait is how long the peer may stay silent before the read loop
	// gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound frames.
	maxMessageSize = 64 * 1024
)

// Connection is one live WebSocket session. It owns its identity, transport
// handle, bounded outbound queue, and the set of groups it has joined. The
// joined set, overflow counter, and closed flag are guarded by the broker's
// mutex; everything else is immutable after construction.
type Connection struct {
	id    string
	ident auth.Identity
	ws    *websocket.Conn

	send chan []byte
	done chan struct{}

	closeOnce sync.Once

	// Broker-guarded state.
	joined   map[events.Group]struct{}
	overflow int
	closed   bool
}

// NewConnection wraps an accepted transport. A nil ws is allowed so the
// registry and broker can be exercised without a network peer.
func NewConnection(ws *websocket.Conn, ident auth.Identity, queueSize int) *Connection {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Connection{
		id:     uuid.NewString(),
		ident:  ident,
		ws:     ws,
		send:   make(chan []byte, queueSize),
		done:   make(chan struct{}),
		joined: make(map[events.Group]struct{}),
	}
}

// ID returns the opaque connection id assigned at construction.
func (c *Connection) ID() string { return c.id }

// Identity returns the authenticated user behind the connection.
func (c *Connection) Identity() auth.Identity { return c.ident }

// Close tears down the transport and stops the write pump. Safe to call from
// any goroutine, any number of times.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// WritePump drains the outbound queue onto the transport and keeps the peer
// alive with pings. It runs in its own goroutine per connection and exits
// when the connection is closed or a write fails.
func (c *Connection) WritePump(logger zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				logger.Debug().Err(err).Str("conn", c.id).Msg("Write failed, dropping connection.")
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
