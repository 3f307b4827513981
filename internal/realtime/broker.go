package realtime

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/events"
)

// ErrConnectionClosed is returned by Join when the connection has already
// been torn down.
var ErrConnectionClosed = errors.New("connection closed")

// defaultMaxOverflow is how many consecutive overflow events a connection
// survives before it is closed as unresponsive.
const defaultMaxOverflow = 3

// Broker owns the room→subscriber mapping and the delivery fan-out. A single
// mutex serializes join, leave, and broadcast, which keeps the room sets and
// each connection's joined set consistent at every observable point: a
// concurrent joiner either sees a broadcast in full or not at all.
//
// Delivery policy: Broadcast never waits on a peer. Each connection owns a
// bounded queue; when it is full the oldest queued frame is dropped and an
// overflow is counted. After maxOverflow consecutive overflows the connection
// is closed as unresponsive, since a stale partial view is worse than a
// reconnect.
type Broker struct {
	mu          sync.Mutex
	registry    *Registry
	rooms       map[events.Group]map[*Connection]struct{}
	maxOverflow int
	logger      zerolog.Logger
}

// NewBroker creates a broker over the given registry. maxOverflow <= 0 keeps
// the default.
func NewBroker(registry *Registry, maxOverflow int, logger zerolog.Logger) *Broker {
	if maxOverflow <= 0 {
		maxOverflow = defaultMaxOverflow
	}
	return &Broker{
		registry:    registry,
		rooms:       make(map[events.Group]map[*Connection]struct{}),
		maxOverflow: maxOverflow,
		logger:      logger.With().Str("component", "GroupBroker").Logger(),
	}
}

// Join subscribes the connection to the group, creating the group lazily.
// The caller must already have cleared the access guard.
func (b *Broker) Join(c *Connection, group events.Group) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	room, ok := b.rooms[group]
	if !ok {
		room = make(map[*Connection]struct{})
		b.rooms[group] = room
	}
	room[c] = struct{}{}
	c.joined[group] = struct{}{}

	b.logger.Debug().Str("conn", c.id).Str("group", group.String()).
		Int("subscribers", len(room)).Msg("Joined group.")
	return nil
}

// Leave removes the connection from the group. The group structure is deleted
// when its last subscriber leaves.
func (b *Broker) Leave(c *Connection, group events.Group) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(c, group)
}

// Unregister detaches the connection from every group it joined and from the
// registry. Idempotent; it serves both the transport-close path and
// administrative force-disconnects.
func (b *Broker) Unregister(c *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.detachLocked(c)
}

// Broadcast enqueues the event for every connection subscribed to the group
// at the moment of the call. It never blocks on a slow peer.
func (b *Broker) Broadcast(group events.Group, ev events.Event) {
	frame, err := ev.Frame()
	if err != nil {
		b.logger.Error().Err(err).Str("group", group.String()).Msg("Dropping unmarshalable event.")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.rooms[group] {
		b.enqueueLocked(c, frame)
	}
}

// BroadcastToUser delivers the event to every open connection of the user,
// regardless of which groups those connections joined.
func (b *Broker) BroadcastToUser(userID int64, ev events.Event) {
	frame, err := ev.Frame()
	if err != nil {
		b.logger.Error().Err(err).Int64("user_id", userID).Msg("Dropping unmarshalable event.")
		return
	}

	conns := b.registry.ConnectionsForUser(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range conns {
		b.enqueueLocked(c, frame)
	}
}

// Send delivers the event to a single connection, bypassing group routing.
// Used for direct replies such as error frames.
func (b *Broker) Send(c *Connection, ev events.Event) {
	frame, err := ev.Frame()
	if err != nil {
		b.logger.Error().Err(err).Str("conn", c.id).Msg("Dropping unmarshalable event.")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(c, frame)
}

// ForceLeaveUser evicts every connection of the user from the group, used
// when a membership is revoked mid-session. Each affected connection receives
// the notice frame before it is removed, so the client can update its UI.
func (b *Broker) ForceLeaveUser(userID int64, group events.Group, notice events.Event) {
	frame, err := notice.Frame()
	if err != nil {
		b.logger.Error().Err(err).Str("group", group.String()).Msg("Dropping unmarshalable notice.")
		frame = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for c := range b.rooms[group] {
		if c.ident.UserID != userID {
			continue
		}
		if frame != nil {
			b.enqueueLocked(c, frame)
		}
		b.leaveLocked(c, group)
		b.logger.Info().Str("conn", c.id).Int64("user_id", userID).
			Str("group", group.String()).Msg("Force-left group.")
	}
}

// Subscribers reports the current size of a group's subscriber set.
func (b *Broker) Subscribers(group events.Group) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[group])
}

// leaveLocked removes the connection from one group on both sides of the
// bidirectional mapping. Caller holds b.mu.
func (b *Broker) leaveLocked(c *Connection, group events.Group) {
	room, ok := b.rooms[group]
	if !ok {
		return
	}
	delete(room, c)
	delete(c.joined, group)
	if len(room) == 0 {
		delete(b.rooms, group)
	}
}

// detachLocked removes the connection from every group and from the registry.
// Caller holds b.mu.
func (b *Broker) detachLocked(c *Connection) {
	for group := range c.joined {
		b.leaveLocked(c, group)
	}
	c.closed = true
	b.registry.Remove(c)
}

// enqueueLocked pushes a frame onto the connection's outbound queue without
// blocking. On overflow the oldest queued frame is dropped to make room; the
// connection is closed once it overflows maxOverflow times in a row. Caller
// holds b.mu.
func (b *Broker) enqueueLocked(c *Connection, frame []byte) {
	if c.closed {
		return
	}

	select {
	case c.send <- frame:
		c.overflow = 0
		return
	default:
	}

	// Queue full: drop the oldest frame, then retry once. The writer may
	// have drained concurrently, so both selects need defaults.
	select {
	case <-c.send:
	default:
	}
	select {
	case c.send <- frame:
	default:
	}

	c.overflow++
	b.logger.Warn().Str("conn", c.id).Int64("user_id", c.ident.UserID).
		Int("consecutive", c.overflow).Msg("Outbound queue overflow, dropped oldest frame.")

	if c.overflow >= b.maxOverflow {
		b.logger.Warn().Str("conn", c.id).Int64("user_id", c.ident.UserID).
			Msg("Connection unresponsive, closing.")
		b.detachLocked(c)
		c.Close()
	}
}
