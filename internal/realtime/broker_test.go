package realtime

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgenyalesich/project-manager/internal/auth"
	"github.com/evgenyalesich/project-manager/internal/events"
)

func newBrokerFixture(t *testing.T, maxOverflow int) (*Registry, *Broker) {
	t.Helper()
	registry := NewRegistry(zerolog.Nop())
	return registry, NewBroker(registry, maxOverflow, zerolog.Nop())
}

// drainFrames empties the connection's outbound queue and decodes each frame.
func drainFrames(t *testing.T, c *Connection) []map[string]any {
	t.Helper()
	var frames []map[string]any
	for {
		select {
		case raw := <-c.send:
			var decoded map[string]any
			require.NoError(t, json.Unmarshal(raw, &decoded))
			frames = append(frames, decoded)
		default:
			return frames
		}
	}
}

func TestBroker_JoinLeaveConsistency(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	c := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	registry.Register(c)
	room := events.ProjectGroup(1)

	require.NoError(t, broker.Join(c, room))
	assert.Equal(t, 1, broker.Subscribers(room))
	assert.Contains(t, c.joined, room)

	broker.Leave(c, room)
	assert.Equal(t, 0, broker.Subscribers(room))
	assert.NotContains(t, c.joined, room)

	// Empty groups are reclaimed.
	_, exists := broker.rooms[room]
	assert.False(t, exists)
}

func TestBroker_BroadcastReachesExactlySubscribers(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	room := events.ProjectGroup(1)

	in := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	out := NewConnection(nil, auth.Identity{UserID: 8}, 8)
	registry.Register(in)
	registry.Register(out)
	require.NoError(t, broker.Join(in, room))

	broker.Broadcast(room, events.Event{Type: events.TaskCreated, Data: map[string]int64{"id": 1}})

	inFrames := drainFrames(t, in)
	require.Len(t, inFrames, 1)
	assert.Equal(t, "task.created", inFrames[0]["type"])
	assert.Empty(t, drainFrames(t, out))
}

func TestBroker_SingleProducerFIFO(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	room := events.ProjectGroup(1)
	c := NewConnection(nil, auth.Identity{UserID: 7}, 16)
	registry.Register(c)
	require.NoError(t, broker.Join(c, room))

	for i := 0; i < 5; i++ {
		broker.Broadcast(room, events.Event{Type: events.Relay, Data: map[string]int{"seq": i}})
	}

	frames := drainFrames(t, c)
	require.Len(t, frames, 5)
	for i, frame := range frames {
		data := frame["data"].(map[string]any)
		assert.Equal(t, float64(i), data["seq"], "frame %d out of order", i)
	}
}

func TestBroker_UnregisterRemovesFromEverything(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	c := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	registry.Register(c)
	roomA := events.ProjectGroup(1)
	roomB := events.ProjectGroup(2)
	require.NoError(t, broker.Join(c, roomA))
	require.NoError(t, broker.Join(c, roomB))

	broker.Unregister(c)

	assert.Equal(t, 0, broker.Subscribers(roomA))
	assert.Equal(t, 0, broker.Subscribers(roomB))
	assert.Equal(t, 0, registry.Len())

	// A formerly-joined group's broadcast must not reach it.
	broker.Broadcast(roomA, events.Event{Type: events.TaskUpdated, Data: nil})
	assert.Empty(t, drainFrames(t, c))

	// Unregister is idempotent, and a closed connection cannot rejoin.
	broker.Unregister(c)
	require.ErrorIs(t, broker.Join(c, roomA), ErrConnectionClosed)
}

func TestBroker_BroadcastToUserFansOutAcrossDevices(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	tab1 := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	tab2 := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	other := NewConnection(nil, auth.Identity{UserID: 9}, 8)
	registry.Register(tab1)
	registry.Register(tab2)
	registry.Register(other)

	broker.BroadcastToUser(7, events.Event{Type: events.Notification, Data: events.NotificationData{Title: "hi"}})

	assert.Len(t, drainFrames(t, tab1), 1)
	assert.Len(t, drainFrames(t, tab2), 1)
	assert.Empty(t, drainFrames(t, other))
}

func TestBroker_ForceLeaveUserEvictsWithNotice(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	room := events.ProjectGroup(1)
	removed := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	stays := NewConnection(nil, auth.Identity{UserID: 9}, 8)
	registry.Register(removed)
	registry.Register(stays)
	require.NoError(t, broker.Join(removed, room))
	require.NoError(t, broker.Join(stays, room))

	notice := events.Event{Type: events.Notification, Data: events.NotificationData{Title: "Removed from project", ProjectID: 1}}
	broker.ForceLeaveUser(7, room, notice)

	frames := drainFrames(t, removed)
	require.Len(t, frames, 1)
	assert.Equal(t, "notification", frames[0]["type"])

	// Evicted from the room but still a live connection.
	assert.Equal(t, 1, broker.Subscribers(room))
	assert.Equal(t, 2, registry.Len())

	broker.Broadcast(room, events.Event{Type: events.TaskUpdated, Data: nil})
	assert.Empty(t, drainFrames(t, removed))
	assert.Len(t, drainFrames(t, stays), 2) // notification was not theirs; task.updated is
}

func TestBroker_OverflowDropsOldestThenCloses(t *testing.T) {
	registry, broker := newBrokerFixture(t, 3)
	room := events.ProjectGroup(1)
	// Queue of one and no writer draining it: every broadcast past the
	// first is an overflow.
	c := NewConnection(nil, auth.Identity{UserID: 7}, 1)
	registry.Register(c)
	require.NoError(t, broker.Join(c, room))

	for i := 0; i < 4; i++ {
		broker.Broadcast(room, events.Event{Type: events.Relay, Data: map[string]int{"seq": i}})
	}

	// Three consecutive overflows: the connection is closed and gone from
	// the room and the registry.
	assert.Equal(t, 0, broker.Subscribers(room))
	assert.Equal(t, 0, registry.Len())
	select {
	case <-c.done:
	default:
		t.Fatal("connection was not closed after repeated overflow")
	}

	// The newest frame survived the drop-oldest policy.
	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	data := frames[0]["data"].(map[string]any)
	assert.Equal(t, float64(3), data["seq"])
}

func TestBroker_SuccessfulSendResetsOverflowCount(t *testing.T) {
	registry, broker := newBrokerFixture(t, 3)
	room := events.ProjectGroup(1)
	c := NewConnection(nil, auth.Identity{UserID: 7}, 1)
	registry.Register(c)
	require.NoError(t, broker.Join(c, room))

	ev := events.Event{Type: events.Relay, Data: nil}
	for i := 0; i < 8; i++ {
		broker.Broadcast(room, ev) // fills the queue
		broker.Broadcast(room, ev) // one overflow
		drainFrames(t, c)          // consumer catches up, counter resets
	}

	assert.Equal(t, 1, broker.Subscribers(room), "intermittently slow consumer must survive")
}

func TestBroker_ConcurrentChurnKeepsInvariant(t *testing.T) {
	registry, broker := newBrokerFixture(t, 0)
	room := events.ProjectGroup(1)

	var wg sync.WaitGroup
	conns := make([]*Connection, 32)
	for i := range conns {
		conns[i] = NewConnection(nil, auth.Identity{UserID: int64(i + 1)}, 64)
		registry.Register(conns[i])
	}

	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *Connection) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				assert.NoError(t, broker.Join(c, room))
				broker.Broadcast(room, events.Event{Type: events.Relay, Data: fmt.Sprintf("%d-%d", i, j)})
				broker.Leave(c, room)
			}
		}(i, c)
	}
	wg.Wait()

	assert.Equal(t, 0, broker.Subscribers(room))
	for _, c := range conns {
		assert.Empty(t, c.joined)
	}
}
