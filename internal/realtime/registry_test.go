package realtime

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evgenyalesich/project-manager/internal/auth"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	c1 := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	c2 := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	c3 := NewConnection(nil, auth.Identity{UserID: 9}, 8)

	id1 := r.Register(c1)
	r.Register(c2)
	r.Register(c3)

	require.Equal(t, c1.ID(), id1)
	assert.Equal(t, 3, r.Len())

	got, ok := r.Get(id1)
	require.True(t, ok)
	assert.Same(t, c1, got)

	// Multi-device: both of user 7's connections are indexed.
	conns := r.ConnectionsForUser(7)
	assert.Len(t, conns, 2)
	assert.ElementsMatch(t, []*Connection{c1, c2}, conns)
	assert.Len(t, r.ConnectionsForUser(9), 1)
	assert.Empty(t, r.ConnectionsForUser(5))
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := NewConnection(nil, auth.Identity{UserID: 7}, 8)
	r.Register(c)

	r.Remove(c)
	r.Remove(c) // transport-close and force-disconnect may race

	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.ConnectionsForUser(7))
	_, ok := r.Get(c.ID())
	assert.False(t, ok)
}

func TestRegistry_AnonymousNotUserIndexed(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	c := NewConnection(nil, auth.Identity{}, 8)
	r.Register(c)

	assert.Equal(t, 1, r.Len())
	assert.Empty(t, r.ConnectionsForUser(0))
}
