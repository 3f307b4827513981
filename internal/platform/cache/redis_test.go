package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis records Del calls and returns canned results.
type fakeRedis struct {
	delKeys [][]string
	delErr  error
	pingErr error
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.delKeys = append(f.delKeys, keys)
	if f.delErr != nil {
		cmd := redis.NewIntCmd(ctx)
		cmd.SetErr(f.delErr)
		return cmd
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (f *fakeRedis) Ping(ctx context.Context) *redis.StatusCmd {
	if f.pingErr != nil {
		cmd := redis.NewStatusCmd(ctx)
		cmd.SetErr(f.pingErr)
		return cmd
	}
	return redis.NewStatusResult("PONG", nil)
}

func TestNewRedisViewCache_RequiresClient(t *testing.T) {
	_, err := NewRedisViewCache(nil, zerolog.Nop())
	require.Error(t, err)
}

func TestDeleteProjectEntries_SingleRoundTrip(t *testing.T) {
	client := &fakeRedis{}
	c, err := NewRedisViewCache(client, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.DeleteProjectEntries(context.Background(), 7, []int64{1, 2, 3}))

	require.Len(t, client.delKeys, 1, "all keys must go in one Del call")
	assert.Equal(t, []string{"project_detail_7_1", "project_detail_7_2", "project_detail_7_3"},
		client.delKeys[0])
}

func TestDeleteProjectEntries_NoUsersIsNoOp(t *testing.T) {
	client := &fakeRedis{}
	c, err := NewRedisViewCache(client, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, c.DeleteProjectEntries(context.Background(), 7, nil))
	assert.Empty(t, client.delKeys)
}

func TestDeleteProjectEntries_WrapsClientError(t *testing.T) {
	cause := errors.New("connection reset")
	client := &fakeRedis{delErr: cause}
	c, err := NewRedisViewCache(client, zerolog.Nop())
	require.NoError(t, err)

	err = c.DeleteProjectEntries(context.Background(), 7, []int64{1})
	require.ErrorIs(t, err, cause)
}

func TestPing(t *testing.T) {
	healthy := &fakeRedis{}
	c, err := NewRedisViewCache(healthy, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, c.Ping(context.Background()))

	down := &fakeRedis{pingErr: errors.New("no route to host")}
	c, err = NewRedisViewCache(down, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, c.Ping(context.Background()))
}
