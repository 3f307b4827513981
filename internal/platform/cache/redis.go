// Package cache implements the delete-only adapter over the shared Redis
// view cache. Keys are written (with a TTL) by the CRUD layer; this side only
// ever removes them.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisClient is the slice of go-redis this adapter needs, kept narrow so
// tests can fake it.
type redisClient interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// RedisViewCache deletes cached per-viewer project aggregates.
type RedisViewCache struct {
	client redisClient
	logger zerolog.Logger
}

// NewRedisViewCache wraps a connected go-redis client.
func NewRedisViewCache(client redisClient, logger zerolog.Logger) (*RedisViewCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisViewCache{
		client: client,
		logger: logger.With().Str("component", "RedisViewCache").Logger(),
	}, nil
}

// viewKey is the cache key for one viewer's aggregate of one project. The
// format is shared with the CRUD layer's read path.
func viewKey(projectID, userID int64) string {
	return fmt.Sprintf("project_detail_%d_%d", projectID, userID)
}

// DeleteProjectEntries removes the (project, viewer) entries for each user in
// a single round trip. Deleting keys that do not exist is a no-op.
func (c *RedisViewCache) DeleteProjectEntries(ctx context.Context, projectID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}

	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, viewKey(projectID, userID))
	}

	deleted, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %d cache keys: %w", len(keys), err)
	}
	c.logger.Debug().Int64("project_id", projectID).Int("keys", len(keys)).
		Int64("deleted", deleted).Msg("Deleted cached views.")
	return nil
}

// Ping verifies cache connectivity, for health reporting.
func (c *RedisViewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
