package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/guard"
)

// ViewCache is the external cache store holding per-viewer project
// aggregates. Only the delete path runs through this subsystem; reads and
// writes belong to the CRUD layer, and a TTL bounds staleness regardless.
type ViewCache interface {
	DeleteProjectEntries(ctx context.Context, projectID int64, userIDs []int64) error
}

// Invalidator deletes the cached aggregate views a mutation made stale. It
// holds no state of its own; failures are logged and swallowed, since the
// durable store is authoritative and the TTL caps how long a stale entry can
// survive.
type Invalidator struct {
	cache   ViewCache
	members guard.MembershipStore
	logger  zerolog.Logger
}

// NewInvalidator creates a cache invalidation coordinator.
func NewInvalidator(cache ViewCache, members guard.MembershipStore, logger zerolog.Logger) *Invalidator {
	return &Invalidator{
		cache:   cache,
		members: members,
		logger:  logger.With().Str("component", "CacheInvalidator").Logger(),
	}
}

// Invalidate deletes the (project, viewer) cache entries for each affected
// user. An empty userIDs means every current member of the project. Never
// returns an error to the mutation path: an unreachable cache degrades to
// "already invalidated".
func (i *Invalidator) Invalidate(ctx context.Context, projectID int64, userIDs []int64) {
	if len(userIDs) == 0 {
		var err error
		userIDs, err = i.members.MemberIDs(ctx, projectID)
		if err != nil {
			i.logger.Error().Err(err).Int64("project_id", projectID).
				Msg("Could not resolve project members for invalidation, skipping.")
			return
		}
	}
	if len(userIDs) == 0 {
		return
	}

	if err := i.cache.DeleteProjectEntries(ctx, projectID, userIDs); err != nil {
		i.logger.Error().Err(err).Int64("project_id", projectID).Int("users", len(userIDs)).
			Msg("Cache invalidation failed, relying on TTL.")
		return
	}
	i.logger.Debug().Int64("project_id", projectID).Int("users", len(userIDs)).
		Msg("Invalidated cached project views.")
}
