// Package guard decides who may join which broadcast group. Membership is
// owned by the external domain store; the guard reads it at join time and
// never caches, so a revoked membership is visible on the next join attempt.
package guard

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/auth"
	"github.com/evgenyalesich/project-manager/internal/events"
)

// ErrUnauthorized marks a join attempt by a valid identity that lacks the
// required membership.
var ErrUnauthorized = errors.New("unauthorized")

// ErrNoMembership is returned by MembershipStore lookups when no row exists
// for the (project, user) pair.
var ErrNoMembership = errors.New("no membership")

// MembershipStore is the read-only view of project membership this subsystem
// consults. It is implemented by the persistence layer and never mutated here.
type MembershipStore interface {
	IsMember(ctx context.Context, projectID, userID int64) (bool, error)
	RoleOf(ctx context.Context, projectID, userID int64) (Role, error)
	MemberIDs(ctx context.Context, projectID int64) ([]int64, error)
}

// Guard gates join requests against current membership state.
type Guard struct {
	members MembershipStore
	logger  zerolog.Logger
}

// New creates a Guard backed by the given membership store.
func New(members MembershipStore, logger zerolog.Logger) *Guard {
	return &Guard{
		members: members,
		logger:  logger.With().Str("component", "AccessGuard").Logger(),
	}
}

// CanJoin reports whether ident may subscribe to the group. Personal channels
// admit only their own user; project rooms require a membership row and
// always deny anonymous callers. The same check backs both the handshake
// gate and later in-session subscribe requests.
func (g *Guard) CanJoin(ctx context.Context, ident auth.Identity, group events.Group) (bool, error) {
	if userID, ok := group.UserID(); ok {
		return !ident.Anonymous() && ident.UserID == userID, nil
	}

	projectID, ok := group.ProjectID()
	if !ok {
		return false, fmt.Errorf("unknown group %q", group)
	}
	if ident.Anonymous() {
		return false, nil
	}

	member, err := g.members.IsMember(ctx, projectID, ident.UserID)
	if err != nil {
		g.logger.Error().Err(err).
			Int64("project_id", projectID).
			Int64("user_id", ident.UserID).
			Msg("Membership lookup failed.")
		return false, fmt.Errorf("membership lookup for project %d: %w", projectID, err)
	}
	return member, nil
}
