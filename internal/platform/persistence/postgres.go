// Package persistence provides the Postgres-backed, read-only view of
// project membership this subsystem consults. Membership rows are written by
// the CRUD layer; nothing here mutates them.
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/evgenyalesich/project-manager/internal/guard"
)

// PostgresMembershipStore reads project membership from the shared
// project_members table.
type PostgresMembershipStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgresMembershipStore wraps an existing connection pool.
func NewPostgresMembershipStore(pool *pgxpool.Pool, logger zerolog.Logger) (*PostgresMembershipStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool cannot be nil")
	}
	return &PostgresMembershipStore{
		pool:   pool,
		logger: logger.With().Str("component", "MembershipStore").Logger(),
	}, nil
}

// IsMember reports whether a membership row exists for (project, user).
func (s *PostgresMembershipStore) IsMember(ctx context.Context, projectID, userID int64) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2
	)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, projectID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("membership existence query: %w", err)
	}
	return exists, nil
}

// RoleOf returns the user's role in the project, or guard.ErrNoMembership.
func (s *PostgresMembershipStore) RoleOf(ctx context.Context, projectID, userID int64) (guard.Role, error) {
	const q = `SELECT role FROM project_members WHERE project_id = $1 AND user_id = $2`

	var role string
	err := s.pool.QueryRow(ctx, q, projectID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", guard.ErrNoMembership
	}
	if err != nil {
		return "", fmt.Errorf("membership role query: %w", err)
	}

	r := guard.Role(role)
	if !r.Valid() {
		s.logger.Warn().Str("role", role).Int64("project_id", projectID).
			Int64("user_id", userID).Msg("Unknown role value in store, treating as viewer.")
		return guard.RoleViewer, nil
	}
	return r, nil
}

// MemberIDs lists every user id with a membership row for the project.
func (s *PostgresMembershipStore) MemberIDs(ctx context.Context, projectID int64) ([]int64, error) {
	const q = `SELECT user_id FROM project_members WHERE project_id = $1`

	rows, err := s.pool.Query(ctx, q, projectID)
	if err != nil {
		return nil, fmt.Errorf("member list query: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("member list scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("member list rows: %w", err)
	}
	return ids, nil
}

// Ping verifies database connectivity, for health reporting.
func (s *PostgresMembershipStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
