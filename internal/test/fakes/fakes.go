// Package fakes provides in-memory stand-ins for the external membership and
// cache stores, used by unit tests and by the service's local run mode.
package fakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/evgenyalesich/project-manager/internal/guard"
)

// MembershipStore is a map-backed guard.MembershipStore. Mutations are only
// for test/local seeding; the production subsystem never writes membership.
type MembershipStore struct {
	mu    sync.RWMutex
	roles map[int64]map[int64]guard.Role // project -> user -> role
	err   error
}

// NewMembershipStore creates an empty membership store.
func NewMembershipStore() *MembershipStore {
	return &MembershipStore{roles: make(map[int64]map[int64]guard.Role)}
}

// Add seeds a membership row.
func (s *MembershipStore) Add(projectID, userID int64, role guard.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.roles[projectID]
	if !ok {
		users = make(map[int64]guard.Role)
		s.roles[projectID] = users
	}
	users[userID] = role
}

// Remove deletes a membership row.
func (s *MembershipStore) Remove(projectID, userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.roles[projectID], userID)
}

// FailWith makes every lookup return err until reset with nil.
func (s *MembershipStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *MembershipStore) IsMember(_ context.Context, projectID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.roles[projectID][userID]
	return ok, nil
}

func (s *MembershipStore) RoleOf(_ context.Context, projectID, userID int64) (guard.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return "", s.err
	}
	role, ok := s.roles[projectID][userID]
	if !ok {
		return "", guard.ErrNoMembership
	}
	return role, nil
}

func (s *MembershipStore) MemberIDs(_ context.Context, projectID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	ids := make([]int64, 0, len(s.roles[projectID]))
	for id := range s.roles[projectID] {
		ids = append(ids, id)
	}
	return ids, nil
}

// ViewCache is a map-backed dispatch.ViewCache that records deletions.
type ViewCache struct {
	mu      sync.Mutex
	entries map[string]struct{}
	deleted []string
	err     error
}

// NewViewCache creates an empty view cache.
func NewViewCache() *ViewCache {
	return &ViewCache{entries: make(map[string]struct{})}
}

// Put seeds a cache entry for one (project, viewer) pair.
func (c *ViewCache) Put(projectID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[viewKey(projectID, userID)] = struct{}{}
}

// Has reports whether an entry survives for the pair.
func (c *ViewCache) Has(projectID, userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[viewKey(projectID, userID)]
	return ok
}

// Deleted returns the keys deleted so far, in call order.
func (c *ViewCache) Deleted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.deleted...)
}

// FailWith makes every deletion return err until reset with nil.
func (c *ViewCache) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *ViewCache) DeleteProjectEntries(_ context.Context, projectID int64, userIDs []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, userID := range userIDs {
		key := viewKey(projectID, userID)
		delete(c.entries, key)
		c.deleted = append(c.deleted, key)
	}
	return nil
}

func viewKey(projectID, userID int64) string {
	return fmt.Sprintf("project_detail_%d_%d", projectID, userID)
}
