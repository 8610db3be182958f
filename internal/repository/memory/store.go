// Package memory provides mutex-guarded in-process repositories for local development and tests.
package memory

import (
	"sync"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

type pairKey struct {
	userID       string
	permissionID string
}

// Store holds catalog and grant state behind a single lock so that
// referential checks between the two stay consistent.
type Store struct {
	mu          sync.RWMutex
	permissions map[string]domain.Permission
	codes       map[string]string
	grants      map[string]domain.DirectPermission
	pairs       map[pairKey]string
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{
		permissions: make(map[string]domain.Permission),
		codes:       make(map[string]string),
		grants:      make(map[string]domain.DirectPermission),
		pairs:       make(map[pairKey]string),
	}
}

// Permissions returns a catalog repository backed by the store.
func (s *Store) Permissions() *PermissionRepository {
	return &PermissionRepository{store: s}
}

// DirectPermissions returns a direct grant repository backed by the store.
func (s *Store) DirectPermissions() *DirectPermissionRepository {
	return &DirectPermissionRepository{store: s}
}

func clonePermission(p domain.Permission) domain.Permission {
	if p.Description != nil {
		description := *p.Description
		p.Description = &description
	}
	p.Metadata = p.Metadata.Clone()
	return p
}

func cloneGrant(g domain.DirectPermission) domain.DirectPermission {
	if g.ExpiresAt != nil {
		expiresAt := *g.ExpiresAt
		g.ExpiresAt = &expiresAt
	}
	if g.GrantedBy != nil {
		grantedBy := *g.GrantedBy
		g.GrantedBy = &grantedBy
	}
	g.Conditions = g.Conditions.Clone()
	return g
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
