package memory

import (
	"context"
	"sync"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
)

// RoleGrantSource serves role-derived permission codes from a static table.
type RoleGrantSource struct {
	mu    sync.RWMutex
	users map[string]domain.PermissionSet
}

// NewRoleGrantSource constructs a source seeded with userID -> codes.
func NewRoleGrantSource(seed map[string][]string) *RoleGrantSource {
	source := &RoleGrantSource{users: make(map[string]domain.PermissionSet, len(seed))}
	for userID, codes := range seed {
		source.users[userID] = domain.NewPermissionSet(codes...)
	}
	return source
}

// Assign replaces the codes held by the user through roles.
func (s *RoleGrantSource) Assign(userID string, codes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userID] = domain.NewPermissionSet(codes...)
}

// RolePermissions returns a copy of the user's role-derived codes.
func (s *RoleGrantSource) RolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return domain.NewPermissionSet(s.users[userID].Codes()...), nil
}

var _ port.RoleGrantSource = (*RoleGrantSource)(nil)
