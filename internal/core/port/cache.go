package port

import (
	"context"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// RolePermissionCache stores role-derived permission sets per user.
// Get returns repository.ErrNotFound on a cache miss.
type RolePermissionCache interface {
	GetRolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error)
	SetRolePermissions(ctx context.Context, userID string, permissions domain.PermissionSet, ttl time.Duration) error
	DeleteRolePermissions(ctx context.Context, userID string) error
}
