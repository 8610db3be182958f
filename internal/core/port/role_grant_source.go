package port

import (
	"context"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// RoleGrantSource supplies the permission codes a user holds through role membership.
type RoleGrantSource interface {
	RolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error)
}
