package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
)

// RoleGrantRepository reads role-derived permissions maintained by the role subsystem.
type RoleGrantRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleGrantRepository constructs a PostgreSQL-backed role grant source.
func NewRoleGrantRepository(exec pgExecutor) *RoleGrantRepository {
	return &RoleGrantRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// RolePermissions returns the distinct permission codes the user holds through roles.
func (r *RoleGrantRepository) RolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	stmt, args, err := r.builder.Select("DISTINCT p.code").
		From(permissionsTable + " p").
		Join("authz.role_permissions rp ON rp.permission_id = p.id").
		Join("authz.user_roles ur ON ur.role_id = rp.role_id").
		Where(squirrel.Eq{"ur.user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build role permissions by user sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()

	permissions := domain.NewPermissionSet()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		permissions[code] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role permissions: %w", err)
	}

	return permissions, nil
}

var _ port.RoleGrantSource = (*RoleGrantRepository)(nil)
