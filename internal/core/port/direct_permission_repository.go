package port

import (
	"context"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// DirectPermissionListOptions controls which grants ListByUser returns.
type DirectPermissionListOptions struct {
	IncludeExpired bool
	Effect         *domain.Effect
}

// DirectPermissionRepository persists per-user direct grants.
//
// Create must be atomic per (user, permission) pair: it replaces an expired
// grant for the pair and returns repository.ErrConflict when an unexpired one
// exists. All "now" comparisons use the supplied timestamp.
type DirectPermissionRepository interface {
	Create(ctx context.Context, grant domain.DirectPermission, now time.Time) (*domain.DirectPermission, error)
	CreateMany(ctx context.Context, grants []domain.DirectPermission, now time.Time) (int, error)
	GetByID(ctx context.Context, id string) (*domain.DirectPermission, error)
	GetByUserAndPermission(ctx context.Context, userID, permissionID string) (*domain.DirectPermission, error)
	Update(ctx context.Context, grant domain.DirectPermission) error
	Delete(ctx context.Context, userID, permissionID string) (int, error)
	DeleteByUser(ctx context.Context, userID string) (int, error)
	DeleteByPermission(ctx context.Context, permissionID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	ListByUser(ctx context.Context, userID string, opts DirectPermissionListOptions, now time.Time) ([]domain.DirectPermission, error)
	ListByPermission(ctx context.Context, permissionID string, now time.Time) ([]domain.DirectPermission, error)
	ListWithEffectsByUser(ctx context.Context, userID string, now time.Time) ([]domain.PermissionWithEffect, error)
	Exists(ctx context.Context, userID, permissionID string, now time.Time) (bool, error)
	CountByUser(ctx context.Context, userID string, now time.Time) (int, error)
	CountByPermission(ctx context.Context, permissionID string) (int, error)
	CountUsersWithPermission(ctx context.Context, permissionID string, now time.Time) (int, error)
}
