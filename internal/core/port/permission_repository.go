package port

import (
	"context"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// PermissionFilter narrows catalog listings. Empty fields are ignored.
type PermissionFilter struct {
	Module   string
	Resource string
	Action   string
	IsSystem *bool
	Limit    int
	Offset   int
}

// PermissionRepository manages permission catalog storage.
type PermissionRepository interface {
	Create(ctx context.Context, permission domain.Permission) error
	GetByID(ctx context.Context, id string) (*domain.Permission, error)
	GetByCode(ctx context.Context, code string) (*domain.Permission, error)
	ListByIDs(ctx context.Context, ids []string) ([]domain.Permission, error)
	ListByCodes(ctx context.Context, codes []string) ([]domain.Permission, error)
	Update(ctx context.Context, permission domain.Permission) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter PermissionFilter) ([]domain.Permission, error)
	Count(ctx context.Context, filter PermissionFilter) (int, error)
	ExistsByCode(ctx context.Context, code string) (bool, error)
}
