package memory

import (
	"context"
	"sort"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

// PermissionRepository implements port.PermissionRepository in memory.
type PermissionRepository struct {
	store *Store
}

// Create stores a new permission. Duplicate ids or codes yield repository.ErrConflict.
func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.permissions[permission.ID]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.store.codes[permission.Code]; ok {
		return repository.ErrConflict
	}

	r.store.permissions[permission.ID] = clonePermission(permission)
	r.store.codes[permission.Code] = permission.ID
	return nil
}

// GetByID returns the permission with the identifier.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*domain.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	permission, ok := r.store.permissions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cloned := clonePermission(permission)
	return &cloned, nil
}

// GetByCode returns the permission with the code.
func (r *PermissionRepository) GetByCode(ctx context.Context, code string) (*domain.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.codes[code]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cloned := clonePermission(r.store.permissions[id])
	return &cloned, nil
}

// ListByIDs returns the known permissions among ids, ordered by code.
func (r *PermissionRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Permission, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if permission, ok := r.store.permissions[id]; ok {
			result = append(result, clonePermission(permission))
		}
	}
	sortByCode(result)
	return result, nil
}

// ListByCodes returns the known permissions among codes, ordered by code.
func (r *PermissionRepository) ListByCodes(ctx context.Context, codes []string) ([]domain.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.Permission, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		if id, ok := r.store.codes[code]; ok {
			result = append(result, clonePermission(r.store.permissions[id]))
		}
	}
	sortByCode(result)
	return result, nil
}

// Update replaces the mutable attributes of a stored permission.
func (r *PermissionRepository) Update(ctx context.Context, permission domain.Permission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.permissions[permission.ID]
	if !ok {
		return repository.ErrNotFound
	}

	updated := clonePermission(permission)
	current.Name = updated.Name
	current.Description = updated.Description
	current.Metadata = updated.Metadata
	current.UpdatedAt = updated.UpdatedAt
	r.store.permissions[permission.ID] = current
	return nil
}

// Delete removes a permission that no grant references.
func (r *PermissionRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	permission, ok := r.store.permissions[id]
	if !ok {
		return repository.ErrNotFound
	}
	for _, grant := range r.store.grants {
		if grant.PermissionID == id {
			return repository.ErrReferenced
		}
	}

	delete(r.store.permissions, id)
	delete(r.store.codes, permission.Code)
	return nil
}

// List returns a filtered page ordered by module, resource and action.
func (r *PermissionRepository) List(ctx context.Context, filter port.PermissionFilter) ([]domain.Permission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	matched := r.filter(filter)
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if a.Module != b.Module {
			return a.Module < b.Module
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		return a.Action < b.Action
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []domain.Permission{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// Count returns the number of permissions matching the filter.
func (r *PermissionRepository) Count(ctx context.Context, filter port.PermissionFilter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return len(r.filter(filter)), nil
}

// ExistsByCode reports whether a permission with the code exists.
func (r *PermissionRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	_, ok := r.store.codes[code]
	return ok, nil
}

func (r *PermissionRepository) filter(filter port.PermissionFilter) []domain.Permission {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	matched := make([]domain.Permission, 0)
	for _, permission := range r.store.permissions {
		if filter.Module != "" && permission.Module != filter.Module {
			continue
		}
		if filter.Resource != "" && permission.Resource != filter.Resource {
			continue
		}
		if filter.Action != "" && permission.Action != filter.Action {
			continue
		}
		if filter.IsSystem != nil && permission.IsSystem != *filter.IsSystem {
			continue
		}
		matched = append(matched, clonePermission(permission))
	}
	return matched
}

func sortByCode(permissions []domain.Permission) {
	sort.Slice(permissions, func(i, j int) bool { return permissions[i].Code < permissions[j].Code })
}

var _ port.PermissionRepository = (*PermissionRepository)(nil)
