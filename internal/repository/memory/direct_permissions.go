package memory

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

// DirectPermissionRepository implements port.DirectPermissionRepository in memory.
// The (user, permission) pair index is guarded by the store lock.
type DirectPermissionRepository struct {
	store *Store
}

// Create stores the grant, replacing an expired grant for the same pair.
func (r *DirectPermissionRepository) Create(ctx context.Context, grant domain.DirectPermission, now time.Time) (*domain.DirectPermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.permissions[grant.PermissionID]; !ok {
		return nil, repository.ErrNotFound
	}

	key := pairKey{userID: grant.UserID, permissionID: grant.PermissionID}
	if existingID, ok := r.store.pairs[key]; ok {
		existing := r.store.grants[existingID]
		if !existing.IsExpired(now) {
			return nil, repository.ErrConflict
		}
		delete(r.store.grants, existingID)
	}
	if _, ok := r.store.grants[grant.ID]; ok {
		return nil, repository.ErrConflict
	}

	stored := cloneGrant(grant)
	r.store.grants[grant.ID] = stored
	r.store.pairs[key] = grant.ID

	result := cloneGrant(stored)
	return &result, nil
}

// CreateMany stores grants whose pair holds no active grant and returns how many were
// written. Expired grants for a pair are replaced.
func (r *DirectPermissionRepository) CreateMany(ctx context.Context, grants []domain.DirectPermission, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, grant := range grants {
		if _, ok := r.store.permissions[grant.PermissionID]; !ok {
			return 0, repository.ErrNotFound
		}
	}

	inserted := 0
	for _, grant := range grants {
		key := pairKey{userID: grant.UserID, permissionID: grant.PermissionID}
		if existingID, ok := r.store.pairs[key]; ok {
			if !r.store.grants[existingID].IsExpired(now) {
				continue
			}
			delete(r.store.grants, existingID)
		}
		if _, ok := r.store.grants[grant.ID]; ok {
			continue
		}
		r.store.grants[grant.ID] = cloneGrant(grant)
		r.store.pairs[key] = grant.ID
		inserted++
	}
	return inserted, nil
}

// GetByID returns a grant regardless of expiry.
func (r *DirectPermissionRepository) GetByID(ctx context.Context, id string) (*domain.DirectPermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	grant, ok := r.store.grants[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	result := cloneGrant(grant)
	return &result, nil
}

// GetByUserAndPermission returns the grant for the pair regardless of expiry.
func (r *DirectPermissionRepository) GetByUserAndPermission(ctx context.Context, userID, permissionID string) (*domain.DirectPermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	id, ok := r.store.pairs[pairKey{userID: userID, permissionID: permissionID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	result := cloneGrant(r.store.grants[id])
	return &result, nil
}

// Update replaces the mutable attributes of a stored grant.
func (r *DirectPermissionRepository) Update(ctx context.Context, grant domain.DirectPermission) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	current, ok := r.store.grants[grant.ID]
	if !ok {
		return repository.ErrNotFound
	}

	updated := cloneGrant(grant)
	current.Effect = updated.Effect
	current.Conditions = updated.Conditions
	current.ExpiresAt = updated.ExpiresAt
	current.GrantedBy = updated.GrantedBy
	current.UpdatedAt = updated.UpdatedAt
	r.store.grants[grant.ID] = current
	return nil
}

// Delete removes the grant for a pair.
func (r *DirectPermissionRepository) Delete(ctx context.Context, userID, permissionID string) (int, error) {
	return r.deleteWhere(ctx, func(g domain.DirectPermission) bool {
		return g.UserID == userID && g.PermissionID == permissionID
	})
}

// DeleteByUser removes every grant held by the user.
func (r *DirectPermissionRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return r.deleteWhere(ctx, func(g domain.DirectPermission) bool { return g.UserID == userID })
}

// DeleteByPermission removes every grant of the permission.
func (r *DirectPermissionRepository) DeleteByPermission(ctx context.Context, permissionID string) (int, error) {
	return r.deleteWhere(ctx, func(g domain.DirectPermission) bool { return g.PermissionID == permissionID })
}

// DeleteExpired removes grants whose expiry is at or before now.
func (r *DirectPermissionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return r.deleteWhere(ctx, func(g domain.DirectPermission) bool { return g.IsExpired(now) })
}

func (r *DirectPermissionRepository) deleteWhere(ctx context.Context, match func(domain.DirectPermission) bool) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	removed := 0
	for id, grant := range r.store.grants {
		if !match(grant) {
			continue
		}
		delete(r.store.grants, id)
		delete(r.store.pairs, pairKey{userID: grant.UserID, permissionID: grant.PermissionID})
		removed++
	}
	return removed, nil
}

// ListByUser returns the user's grants ordered by creation time.
func (r *DirectPermissionRepository) ListByUser(ctx context.Context, userID string, opts port.DirectPermissionListOptions, now time.Time) ([]domain.DirectPermission, error) {
	return r.listWhere(ctx, func(g domain.DirectPermission) bool {
		if g.UserID != userID {
			return false
		}
		if !opts.IncludeExpired && g.IsExpired(now) {
			return false
		}
		return opts.Effect == nil || g.Effect == *opts.Effect
	})
}

// ListByPermission returns active grants of the permission.
func (r *DirectPermissionRepository) ListByPermission(ctx context.Context, permissionID string, now time.Time) ([]domain.DirectPermission, error) {
	return r.listWhere(ctx, func(g domain.DirectPermission) bool {
		return g.PermissionID == permissionID && g.IsActive(now)
	})
}

func (r *DirectPermissionRepository) listWhere(ctx context.Context, match func(domain.DirectPermission) bool) ([]domain.DirectPermission, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.DirectPermission, 0)
	for _, grant := range r.store.grants {
		if match(grant) {
			result = append(result, cloneGrant(grant))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// ListWithEffectsByUser joins the user's active grants with their catalog entries.
func (r *DirectPermissionRepository) ListWithEffectsByUser(ctx context.Context, userID string, now time.Time) ([]domain.PermissionWithEffect, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	result := make([]domain.PermissionWithEffect, 0)
	for _, grant := range r.store.grants {
		if grant.UserID != userID || grant.IsExpired(now) {
			continue
		}
		permission, ok := r.store.permissions[grant.PermissionID]
		if !ok {
			continue
		}
		result = append(result, domain.PermissionWithEffect{
			GrantID:    grant.ID,
			Permission: clonePermission(permission),
			Effect:     grant.Effect,
			Conditions: grant.Conditions.Clone(),
			ExpiresAt:  cloneTime(grant.ExpiresAt),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Permission.Code < result[j].Permission.Code })
	return result, nil
}

// Exists reports whether an active grant exists for the pair.
func (r *DirectPermissionRepository) Exists(ctx context.Context, userID, permissionID string, now time.Time) (bool, error) {
	grant, err := r.GetByUserAndPermission(ctx, userID, permissionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return grant.IsActive(now), nil
}

// CountByUser counts the user's active grants.
func (r *DirectPermissionRepository) CountByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	grants, err := r.listWhere(ctx, func(g domain.DirectPermission) bool {
		return g.UserID == userID && g.IsActive(now)
	})
	return len(grants), err
}

// CountByPermission counts every stored grant of the permission, expired ones included.
func (r *DirectPermissionRepository) CountByPermission(ctx context.Context, permissionID string) (int, error) {
	grants, err := r.listWhere(ctx, func(g domain.DirectPermission) bool { return g.PermissionID == permissionID })
	return len(grants), err
}

// CountUsersWithPermission counts distinct users holding an active grant of the permission.
func (r *DirectPermissionRepository) CountUsersWithPermission(ctx context.Context, permissionID string, now time.Time) (int, error) {
	grants, err := r.ListByPermission(ctx, permissionID, now)
	if err != nil {
		return 0, err
	}
	users := make(map[string]struct{}, len(grants))
	for _, grant := range grants {
		users[grant.UserID] = struct{}{}
	}
	return len(users), nil
}

var _ port.DirectPermissionRepository = (*DirectPermissionRepository)(nil)
