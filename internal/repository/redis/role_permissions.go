package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const defaultRolePermissionsPrefix = "authz:role_permissions"

// RolePermissionRepository caches role-derived permission codes per user.
// Values are JSON arrays so users without roles can be cached as well.
type RolePermissionRepository struct {
	client *red.Client
	prefix string
}

// NewRolePermissionRepository constructs a role permission cache helper.
func NewRolePermissionRepository(client *red.Client, keyPrefix string) *RolePermissionRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultRolePermissionsPrefix
	}

	return &RolePermissionRepository{client: client, prefix: prefix}
}

// GetRolePermissions fetches cached codes, returning ErrNotFound on cache miss.
func (r *RolePermissionRepository) GetRolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	key := r.key(userID)
	if key == "" {
		return nil, fmt.Errorf("user id is required")
	}

	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get role permissions: %w", err)
	}

	var codes []string
	if err := json.Unmarshal(value, &codes); err != nil {
		return nil, fmt.Errorf("decode cached role permissions: %w", err)
	}

	return domain.NewPermissionSet(codes...), nil
}

// SetRolePermissions stores the codes with the provided TTL.
func (r *RolePermissionRepository) SetRolePermissions(ctx context.Context, userID string, permissions domain.PermissionSet, ttl time.Duration) error {
	key := r.key(userID)
	if key == "" {
		return fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	payload, err := json.Marshal(permissions.Codes())
	if err != nil {
		return fmt.Errorf("encode role permissions: %w", err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set role permissions: %w", err)
	}
	return nil
}

// DeleteRolePermissions removes the cached entry.
func (r *RolePermissionRepository) DeleteRolePermissions(ctx context.Context, userID string) error {
	key := r.key(userID)
	if key == "" {
		return fmt.Errorf("user id is required")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis delete role permissions: %w", err)
	}
	return nil
}

func (r *RolePermissionRepository) key(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.RolePermissionCache = (*RolePermissionRepository)(nil)
