package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/repository"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := red.NewClient(&red.Options{Addr: server.Addr()})

	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})

	return client, server
}

func TestRolePermissionRepository_SetAndGet(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRolePermissionRepository(client, "roles")

	ctx := context.Background()
	ttl := 2 * time.Minute
	codes := domain.NewPermissionSet("billing:invoice:read", "billing:invoice:write")

	if err := repo.SetRolePermissions(ctx, "user-1", codes, ttl); err != nil {
		t.Fatalf("SetRolePermissions returned error: %v", err)
	}

	cached, err := repo.GetRolePermissions(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetRolePermissions returned error: %v", err)
	}
	if len(cached) != 2 || !cached.Has("billing:invoice:write") {
		t.Fatalf("unexpected cached permissions: %v", cached.Codes())
	}

	remaining := server.TTL("roles:user-1")
	if remaining <= 0 || remaining > ttl {
		t.Fatalf("expected ttl within (0, %v], got %v", ttl, remaining)
	}
}

func TestRolePermissionRepository_EmptySetIsCached(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRolePermissionRepository(client, "")

	ctx := context.Background()
	if err := repo.SetRolePermissions(ctx, "user-2", domain.NewPermissionSet(), time.Minute); err != nil {
		t.Fatalf("SetRolePermissions returned error: %v", err)
	}

	cached, err := repo.GetRolePermissions(ctx, "user-2")
	if err != nil {
		t.Fatalf("expected cached empty set, got error %v", err)
	}
	if len(cached) != 0 {
		t.Fatalf("expected empty set, got %v", cached.Codes())
	}
}

func TestRolePermissionRepository_MissAndDelete(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRolePermissionRepository(client, "roles")

	ctx := context.Background()
	if _, err := repo.GetRolePermissions(ctx, "user-3"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on miss, got %v", err)
	}

	if err := repo.SetRolePermissions(ctx, "user-3", domain.NewPermissionSet("a:b:c"), time.Minute); err != nil {
		t.Fatalf("SetRolePermissions returned error: %v", err)
	}
	if err := repo.DeleteRolePermissions(ctx, "user-3"); err != nil {
		t.Fatalf("DeleteRolePermissions returned error: %v", err)
	}
	if server.Exists("roles:user-3") {
		t.Fatalf("expected key to be removed")
	}
}

func TestRolePermissionRepository_Expiry(t *testing.T) {
	client, server := newTestRedis(t)
	repo := NewRolePermissionRepository(client, "roles")

	ctx := context.Background()
	if err := repo.SetRolePermissions(ctx, "user-4", domain.NewPermissionSet("a:b:c"), time.Second); err != nil {
		t.Fatalf("SetRolePermissions returned error: %v", err)
	}

	server.FastForward(2 * time.Second)

	if _, err := repo.GetRolePermissions(ctx, "user-4"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRolePermissionRepository_RequiresUserID(t *testing.T) {
	client, _ := newTestRedis(t)
	repo := NewRolePermissionRepository(client, "roles")

	if err := repo.SetRolePermissions(context.Background(), "  ", domain.NewPermissionSet(), time.Minute); err == nil {
		t.Fatalf("expected error for blank user id")
	}
}
