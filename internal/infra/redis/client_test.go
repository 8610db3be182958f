package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/infra/config"
)

func TestNewClientAgainstMiniredis(t *testing.T) {
	srv := miniredis.RunT(t)
	port, err := strconv.Atoi(srv.Port())
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}

	client, err := NewClient(config.RedisSettings{Host: srv.Host(), Port: port, RoleCachePrefix: "test:roles"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	if err := client.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}

	cache := client.RolePermissionCache()
	if err := cache.SetRolePermissions(ctx, "u1", domain.NewPermissionSet("stock:item:read"), time.Minute); err != nil {
		t.Fatalf("SetRolePermissions returned error: %v", err)
	}
	if !srv.Exists("test:roles:u1") {
		t.Fatalf("expected prefixed key, have %v", srv.Keys())
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	port, _ := strconv.Atoi(srv.Port())
	srv.Close()

	if _, err := NewClient(config.RedisSettings{Host: "127.0.0.1", Port: port}, nil); err == nil {
		t.Fatalf("expected ping failure")
	}
}
