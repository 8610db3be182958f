package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

func seedPermission(t *testing.T, store *Store, id, code string) domain.Permission {
	t.Helper()

	module, resource, action, err := domain.ParsePermissionCode(code)
	if err != nil {
		t.Fatalf("ParsePermissionCode(%q): %v", code, err)
	}
	permission := domain.Permission{
		ID:       id,
		Code:     code,
		Name:     code,
		Module:   module,
		Resource: resource,
		Action:   action,
	}
	if err := store.Permissions().Create(context.Background(), permission); err != nil {
		t.Fatalf("Create permission: %v", err)
	}
	return permission
}

func TestPermissionRepository_CreateRejectsDuplicateCode(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")

	err := store.Permissions().Create(context.Background(), domain.Permission{ID: "p2", Code: "billing:invoice:read"})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestPermissionRepository_ListPagesInTripleOrder(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:write")
	seedPermission(t, store, "p2", "billing:invoice:read")
	seedPermission(t, store, "p3", "analytics:report:read")

	repo := store.Permissions()
	page, err := repo.List(context.Background(), port.PermissionFilter{Module: "billing", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(page) != 1 || page[0].Code != "billing:invoice:write" {
		t.Fatalf("unexpected page: %+v", page)
	}

	total, err := repo.Count(context.Background(), port.PermissionFilter{Module: "billing"})
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2 billing permissions, got %d", total)
	}
}

func TestPermissionRepository_DeleteReferenced(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")

	now := time.Now()
	if _, err := store.DirectPermissions().Create(context.Background(), domain.DirectPermission{
		ID: "g1", UserID: "u1", PermissionID: "p1", Effect: domain.EffectAllow, CreatedAt: now,
	}, now); err != nil {
		t.Fatalf("Create grant: %v", err)
	}

	if err := store.Permissions().Delete(context.Background(), "p1"); !errors.Is(err, repository.ErrReferenced) {
		t.Fatalf("expected ErrReferenced, got %v", err)
	}
}

func TestPermissionRepository_ReturnsCopies(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")

	first, err := store.Permissions().GetByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	first.Name = "mutated"

	second, err := store.Permissions().GetByID(context.Background(), "p1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if second.Name == "mutated" {
		t.Fatalf("stored permission was mutated through a returned value")
	}
}

func TestDirectPermissionRepository_ConcurrentCreateYieldsSingleGrant(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")
	repo := store.DirectPermissions()

	const workers = 32
	now := time.Now()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := repo.Create(context.Background(), domain.DirectPermission{
				ID:           fmt.Sprintf("g%d", i),
				UserID:       "u1",
				PermissionID: "p1",
				Effect:       domain.EffectAllow,
				CreatedAt:    now,
			}, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, repository.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d and %d", workers-1, successes, conflicts)
	}
}

func TestDirectPermissionRepository_CreateReplacesExpiredGrant(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")
	repo := store.DirectPermissions()

	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)

	if _, err := repo.Create(ctx, domain.DirectPermission{
		ID: "old", UserID: "u1", PermissionID: "p1", Effect: domain.EffectDeny, ExpiresAt: &past, CreatedAt: past,
	}, past.Add(-time.Hour)); err != nil {
		t.Fatalf("Create expired grant: %v", err)
	}

	stored, err := repo.Create(ctx, domain.DirectPermission{
		ID: "new", UserID: "u1", PermissionID: "p1", Effect: domain.EffectAllow, CreatedAt: now,
	}, now)
	if err != nil {
		t.Fatalf("expected expired grant to be replaced, got %v", err)
	}
	if stored.ID != "new" {
		t.Fatalf("expected new grant id, got %s", stored.ID)
	}
	if _, err := repo.GetByID(ctx, "old"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected old grant to be gone, got %v", err)
	}
}

func TestDirectPermissionRepository_ExpiryVisibility(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")
	repo := store.DirectPermissions()

	ctx := context.Background()
	created := time.Now()
	expiresAt := created.Add(time.Hour)

	if _, err := repo.Create(ctx, domain.DirectPermission{
		ID: "g1", UserID: "u1", PermissionID: "p1", Effect: domain.EffectAllow, ExpiresAt: &expiresAt, CreatedAt: created,
	}, created); err != nil {
		t.Fatalf("Create grant: %v", err)
	}

	later := expiresAt
	active, err := repo.ListByUser(ctx, "u1", port.DirectPermissionListOptions{}, later)
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected grant expiring at now to be hidden, got %d", len(active))
	}

	all, err := repo.ListByUser(ctx, "u1", port.DirectPermissionListOptions{IncludeExpired: true}, later)
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected expired grant with IncludeExpired, got %d", len(all))
	}

	withEffects, err := repo.ListWithEffectsByUser(ctx, "u1", later)
	if err != nil {
		t.Fatalf("ListWithEffectsByUser returned error: %v", err)
	}
	if len(withEffects) != 0 {
		t.Fatalf("expected no active effects, got %d", len(withEffects))
	}

	if _, err := repo.GetByID(ctx, "g1"); err != nil {
		t.Fatalf("expected GetByID to return expired grant until swept, got %v", err)
	}

	removed, err := repo.DeleteExpired(ctx, later)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if exists, _ := repo.Exists(ctx, "u1", "p1", created); exists {
		t.Fatalf("expected grant to be gone after sweep")
	}
}

func TestDirectPermissionRepository_CreateManySkipsExistingPairs(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")
	seedPermission(t, store, "p2", "billing:invoice:write")
	repo := store.DirectPermissions()

	ctx := context.Background()
	now := time.Now()
	inserted, err := repo.CreateMany(ctx, []domain.DirectPermission{
		{ID: "g1", UserID: "u1", PermissionID: "p1", Effect: domain.EffectAllow, CreatedAt: now},
		{ID: "g2", UserID: "u1", PermissionID: "p1", Effect: domain.EffectDeny, CreatedAt: now},
		{ID: "g3", UserID: "u2", PermissionID: "p2", Effect: domain.EffectAllow, CreatedAt: now},
	}, now)
	if err != nil {
		t.Fatalf("CreateMany returned error: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", inserted)
	}

	users, err := repo.CountUsersWithPermission(ctx, "p1", now)
	if err != nil {
		t.Fatalf("CountUsersWithPermission returned error: %v", err)
	}
	if users != 1 {
		t.Fatalf("expected 1 user, got %d", users)
	}
}

func TestDirectPermissionRepository_CreateManyReplacesExpiredGrant(t *testing.T) {
	store := NewStore()
	seedPermission(t, store, "p1", "billing:invoice:read")
	repo := store.DirectPermissions()

	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expires := created.Add(time.Hour)
	if _, err := repo.Create(ctx, domain.DirectPermission{ID: "old", UserID: "u1", PermissionID: "p1", Effect: domain.EffectDeny, ExpiresAt: &expires, CreatedAt: created}, created); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	later := expires.Add(time.Minute)
	inserted, err := repo.CreateMany(ctx, []domain.DirectPermission{
		{ID: "new", UserID: "u1", PermissionID: "p1", Effect: domain.EffectAllow, CreatedAt: later},
	}, later)
	if err != nil {
		t.Fatalf("CreateMany returned error: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected expired grant to be replaced, got %d inserted", inserted)
	}

	grant, err := repo.GetByUserAndPermission(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("GetByUserAndPermission returned error: %v", err)
	}
	if grant.ID != "new" || grant.Effect != domain.EffectAllow {
		t.Fatalf("unexpected grant after replacement: %+v", grant)
	}
	if _, err := repo.GetByID(ctx, "old"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected replaced grant to be gone, got %v", err)
	}
}

func TestRoleGrantSource_Assign(t *testing.T) {
	source := NewRoleGrantSource(map[string][]string{"u1": {"a:b:c"}})
	source.Assign("u2", "x:y:z")

	codes, err := source.RolePermissions(context.Background(), "u2")
	if err != nil {
		t.Fatalf("RolePermissions returned error: %v", err)
	}
	if !codes.Has("x:y:z") || codes.Has("a:b:c") {
		t.Fatalf("unexpected codes: %v", codes.Codes())
	}

	missing, err := source.RolePermissions(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("RolePermissions returned error: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("expected no codes for unknown user")
	}
}
