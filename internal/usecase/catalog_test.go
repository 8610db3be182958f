package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/repository"
)

func TestCatalogService_CreateDerivesCode(t *testing.T) {
	env := newTestEnv()

	permission, err := env.catalog.Create(context.Background(), CreatePermissionInput{
		Name:     " Read invoices ",
		Module:   "Billing",
		Resource: "invoice",
		Action:   "read",
		Metadata: domain.ScalarMap{"tier": domain.StringValue("gold")},
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if permission.Code != "billing:invoice:read" {
		t.Fatalf("expected derived code, got %q", permission.Code)
	}
	if permission.Name != "Read invoices" {
		t.Fatalf("expected trimmed name, got %q", permission.Name)
	}
	if permission.ID == "" || permission.CreatedAt.IsZero() {
		t.Fatalf("expected id and timestamps to be populated: %+v", permission)
	}
}

func TestCatalogService_CreateValidation(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreatePermissionInput
		want  error
	}{
		{
			name:  "missing name",
			input: CreatePermissionInput{Module: "a", Resource: "b", Action: "c"},
			want:  ErrInvalidName,
		},
		{
			name:  "bad segment",
			input: CreatePermissionInput{Name: "x", Module: "a b", Resource: "b", Action: "c"},
			want:  ErrInvalidPermissionCode,
		},
		{
			name:  "code mismatch",
			input: CreatePermissionInput{Name: "x", Code: "a:b:d", Module: "a", Resource: "b", Action: "c"},
			want:  ErrInvalidPermissionCode,
		},
		{
			name:  "empty metadata key",
			input: CreatePermissionInput{Name: "x", Module: "a", Resource: "b", Action: "c", Metadata: domain.ScalarMap{"": domain.BoolValue(true)}},
			want:  ErrInvalidArgument,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.catalog.Create(ctx, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCatalogService_CreateDuplicateCode(t *testing.T) {
	env := newTestEnv()
	env.mustCreatePermission("billing:invoice:read")

	_, err := env.catalog.Create(context.Background(), CreatePermissionInput{
		Code: "billing:invoice:read", Name: "again", Module: "billing", Resource: "invoice", Action: "read",
	})
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
}

func TestCatalogService_UpdateRejectsIdentityChanges(t *testing.T) {
	env := newTestEnv()
	permission := env.mustCreatePermission("billing:invoice:read")
	ctx := context.Background()

	cases := []struct {
		name  string
		input UpdatePermissionInput
	}{
		{name: "code", input: UpdatePermissionInput{ID: permission.ID, Code: domain.Set("billing:invoice:write")}},
		{name: "module", input: UpdatePermissionInput{ID: permission.ID, Module: domain.Set("crm")}},
		{name: "resource cleared", input: UpdatePermissionInput{ID: permission.ID, Resource: domain.Clear[string]()}},
		{name: "action", input: UpdatePermissionInput{ID: permission.ID, Action: domain.Set("write")}},
		{name: "is_system", input: UpdatePermissionInput{ID: permission.ID, IsSystem: domain.Set(true)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.catalog.Update(ctx, tc.input); !errors.Is(err, ErrImmutableField) {
				t.Fatalf("expected ErrImmutableField, got %v", err)
			}
		})
	}
}

func TestCatalogService_UpdateMutableFields(t *testing.T) {
	env := newTestEnv()
	permission := env.mustCreatePermission("billing:invoice:read")
	ctx := context.Background()

	env.clock.Advance(time.Minute)
	updated, err := env.catalog.Update(ctx, UpdatePermissionInput{
		ID:          permission.ID,
		Name:        domain.Set("Read all invoices"),
		Description: domain.Set("Grants read access"),
		Metadata:    domain.Set(domain.ScalarMap{"audited": domain.BoolValue(true)}),
		Code:        domain.Set("billing:invoice:read"),
	})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "Read all invoices" || updated.Description == nil || *updated.Description != "Grants read access" {
		t.Fatalf("unexpected updated permission: %+v", updated)
	}
	if !updated.UpdatedAt.After(permission.UpdatedAt) {
		t.Fatalf("expected UpdatedAt to advance")
	}
	if permission.Name != "billing:invoice:read" {
		t.Fatalf("original value must not change, got %q", permission.Name)
	}

	cleared, err := env.catalog.Update(ctx, UpdatePermissionInput{ID: permission.ID, Description: domain.Clear[string]()})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if cleared.Description != nil || cleared.Name != "Read all invoices" {
		t.Fatalf("expected description cleared and name kept: %+v", cleared)
	}

	if _, err := env.catalog.Update(ctx, UpdatePermissionInput{ID: permission.ID, Name: domain.Clear[string]()}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}

	if _, err := env.catalog.Update(ctx, UpdatePermissionInput{ID: "missing"}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogService_UpdatePurgesCodeCache(t *testing.T) {
	env := newTestEnv()
	permission := env.mustCreatePermission("billing:invoice:read")
	ctx := context.Background()

	if _, err := env.catalog.FindByCode(ctx, permission.Code); err != nil {
		t.Fatalf("FindByCode returned error: %v", err)
	}
	if _, err := env.catalog.Update(ctx, UpdatePermissionInput{ID: permission.ID, Name: domain.Set("Renamed")}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	found, err := env.catalog.FindByCode(ctx, permission.Code)
	if err != nil {
		t.Fatalf("FindByCode returned error: %v", err)
	}
	if found.Name != "Renamed" {
		t.Fatalf("expected cache to be purged, got name %q", found.Name)
	}
}

func TestCatalogService_Delete(t *testing.T) {
	env := newTestEnv()
	ctx := WithActor(context.Background(), "admin-1")

	system, err := env.catalog.Create(ctx, CreatePermissionInput{
		Name: "system", Module: "authz", Resource: "permission", Action: "manage", IsSystem: true,
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if err := env.catalog.Delete(ctx, system.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for system permission, got %v", err)
	}

	referenced := env.mustCreatePermission("billing:invoice:read")
	if _, err := env.grants.Grant(ctx, GrantInput{UserID: "u1", PermissionID: referenced.ID}); err != nil {
		t.Fatalf("Grant returned error: %v", err)
	}
	err = env.catalog.Delete(ctx, referenced.ID)
	if !errors.Is(err, ErrPermissionInUse) || !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrPermissionInUse, got %v", err)
	}

	free := env.mustCreatePermission("billing:invoice:write")
	if _, err := env.catalog.FindByCode(ctx, free.Code); err != nil {
		t.Fatalf("FindByCode returned error: %v", err)
	}
	if err := env.catalog.Delete(ctx, free.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := env.catalog.FindByCode(ctx, free.Code); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected deleted permission to be gone from cache, got %v", err)
	}
	if len(env.events.deleted) != 1 || env.events.deleted[0].DeletedBy != "admin-1" {
		t.Fatalf("expected one deleted event by admin-1, got %+v", env.events.deleted)
	}

	if err := env.catalog.Delete(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCatalogService_ListPaging(t *testing.T) {
	env := newTestEnv()
	for _, code := range []string{"billing:invoice:read", "billing:invoice:write", "billing:payment:read", "crm:lead:read"} {
		env.mustCreatePermission(code)
	}

	result, err := env.catalog.List(context.Background(), ListPermissionsInput{
		PermissionFilterInput: PermissionFilterInput{Module: "billing"},
		Page:                  2,
		Limit:                 2,
	})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if result.Total != 3 || result.Page != 2 || result.Limit != 2 {
		t.Fatalf("unexpected paging metadata: %+v", result)
	}
	if len(result.Permissions) != 1 || result.Permissions[0].Code != "billing:payment:read" {
		t.Fatalf("unexpected page contents: %+v", result.Permissions)
	}

	defaults, err := env.catalog.List(context.Background(), ListPermissionsInput{Limit: 1000})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if defaults.Page != 1 || defaults.Limit != maxPageLimit {
		t.Fatalf("expected clamped paging, got page=%d limit=%d", defaults.Page, defaults.Limit)
	}
}

func TestCatalogService_FindManyAndExists(t *testing.T) {
	env := newTestEnv()
	read := env.mustCreatePermission("billing:invoice:read")
	write := env.mustCreatePermission("billing:invoice:write")
	ctx := context.Background()

	byIDs, err := env.catalog.FindManyByIDs(ctx, []string{write.ID, "missing", read.ID, read.ID})
	if err != nil {
		t.Fatalf("FindManyByIDs returned error: %v", err)
	}
	if len(byIDs) != 2 {
		t.Fatalf("expected 2 permissions, got %d", len(byIDs))
	}

	byCodes, err := env.catalog.FindManyByCodes(ctx, []string{"BILLING:invoice:read", "nope:nope:nope"})
	if err != nil {
		t.Fatalf("FindManyByCodes returned error: %v", err)
	}
	if len(byCodes) != 1 || byCodes[0].ID != read.ID {
		t.Fatalf("unexpected permissions: %+v", byCodes)
	}

	exists, err := env.catalog.Exists(ctx, "billing:invoice:write")
	if err != nil || !exists {
		t.Fatalf("expected permission to exist, got %v, %v", exists, err)
	}
	exists, err = env.catalog.Exists(ctx, "billing:invoice:delete")
	if err != nil || exists {
		t.Fatalf("expected permission to be absent, got %v, %v", exists, err)
	}

	total, err := env.catalog.Count(ctx, PermissionFilterInput{Action: "write"})
	if err != nil {
		t.Fatalf("Count returned error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1, got %d", total)
	}
}

func TestCatalogService_EnsureSystemIsIdempotent(t *testing.T) {
	env := newTestEnv()
	codes := map[string]string{
		"authz:permission:read":   "Read permissions",
		"authz:permission:manage": "Manage permissions",
	}

	created, err := env.catalog.EnsureSystem(context.Background(), codes)
	if err != nil {
		t.Fatalf("EnsureSystem returned error: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 created, got %d", created)
	}

	created, err = env.catalog.EnsureSystem(context.Background(), codes)
	if err != nil {
		t.Fatalf("second EnsureSystem returned error: %v", err)
	}
	if created != 0 {
		t.Fatalf("expected nothing created on second call, got %d", created)
	}

	permission, err := env.catalog.FindByCode(context.Background(), "authz:permission:read")
	if err != nil {
		t.Fatalf("FindByCode returned error: %v", err)
	}
	if !permission.IsSystem {
		t.Fatalf("expected system permission, got %+v", permission)
	}
}
