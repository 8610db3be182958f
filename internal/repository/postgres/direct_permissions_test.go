package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

var directPermissionRowColumns = []string{
	"id", "user_id", "permission_id", "effect", "conditions", "expires_at", "granted_by", "created_at", "updated_at",
}

func TestDirectPermissionRepository_CreateReturnsStoredRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	grant := domain.DirectPermission{
		ID:           "grant-1",
		UserID:       "user-1",
		PermissionID: readPermissionID,
		Effect:       domain.EffectDeny,
		Conditions:   domain.ScalarMap{"tenantId": domain.StringValue("t1")},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	rows := pgxmock.NewRows(directPermissionRowColumns).AddRow(
		"grant-1", "user-1", readPermissionID, "DENY", []byte(`{"tenantId":"t1"}`), nil, nil, now, now,
	)

	mock.ExpectQuery(`INSERT INTO authz\.user_direct_permissions .* ON CONFLICT \(user_id, permission_id\) DO UPDATE .* expires_at <= \$10 RETURNING`).
		WithArgs(
			"grant-1", "user-1", readPermissionID, "DENY",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			now, now, now,
		).
		WillReturnRows(rows)

	stored, err := repo.Create(context.Background(), grant, now)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if stored.Effect != domain.EffectDeny {
		t.Fatalf("expected DENY effect, got %s", stored.Effect)
	}
	if !stored.Conditions.Equal(grant.Conditions) {
		t.Fatalf("expected conditions %v, got %v", grant.Conditions, stored.Conditions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDirectPermissionRepository_CreateActiveDuplicateConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	mock.ExpectQuery(`INSERT INTO authz\.user_direct_permissions`).
		WillReturnRows(pgxmock.NewRows(directPermissionRowColumns))

	_, err = repo.Create(context.Background(), domain.DirectPermission{ID: "grant-2", UserID: "user-1", PermissionID: readPermissionID, Effect: domain.EffectAllow}, now)
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDirectPermissionRepository_CreateUnknownPermission(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	mock.ExpectQuery(`INSERT INTO authz\.user_direct_permissions`).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	_, err = repo.Create(context.Background(), domain.DirectPermission{ID: "grant-3", UserID: "user-1", PermissionID: unknownPermissionID, Effect: domain.EffectAllow}, time.Now())
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDirectPermissionRepository_CreateManySkipsConflicts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	grants := []domain.DirectPermission{
		{ID: "g1", UserID: "u1", PermissionID: readPermissionID, Effect: domain.EffectAllow, CreatedAt: now, UpdatedAt: now},
		{ID: "g2", UserID: "u1", PermissionID: writePermissionID, Effect: domain.EffectAllow, CreatedAt: now, UpdatedAt: now},
	}

	mock.ExpectExec(`INSERT INTO authz\.user_direct_permissions .* ON CONFLICT \(user_id, permission_id\) DO UPDATE .* expires_at <= \$19$`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	inserted, err := repo.CreateMany(context.Background(), grants, now)
	if err != nil {
		t.Fatalf("CreateMany returned error: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected 1 inserted row, got %d", inserted)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDirectPermissionRepository_DeleteExpired(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	mock.ExpectExec(`DELETE FROM authz\.user_direct_permissions WHERE \(expires_at IS NOT NULL AND expires_at <= \$1\)`).
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	removed, err := repo.DeleteExpired(context.Background(), now)
	if err != nil {
		t.Fatalf("DeleteExpired returned error: %v", err)
	}
	if removed != 3 {
		t.Fatalf("expected 3 removed rows, got %d", removed)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDirectPermissionRepository_DeleteAbsentIsNotAnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	mock.ExpectExec(`DELETE FROM authz\.user_direct_permissions WHERE permission_id = \$1 AND user_id = \$2`).
		WithArgs(readPermissionID, "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	removed, err := repo.Delete(context.Background(), "user-1", readPermissionID)
	if err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected nothing removed, got %d", removed)
	}
}

func TestDirectPermissionRepository_ListByUserActiveOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	expires := now.Add(time.Hour)
	deny := domain.EffectDeny
	rows := pgxmock.NewRows(directPermissionRowColumns).AddRow(
		"grant-1", "user-1", readPermissionID, "DENY", nil, &expires, nil, now, now,
	)

	mock.ExpectQuery(`SELECT .*FROM authz\.user_direct_permissions WHERE user_id = \$1 AND \(expires_at IS NULL OR expires_at > \$2\) AND effect = \$3 ORDER BY created_at ASC`).
		WithArgs("user-1", now, "DENY").
		WillReturnRows(rows)

	grants, err := repo.ListByUser(context.Background(), "user-1", port.DirectPermissionListOptions{Effect: &deny}, now)
	if err != nil {
		t.Fatalf("ListByUser returned error: %v", err)
	}
	if len(grants) != 1 || grants[0].ExpiresAt == nil || !grants[0].ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected grants: %+v", grants)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDirectPermissionRepository_ListWithEffectsByUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	columns := append([]string{"grant_id"}, permissionRowColumns...)
	columns = append(columns, "effect", "conditions", "expires_at")
	rows := pgxmock.NewRows(columns).AddRow(
		"grant-1",
		readPermissionID, "billing:invoice:read", "Read", nil, "billing", "invoice", "read", false, nil, now, now,
		"ALLOW", []byte(`{"tenantId":"t1"}`), nil,
	)

	mock.ExpectQuery(`SELECT d\.id, p\.id, .*FROM authz\.user_direct_permissions d JOIN authz\.permissions p ON p\.id = d\.permission_id`).
		WithArgs("user-1", now).
		WillReturnRows(rows)

	items, err := repo.ListWithEffectsByUser(context.Background(), "user-1", now)
	if err != nil {
		t.Fatalf("ListWithEffectsByUser returned error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected one item, got %d", len(items))
	}
	item := items[0]
	if item.GrantID != "grant-1" || item.Permission.Code != "billing:invoice:read" || item.Effect != domain.EffectAllow {
		t.Fatalf("unexpected item: %+v", item)
	}
	if value, ok := item.Conditions["tenantId"].AsString(); !ok || value != "t1" {
		t.Fatalf("expected tenantId condition, got %v", item.Conditions)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDirectPermissionRepository_CountUsersWithPermission(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT user_id\) FROM authz\.user_direct_permissions`).
		WithArgs(readPermissionID, now).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))

	total, err := repo.CountUsersWithPermission(context.Background(), readPermissionID, now)
	if err != nil {
		t.Fatalf("CountUsersWithPermission returned error: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected 2, got %d", total)
	}
}

func TestDirectPermissionRepository_MalformedPermissionIDMatchesNothing(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)
	ctx := context.Background()
	now := time.Now().UTC()

	removed, err := repo.Delete(ctx, "user-1", "abc")
	if err != nil || removed != 0 {
		t.Fatalf("Delete: expected no-op, got %d %v", removed, err)
	}
	if removed, err := repo.DeleteByPermission(ctx, "abc"); err != nil || removed != 0 {
		t.Fatalf("DeleteByPermission: expected no-op, got %d %v", removed, err)
	}
	if _, err := repo.GetByID(ctx, "abc"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetByID: expected ErrNotFound, got %v", err)
	}
	if _, err := repo.GetByUserAndPermission(ctx, "user-1", "abc"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetByUserAndPermission: expected ErrNotFound, got %v", err)
	}
	if err := repo.Update(ctx, domain.DirectPermission{ID: "abc", Effect: domain.EffectAllow}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Update: expected ErrNotFound, got %v", err)
	}
	if exists, err := repo.Exists(ctx, "user-1", "abc", now); err != nil || exists {
		t.Fatalf("Exists: expected false, got %v %v", exists, err)
	}
	if total, err := repo.CountUsersWithPermission(ctx, "abc", now); err != nil || total != 0 {
		t.Fatalf("CountUsersWithPermission: expected 0, got %d %v", total, err)
	}
	if grants, err := repo.ListByPermission(ctx, "abc", now); err != nil || len(grants) != 0 {
		t.Fatalf("ListByPermission: expected empty, got %v %v", grants, err)
	}
	if _, err := repo.Create(ctx, domain.DirectPermission{ID: "grant-4", UserID: "user-1", PermissionID: "abc", Effect: domain.EffectAllow}, now); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("Create: expected ErrNotFound, got %v", err)
	}
	batch := []domain.DirectPermission{{ID: "grant-5", UserID: "user-1", PermissionID: "abc", Effect: domain.EffectAllow}}
	if _, err := repo.CreateMany(ctx, batch, now); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("CreateMany: expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected database calls: %v", err)
	}
}

func TestDirectPermissionRepository_GetByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	defer mock.Close()

	repo := NewDirectPermissionRepository(mock)

	mock.ExpectQuery(`SELECT .*FROM authz\.user_direct_permissions WHERE id = \$1 LIMIT 1`).
		WithArgs(unknownPermissionID).
		WillReturnRows(pgxmock.NewRows(directPermissionRowColumns))

	if _, err := repo.GetByID(context.Background(), unknownPermissionID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
