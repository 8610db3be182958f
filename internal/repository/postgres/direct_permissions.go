package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const directPermissionsTable = "authz.user_direct_permissions"

var directPermissionColumns = []string{
	"id",
	"user_id",
	"permission_id",
	"effect",
	"conditions",
	"expires_at",
	"granted_by",
	"created_at",
	"updated_at",
}

// An expired row for the same pair is overwritten in place; an active one is left untouched.
var replaceExpiredDirectPermissionSuffix = "ON CONFLICT (user_id, permission_id) DO UPDATE SET " +
	"id = EXCLUDED.id, effect = EXCLUDED.effect, conditions = EXCLUDED.conditions, " +
	"expires_at = EXCLUDED.expires_at, granted_by = EXCLUDED.granted_by, " +
	"created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at " +
	"WHERE " + directPermissionsTable + ".expires_at IS NOT NULL AND " + directPermissionsTable + ".expires_at <= ?"

// RETURNING yields no row when the pair already holds an active grant.
var upsertExpiredDirectPermissionSuffix = replaceExpiredDirectPermissionSuffix +
	" RETURNING " + strings.Join(directPermissionColumns, ", ")

// DirectPermissionRepository persists per-user permission overrides.
type DirectPermissionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewDirectPermissionRepository constructs a PostgreSQL-backed direct permission repository.
func NewDirectPermissionRepository(exec pgExecutor) *DirectPermissionRepository {
	return &DirectPermissionRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository configured to execute within the provided transaction.
func (r *DirectPermissionRepository) WithTx(tx pgx.Tx) *DirectPermissionRepository {
	if tx == nil {
		return r
	}
	return &DirectPermissionRepository{exec: tx, builder: r.builder}
}

// Create inserts the grant, replacing an expired grant for the same pair.
// An active grant for the pair yields repository.ErrConflict.
func (r *DirectPermissionRepository) Create(ctx context.Context, grant domain.DirectPermission, now time.Time) (*domain.DirectPermission, error) {
	if !isUUID(grant.PermissionID) {
		return nil, fmt.Errorf("insert direct permission: permission %s: %w", grant.PermissionID, repository.ErrNotFound)
	}
	conditions, err := encodeScalarMap(grant.Conditions)
	if err != nil {
		return nil, err
	}

	stmt, args, err := r.builder.Insert(directPermissionsTable).
		Columns(directPermissionColumns...).
		Values(
			grant.ID,
			grant.UserID,
			grant.PermissionID,
			string(grant.Effect),
			conditions,
			grant.ExpiresAt,
			grant.GrantedBy,
			grant.CreatedAt,
			grant.UpdatedAt,
		).
		Suffix(upsertExpiredDirectPermissionSuffix, now).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert direct permission sql: %w", err)
	}

	stored, err := scanDirectPermissionRow(r.exec.QueryRow(ctx, stmt, args...).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrConflict
		}
		mapped := mapWriteError(err)
		if errors.Is(mapped, repository.ErrReferenced) {
			return nil, fmt.Errorf("insert direct permission: permission %s: %w", grant.PermissionID, repository.ErrNotFound)
		}
		return nil, fmt.Errorf("insert direct permission: %w", mapped)
	}

	return stored, nil
}

// CreateMany inserts grants in a single statement. Pairs holding an active grant are
// skipped and expired grants are replaced. Every pair must be unique within grants.
func (r *DirectPermissionRepository) CreateMany(ctx context.Context, grants []domain.DirectPermission, now time.Time) (int, error) {
	if len(grants) == 0 {
		return 0, nil
	}
	for _, grant := range grants {
		if !isUUID(grant.PermissionID) {
			return 0, fmt.Errorf("insert direct permissions: permission %s: %w", grant.PermissionID, repository.ErrNotFound)
		}
	}

	insert := r.builder.Insert(directPermissionsTable).Columns(directPermissionColumns...)
	for _, grant := range grants {
		conditions, err := encodeScalarMap(grant.Conditions)
		if err != nil {
			return 0, err
		}
		insert = insert.Values(
			grant.ID,
			grant.UserID,
			grant.PermissionID,
			string(grant.Effect),
			conditions,
			grant.ExpiresAt,
			grant.GrantedBy,
			grant.CreatedAt,
			grant.UpdatedAt,
		)
	}

	stmt, args, err := insert.Suffix(replaceExpiredDirectPermissionSuffix, now).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert direct permissions sql: %w", err)
	}

	res, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		mapped := mapWriteError(err)
		if errors.Is(mapped, repository.ErrReferenced) {
			return 0, fmt.Errorf("insert direct permissions: %w", repository.ErrNotFound)
		}
		return 0, fmt.Errorf("insert direct permissions: %w", mapped)
	}

	return int(res.RowsAffected()), nil
}

// GetByID loads a grant by identifier regardless of expiry.
func (r *DirectPermissionRepository) GetByID(ctx context.Context, id string) (*domain.DirectPermission, error) {
	if !isUUID(id) {
		return nil, repository.ErrNotFound
	}
	return r.getOne(ctx, squirrel.Eq{"id": id}, "id")
}

// GetByUserAndPermission loads the grant for a pair regardless of expiry.
func (r *DirectPermissionRepository) GetByUserAndPermission(ctx context.Context, userID, permissionID string) (*domain.DirectPermission, error) {
	if !isUUID(permissionID) {
		return nil, repository.ErrNotFound
	}
	return r.getOne(ctx, squirrel.Eq{"user_id": userID, "permission_id": permissionID}, "user and permission")
}

func (r *DirectPermissionRepository) getOne(ctx context.Context, where squirrel.Sqlizer, label string) (*domain.DirectPermission, error) {
	stmt, args, err := r.builder.Select(directPermissionColumns...).
		From(directPermissionsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select direct permission by %s sql: %w", label, err)
	}

	grant, err := scanDirectPermissionRow(r.exec.QueryRow(ctx, stmt, args...).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan direct permission by %s: %w", label, err)
	}

	return grant, nil
}

// Update persists the mutable attributes of a grant.
func (r *DirectPermissionRepository) Update(ctx context.Context, grant domain.DirectPermission) error {
	conditions, err := encodeScalarMap(grant.Conditions)
	if err != nil {
		return err
	}
	if !isUUID(grant.ID) {
		return repository.ErrNotFound
	}

	stmt, args, err := r.builder.Update(directPermissionsTable).
		Set("effect", string(grant.Effect)).
		Set("conditions", conditions).
		Set("expires_at", grant.ExpiresAt).
		Set("granted_by", grant.GrantedBy).
		Set("updated_at", grant.UpdatedAt).
		Where(squirrel.Eq{"id": grant.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update direct permission sql: %w", err)
	}

	res, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update direct permission: %w", err)
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes the grant for a pair and returns the number of rows removed.
func (r *DirectPermissionRepository) Delete(ctx context.Context, userID, permissionID string) (int, error) {
	if !isUUID(permissionID) {
		return 0, nil
	}
	return r.deleteWhere(ctx, squirrel.Eq{"user_id": userID, "permission_id": permissionID}, "pair")
}

// DeleteByUser removes every grant held by the user.
func (r *DirectPermissionRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return r.deleteWhere(ctx, squirrel.Eq{"user_id": userID}, "user")
}

// DeleteByPermission removes every grant of the permission.
func (r *DirectPermissionRepository) DeleteByPermission(ctx context.Context, permissionID string) (int, error) {
	if !isUUID(permissionID) {
		return 0, nil
	}
	return r.deleteWhere(ctx, squirrel.Eq{"permission_id": permissionID}, "permission")
}

// DeleteExpired removes grants whose expiry is at or before now.
func (r *DirectPermissionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	return r.deleteWhere(ctx, squirrel.And{
		squirrel.NotEq{"expires_at": nil},
		squirrel.LtOrEq{"expires_at": now},
	}, "expired")
}

func (r *DirectPermissionRepository) deleteWhere(ctx context.Context, where squirrel.Sqlizer, label string) (int, error) {
	stmt, args, err := r.builder.Delete(directPermissionsTable).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete direct permissions by %s sql: %w", label, err)
	}

	res, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete direct permissions by %s: %w", label, err)
	}

	return int(res.RowsAffected()), nil
}

// ListByUser returns the user's grants ordered by creation time.
func (r *DirectPermissionRepository) ListByUser(ctx context.Context, userID string, opts port.DirectPermissionListOptions, now time.Time) ([]domain.DirectPermission, error) {
	query := r.builder.Select(directPermissionColumns...).
		From(directPermissionsTable).
		Where(squirrel.Eq{"user_id": userID})
	if !opts.IncludeExpired {
		query = query.Where(activeAt("expires_at", now))
	}
	if opts.Effect != nil {
		query = query.Where(squirrel.Eq{"effect": string(*opts.Effect)})
	}

	stmt, args, err := query.OrderBy("created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list direct permissions by user sql: %w", err)
	}

	return r.query(ctx, stmt, args)
}

// ListByPermission returns active grants of the permission.
func (r *DirectPermissionRepository) ListByPermission(ctx context.Context, permissionID string, now time.Time) ([]domain.DirectPermission, error) {
	if !isUUID(permissionID) {
		return []domain.DirectPermission{}, nil
	}
	stmt, args, err := r.builder.Select(directPermissionColumns...).
		From(directPermissionsTable).
		Where(squirrel.Eq{"permission_id": permissionID}).
		Where(activeAt("expires_at", now)).
		OrderBy("created_at ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list direct permissions by permission sql: %w", err)
	}

	return r.query(ctx, stmt, args)
}

// ListWithEffectsByUser joins active grants with their catalog entries.
func (r *DirectPermissionRepository) ListWithEffectsByUser(ctx context.Context, userID string, now time.Time) ([]domain.PermissionWithEffect, error) {
	columns := []string{"d.id"}
	for _, column := range permissionColumns {
		columns = append(columns, "p."+column)
	}
	columns = append(columns, "d.effect", "d.conditions", "d.expires_at")

	stmt, args, err := r.builder.Select(columns...).
		From(directPermissionsTable + " d").
		Join(permissionsTable + " p ON p.id = d.permission_id").
		Where(squirrel.Eq{"d.user_id": userID}).
		Where(activeAt("d.expires_at", now)).
		OrderBy("p.code ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions with effects sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions with effects: %w", err)
	}
	defer rows.Close()

	result := make([]domain.PermissionWithEffect, 0)
	for rows.Next() {
		var (
			item       domain.PermissionWithEffect
			metadata   []byte
			effect     string
			conditions []byte
		)
		p := &item.Permission
		if err := rows.Scan(
			&item.GrantID,
			&p.ID, &p.Code, &p.Name, &p.Description, &p.Module, &p.Resource, &p.Action, &p.IsSystem, &metadata, &p.CreatedAt, &p.UpdatedAt,
			&effect,
			&conditions,
			&item.ExpiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan permission with effect: %w", err)
		}
		if p.Metadata, err = decodeScalarMap(metadata); err != nil {
			return nil, err
		}
		if item.Conditions, err = decodeScalarMap(conditions); err != nil {
			return nil, err
		}
		item.Effect = domain.Effect(effect)
		result = append(result, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions with effects: %w", err)
	}

	return result, nil
}

// Exists reports whether an active grant exists for the pair.
func (r *DirectPermissionRepository) Exists(ctx context.Context, userID, permissionID string, now time.Time) (bool, error) {
	if !isUUID(permissionID) {
		return false, nil
	}
	stmt, args, err := r.builder.Select("1").
		Prefix("SELECT EXISTS (").
		From(directPermissionsTable).
		Where(squirrel.Eq{"user_id": userID, "permission_id": permissionID}).
		Where(activeAt("expires_at", now)).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build direct permission exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check direct permission exists: %w", err)
	}

	return exists, nil
}

// CountByUser counts the user's active grants.
func (r *DirectPermissionRepository) CountByUser(ctx context.Context, userID string, now time.Time) (int, error) {
	return r.count(ctx, "COUNT(*)", squirrel.And{
		squirrel.Eq{"user_id": userID},
		activeAt("expires_at", now),
	}, "user")
}

// CountByPermission counts every stored grant of the permission, expired ones included.
func (r *DirectPermissionRepository) CountByPermission(ctx context.Context, permissionID string) (int, error) {
	if !isUUID(permissionID) {
		return 0, nil
	}
	return r.count(ctx, "COUNT(*)", squirrel.Eq{"permission_id": permissionID}, "permission")
}

// CountUsersWithPermission counts distinct users holding an active grant of the permission.
func (r *DirectPermissionRepository) CountUsersWithPermission(ctx context.Context, permissionID string, now time.Time) (int, error) {
	if !isUUID(permissionID) {
		return 0, nil
	}
	return r.count(ctx, "COUNT(DISTINCT user_id)", squirrel.And{
		squirrel.Eq{"permission_id": permissionID},
		activeAt("expires_at", now),
	}, "users with permission")
}

func (r *DirectPermissionRepository) count(ctx context.Context, expr string, where squirrel.Sqlizer, label string) (int, error) {
	stmt, args, err := r.builder.Select(expr).
		From(directPermissionsTable).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count direct permissions by %s sql: %w", label, err)
	}

	var total int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count direct permissions by %s: %w", label, err)
	}

	return total, nil
}

func (r *DirectPermissionRepository) query(ctx context.Context, stmt string, args []any) ([]domain.DirectPermission, error) {
	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query direct permissions: %w", err)
	}
	defer rows.Close()

	grants := make([]domain.DirectPermission, 0)
	for rows.Next() {
		grant, err := scanDirectPermissionRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan direct permission: %w", err)
		}
		grants = append(grants, *grant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate direct permissions: %w", err)
	}

	return grants, nil
}

func scanDirectPermissionRow(scan func(dest ...any) error) (*domain.DirectPermission, error) {
	var (
		grant      domain.DirectPermission
		effect     string
		conditions []byte
	)

	if err := scan(
		&grant.ID,
		&grant.UserID,
		&grant.PermissionID,
		&effect,
		&conditions,
		&grant.ExpiresAt,
		&grant.GrantedBy,
		&grant.CreatedAt,
		&grant.UpdatedAt,
	); err != nil {
		return nil, err
	}

	decoded, err := decodeScalarMap(conditions)
	if err != nil {
		return nil, err
	}
	grant.Conditions = decoded
	grant.Effect = domain.Effect(effect)

	return &grant, nil
}

var _ port.DirectPermissionRepository = (*DirectPermissionRepository)(nil)
