package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const permissionsTable = "authz.permissions"

var permissionColumns = []string{
	"id",
	"code",
	"name",
	"description",
	"module",
	"resource",
	"action",
	"is_system",
	"metadata",
	"created_at",
	"updated_at",
}

// PermissionRepository implements port.PermissionRepository over PostgreSQL.
type PermissionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewPermissionRepository constructs a permission repository instance.
func NewPermissionRepository(exec pgExecutor) *PermissionRepository {
	return &PermissionRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository configured to execute within the provided transaction.
func (r *PermissionRepository) WithTx(tx pgx.Tx) *PermissionRepository {
	if tx == nil {
		return r
	}
	return &PermissionRepository{exec: tx, builder: r.builder}
}

// Create inserts a new permission row.
func (r *PermissionRepository) Create(ctx context.Context, permission domain.Permission) error {
	metadata, err := encodeScalarMap(permission.Metadata)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert(permissionsTable).
		Columns(permissionColumns...).
		Values(
			permission.ID,
			permission.Code,
			permission.Name,
			permission.Description,
			permission.Module,
			permission.Resource,
			permission.Action,
			permission.IsSystem,
			metadata,
			permission.CreatedAt,
			permission.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert permission sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert permission: %w", mapWriteError(err))
	}

	return nil
}

// GetByID retrieves a permission by identifier.
func (r *PermissionRepository) GetByID(ctx context.Context, id string) (*domain.Permission, error) {
	if !isUUID(id) {
		return nil, repository.ErrNotFound
	}
	return r.getOne(ctx, squirrel.Eq{"id": id}, "id")
}

// GetByCode retrieves a permission by its unique code.
func (r *PermissionRepository) GetByCode(ctx context.Context, code string) (*domain.Permission, error) {
	return r.getOne(ctx, squirrel.Eq{"code": code}, "code")
}

func (r *PermissionRepository) getOne(ctx context.Context, where squirrel.Sqlizer, label string) (*domain.Permission, error) {
	stmt, args, err := r.builder.Select(permissionColumns...).
		From(permissionsTable).
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select permission by %s sql: %w", label, err)
	}

	permission, err := scanPermissionRow(r.exec.QueryRow(ctx, stmt, args...).Scan)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("scan permission by %s: %w", label, err)
	}

	return permission, nil
}

// ListByIDs returns the permissions matching the identifiers. Unknown ids are skipped.
func (r *PermissionRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Permission, error) {
	ids = uuidsOnly(ids)
	if len(ids) == 0 {
		return []domain.Permission{}, nil
	}
	return r.listWhere(ctx, squirrel.Eq{"id": ids}, "ids")
}

// ListByCodes returns the permissions matching the codes. Unknown codes are skipped.
func (r *PermissionRepository) ListByCodes(ctx context.Context, codes []string) ([]domain.Permission, error) {
	if len(codes) == 0 {
		return []domain.Permission{}, nil
	}
	return r.listWhere(ctx, squirrel.Eq{"code": codes}, "codes")
}

func (r *PermissionRepository) listWhere(ctx context.Context, where squirrel.Sqlizer, label string) ([]domain.Permission, error) {
	stmt, args, err := r.builder.Select(permissionColumns...).
		From(permissionsTable).
		Where(where).
		OrderBy("code ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions by %s sql: %w", label, err)
	}

	return r.query(ctx, stmt, args)
}

// Update persists the mutable attributes of a permission.
func (r *PermissionRepository) Update(ctx context.Context, permission domain.Permission) error {
	metadata, err := encodeScalarMap(permission.Metadata)
	if err != nil {
		return err
	}
	if !isUUID(permission.ID) {
		return repository.ErrNotFound
	}

	stmt, args, err := r.builder.Update(permissionsTable).
		Set("name", permission.Name).
		Set("description", permission.Description).
		Set("metadata", metadata).
		Set("updated_at", permission.UpdatedAt).
		Where(squirrel.Eq{"id": permission.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update permission sql: %w", err)
	}

	res, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update permission: %w", mapWriteError(err))
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Delete removes a permission. Rows still referenced by grants yield repository.ErrReferenced.
func (r *PermissionRepository) Delete(ctx context.Context, id string) error {
	if !isUUID(id) {
		return repository.ErrNotFound
	}
	stmt, args, err := r.builder.Delete(permissionsTable).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete permission sql: %w", err)
	}

	res, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("delete permission: %w", mapWriteError(err))
	}
	if res.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// List returns a filtered page of permissions ordered by code.
func (r *PermissionRepository) List(ctx context.Context, filter port.PermissionFilter) ([]domain.Permission, error) {
	query := applyPermissionFilter(r.builder.Select(permissionColumns...).From(permissionsTable), filter).
		OrderBy("module ASC", "resource ASC", "action ASC")
	if filter.Limit > 0 {
		query = query.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		query = query.Offset(uint64(filter.Offset))
	}

	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}

	return r.query(ctx, stmt, args)
}

// Count returns the number of permissions matching the filter, ignoring paging.
func (r *PermissionRepository) Count(ctx context.Context, filter port.PermissionFilter) (int, error) {
	stmt, args, err := applyPermissionFilter(r.builder.Select("COUNT(*)").From(permissionsTable), filter).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count permissions sql: %w", err)
	}

	var total int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count permissions: %w", err)
	}

	return total, nil
}

// ExistsByCode reports whether a permission with the code exists.
func (r *PermissionRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	stmt, args, err := r.builder.Select("1").
		Prefix("SELECT EXISTS (").
		From(permissionsTable).
		Where(squirrel.Eq{"code": code}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build permission exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("check permission exists: %w", err)
	}

	return exists, nil
}

func (r *PermissionRepository) query(ctx context.Context, stmt string, args []any) ([]domain.Permission, error) {
	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()

	permissions := make([]domain.Permission, 0)
	for rows.Next() {
		permission, err := scanPermissionRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		permissions = append(permissions, *permission)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permissions: %w", err)
	}

	return permissions, nil
}

func applyPermissionFilter(query squirrel.SelectBuilder, filter port.PermissionFilter) squirrel.SelectBuilder {
	if filter.Module != "" {
		query = query.Where(squirrel.Eq{"module": filter.Module})
	}
	if filter.Resource != "" {
		query = query.Where(squirrel.Eq{"resource": filter.Resource})
	}
	if filter.Action != "" {
		query = query.Where(squirrel.Eq{"action": filter.Action})
	}
	if filter.IsSystem != nil {
		query = query.Where(squirrel.Eq{"is_system": *filter.IsSystem})
	}
	return query
}

func scanPermissionRow(scan func(dest ...any) error) (*domain.Permission, error) {
	var (
		permission domain.Permission
		metadata   []byte
	)

	if err := scan(
		&permission.ID,
		&permission.Code,
		&permission.Name,
		&permission.Description,
		&permission.Module,
		&permission.Resource,
		&permission.Action,
		&permission.IsSystem,
		&metadata,
		&permission.CreatedAt,
		&permission.UpdatedAt,
	); err != nil {
		return nil, err
	}

	decoded, err := decodeScalarMap(metadata)
	if err != nil {
		return nil, err
	}
	permission.Metadata = decoded

	return &permission, nil
}

var _ port.PermissionRepository = (*PermissionRepository)(nil)
