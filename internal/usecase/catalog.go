package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const (
	defaultPageLimit        = 20
	maxPageLimit            = 100
	defaultCatalogCacheSize = 1024
	defaultCatalogCacheTTL  = time.Minute
)

// CreatePermissionInput captures the payload for creating a permission.
// Code may be left empty; it is derived from Module, Resource and Action.
type CreatePermissionInput struct {
	Code        string
	Name        string
	Description *string
	Module      string
	Resource    string
	Action      string
	IsSystem    bool
	Metadata    domain.ScalarMap
}

// UpdatePermissionInput captures a partial permission update.
type UpdatePermissionInput struct {
	ID          string
	Name        domain.Patch[string]
	Description domain.Patch[string]
	Metadata    domain.Patch[domain.ScalarMap]

	Code     domain.Patch[string]
	Module   domain.Patch[string]
	Resource domain.Patch[string]
	Action   domain.Patch[string]
	IsSystem domain.Patch[bool]
}

// PermissionFilterInput narrows catalog queries.
type PermissionFilterInput struct {
	Module   string
	Resource string
	Action   string
	IsSystem *bool
}

// ListPermissionsInput captures filters and 1-based paging for listing permissions.
type ListPermissionsInput struct {
	PermissionFilterInput
	Page  int
	Limit int
}

// ListPermissionsResult includes permissions and pagination metadata.
type ListPermissionsResult struct {
	Permissions []domain.Permission
	Total       int
	Page        int
	Limit       int
}

// CatalogOptions configures the code lookup cache.
type CatalogOptions struct {
	CacheSize int
	CacheTTL  time.Duration
}

// CatalogService manages the permission catalog.
type CatalogService struct {
	permissions port.PermissionRepository
	grants      port.DirectPermissionRepository
	events      port.EventPublisher
	byCode      *lru.LRU[string, domain.Permission]
	logger      *zap.Logger
	now         func() time.Time
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(permissions port.PermissionRepository, grants port.DirectPermissionRepository, events port.EventPublisher, opts CatalogOptions, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCatalogCacheSize
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCatalogCacheTTL
	}

	return &CatalogService{
		permissions: permissions,
		grants:      grants,
		events:      events,
		byCode:      lru.NewLRU[string, domain.Permission](opts.CacheSize, nil, opts.CacheTTL),
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock, primarily for deterministic testing.
func (s *CatalogService) WithNow(now func() time.Time) *CatalogService {
	if now != nil {
		s.now = now
	}
	return s
}

// Create registers a new permission.
func (s *CatalogService) Create(ctx context.Context, input CreatePermissionInput) (*domain.Permission, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrInvalidName
	}

	code, err := domain.BuildPermissionCode(input.Module, input.Resource, input.Action)
	if err != nil {
		return nil, err
	}
	if supplied := domain.NormalizeCodeSegment(input.Code); supplied != "" && supplied != code {
		return nil, fmt.Errorf("%w: %q does not match %q", ErrInvalidPermissionCode, input.Code, code)
	}

	if err := input.Metadata.Validate(); err != nil {
		return nil, invalidArgument("metadata: %v", err)
	}

	exists, err := s.permissions.ExistsByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("check permission code: %w", err)
	}
	if exists {
		return nil, ErrDuplicateCode
	}

	now := s.now().UTC()
	permission := domain.Permission{
		ID:          uuid.NewString(),
		Code:        code,
		Name:        name,
		Description: trimOptional(input.Description),
		Module:      domain.NormalizeCodeSegment(input.Module),
		Resource:    domain.NormalizeCodeSegment(input.Resource),
		Action:      domain.NormalizeCodeSegment(input.Action),
		IsSystem:    input.IsSystem,
		Metadata:    input.Metadata.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.permissions.Create(ctx, permission); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("create permission: %w", err)
	}

	return &permission, nil
}

// EnsureSystem registers each code that is not yet in the catalog as a system
// permission and returns how many were created.
func (s *CatalogService) EnsureSystem(ctx context.Context, codes map[string]string) (int, error) {
	created := 0
	for code, name := range codes {
		module, resource, action, err := domain.ParsePermissionCode(code)
		if err != nil {
			return created, err
		}
		_, err = s.Create(ctx, CreatePermissionInput{
			Name:     name,
			Module:   module,
			Resource: resource,
			Action:   action,
			IsSystem: true,
		})
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrDuplicateCode):
		default:
			return created, fmt.Errorf("ensure permission %s: %w", code, err)
		}
	}
	return created, nil
}

// Update applies a partial update. Identity attributes may only be "set" to their current value.
func (s *CatalogService) Update(ctx context.Context, input UpdatePermissionInput) (*domain.Permission, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, invalidArgument("permission id is required")
	}

	current, err := s.permissions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}

	if err := checkImmutableCode(input.Code, current.Code); err != nil {
		return nil, err
	}
	if err := checkImmutableSegment("module", input.Module, current.Module); err != nil {
		return nil, err
	}
	if err := checkImmutableSegment("resource", input.Resource, current.Resource); err != nil {
		return nil, err
	}
	if err := checkImmutableSegment("action", input.Action, current.Action); err != nil {
		return nil, err
	}
	if err := checkImmutable("is_system", input.IsSystem, current.IsSystem); err != nil {
		return nil, err
	}

	updated := *current
	switch {
	case input.Name.IsClear():
		return nil, ErrInvalidName
	case input.Name.IsSet():
		name, _ := input.Name.Value()
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, ErrInvalidName
		}
		updated.Name = name
	}

	updated.Description = trimOptional(domain.ApplyOptional(input.Description, current.Description))

	switch {
	case input.Metadata.IsClear():
		updated.Metadata = nil
	case input.Metadata.IsSet():
		metadata, _ := input.Metadata.Value()
		if err := metadata.Validate(); err != nil {
			return nil, invalidArgument("metadata: %v", err)
		}
		updated.Metadata = metadata.Clone()
	}

	updated.UpdatedAt = s.now().UTC()

	if err := s.permissions.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update permission: %w", err)
	}
	s.byCode.Remove(current.Code)

	return &updated, nil
}

// Delete removes a non-system permission that no direct grant references.
func (s *CatalogService) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return invalidArgument("permission id is required")
	}

	permission, err := s.permissions.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("get permission: %w", err)
	}
	if permission.IsSystem {
		return fmt.Errorf("%w: system permission %s cannot be deleted", ErrForbidden, permission.Code)
	}

	references, err := s.grants.CountByPermission(ctx, id)
	if err != nil {
		return fmt.Errorf("count permission references: %w", err)
	}
	if references > 0 {
		return ErrPermissionInUse
	}

	if err := s.permissions.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrReferenced) {
			return ErrPermissionInUse
		}
		return fmt.Errorf("delete permission: %w", err)
	}
	s.byCode.Remove(permission.Code)

	if s.events != nil {
		event := domain.PermissionDeletedEvent{
			EventID:      uuid.NewString(),
			PermissionID: permission.ID,
			Code:         permission.Code,
			DeletedBy:    ActorFromContext(ctx),
			DeletedAt:    s.now().UTC(),
		}
		if err := s.events.PublishPermissionDeleted(ctx, event); err != nil {
			s.logger.Warn("publish permission deleted failed", zap.String("permission_id", permission.ID), zap.Error(err))
		}
	}

	return nil
}

// FindByID retrieves a permission by identifier.
func (s *CatalogService) FindByID(ctx context.Context, id string) (*domain.Permission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidArgument("permission id is required")
	}

	permission, err := s.permissions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}
	return permission, nil
}

// FindByCode retrieves a permission by code, consulting the in-process cache first.
func (s *CatalogService) FindByCode(ctx context.Context, code string) (*domain.Permission, error) {
	code = domain.NormalizeCodeSegment(code)
	if code == "" {
		return nil, invalidArgument("permission code is required")
	}

	if cached, ok := s.byCode.Get(code); ok {
		cached.Metadata = cached.Metadata.Clone()
		return &cached, nil
	}

	permission, err := s.permissions.GetByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("get permission by code: %w", err)
	}

	entry := *permission
	entry.Metadata = permission.Metadata.Clone()
	s.byCode.Add(code, entry)

	return permission, nil
}

// FindManyByIDs returns the permissions that exist among ids.
func (s *CatalogService) FindManyByIDs(ctx context.Context, ids []string) ([]domain.Permission, error) {
	permissions, err := s.permissions.ListByIDs(ctx, compactStrings(ids, strings.TrimSpace))
	if err != nil {
		return nil, fmt.Errorf("list permissions by ids: %w", err)
	}
	return permissions, nil
}

// FindManyByCodes returns the permissions that exist among codes.
func (s *CatalogService) FindManyByCodes(ctx context.Context, codes []string) ([]domain.Permission, error) {
	permissions, err := s.permissions.ListByCodes(ctx, compactStrings(codes, domain.NormalizeCodeSegment))
	if err != nil {
		return nil, fmt.Errorf("list permissions by codes: %w", err)
	}
	return permissions, nil
}

// List returns a page of permissions together with the total matching count.
func (s *CatalogService) List(ctx context.Context, input ListPermissionsInput) (*ListPermissionsResult, error) {
	page := input.Page
	if page < 1 {
		page = 1
	}
	limit := input.Limit
	switch {
	case limit <= 0:
		limit = defaultPageLimit
	case limit > maxPageLimit:
		limit = maxPageLimit
	}

	filter := toPermissionFilter(input.PermissionFilterInput)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	permissions, err := s.permissions.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}

	total, err := s.permissions.Count(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count permissions: %w", err)
	}

	return &ListPermissionsResult{
		Permissions: permissions,
		Total:       total,
		Page:        page,
		Limit:       limit,
	}, nil
}

// Exists reports whether a permission with the code is registered.
func (s *CatalogService) Exists(ctx context.Context, code string) (bool, error) {
	code = domain.NormalizeCodeSegment(code)
	if code == "" {
		return false, nil
	}

	exists, err := s.permissions.ExistsByCode(ctx, code)
	if err != nil {
		return false, fmt.Errorf("check permission code: %w", err)
	}
	return exists, nil
}

// Count returns the number of permissions matching the filter.
func (s *CatalogService) Count(ctx context.Context, input PermissionFilterInput) (int, error) {
	total, err := s.permissions.Count(ctx, toPermissionFilter(input))
	if err != nil {
		return 0, fmt.Errorf("count permissions: %w", err)
	}
	return total, nil
}

func toPermissionFilter(input PermissionFilterInput) port.PermissionFilter {
	return port.PermissionFilter{
		Module:   domain.NormalizeCodeSegment(input.Module),
		Resource: domain.NormalizeCodeSegment(input.Resource),
		Action:   domain.NormalizeCodeSegment(input.Action),
		IsSystem: input.IsSystem,
	}
}

func checkImmutable[T comparable](field string, patch domain.Patch[T], current T) error {
	if patch.IsClear() {
		return immutableField(field)
	}
	if value, ok := patch.Value(); ok && value != current {
		return immutableField(field)
	}
	return nil
}

func checkImmutableSegment(field string, patch domain.Patch[string], current string) error {
	if value, ok := patch.Value(); ok {
		return checkImmutable(field, domain.Set(domain.NormalizeCodeSegment(value)), current)
	}
	return checkImmutable(field, patch, current)
}

func checkImmutableCode(patch domain.Patch[string], current string) error {
	return checkImmutableSegment("code", patch, current)
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func compactStrings(values []string, normalize func(string) string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = normalize(value)
		if value == "" {
			continue
		}
		if _, dup := seen[value]; dup {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
