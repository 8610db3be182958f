package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

// GrantInput captures a single direct grant request. An empty Effect means ALLOW.
type GrantInput struct {
	UserID       string
	PermissionID string
	Effect       domain.Effect
	Conditions   domain.ScalarMap
	ExpiresAt    *time.Time
	GrantedBy    *string
}

// UpdateDirectPermissionInput captures a partial grant update.
type UpdateDirectPermissionInput struct {
	ID         string
	Effect     domain.Patch[domain.Effect]
	Conditions domain.Patch[domain.ScalarMap]
	ExpiresAt  domain.Patch[time.Time]

	UserID       domain.Patch[string]
	PermissionID domain.Patch[string]
	GrantedBy    domain.Patch[string]
}

// ListDirectPermissionsOptions narrows per-user grant listings.
type ListDirectPermissionsOptions struct {
	IncludeExpired bool
	Effect         *domain.Effect
}

// DirectPermissionService manages per-user ALLOW/DENY overrides.
type DirectPermissionService struct {
	grants      port.DirectPermissionRepository
	permissions port.PermissionRepository
	events      port.EventPublisher
	logger      *zap.Logger
	now         func() time.Time
}

// NewDirectPermissionService constructs a DirectPermissionService.
func NewDirectPermissionService(grants port.DirectPermissionRepository, permissions port.PermissionRepository, events port.EventPublisher, logger *zap.Logger) *DirectPermissionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectPermissionService{
		grants:      grants,
		permissions: permissions,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}
}

// WithNow overrides the clock, primarily for deterministic testing.
func (s *DirectPermissionService) WithNow(now func() time.Time) *DirectPermissionService {
	if now != nil {
		s.now = now
	}
	return s
}

// Grant records a direct grant. An active grant for the same pair yields ErrGrantConflict;
// an expired one is replaced.
func (s *DirectPermissionService) Grant(ctx context.Context, input GrantInput) (*domain.DirectPermission, error) {
	now := s.now().UTC()
	grant, err := s.buildGrant(input, now)
	if err != nil {
		return nil, err
	}

	permission, err := s.permissions.GetByID(ctx, grant.PermissionID)
	if err != nil {
		return nil, fmt.Errorf("get permission: %w", err)
	}

	stored, err := s.grants.Create(ctx, grant, now)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrGrantConflict
		}
		return nil, fmt.Errorf("create direct permission: %w", err)
	}

	if s.events != nil {
		event := domain.DirectPermissionGrantedEvent{
			EventID:        uuid.NewString(),
			GrantID:        stored.ID,
			UserID:         stored.UserID,
			PermissionID:   stored.PermissionID,
			PermissionCode: permission.Code,
			Effect:         stored.Effect,
			Conditions:     stored.Conditions,
			ExpiresAt:      stored.ExpiresAt,
			GrantedBy:      stored.GrantedBy,
			GrantedAt:      now,
		}
		if err := s.events.PublishDirectPermissionGranted(ctx, event); err != nil {
			s.logger.Warn("publish direct permission granted failed", zap.String("grant_id", stored.ID), zap.Error(err))
		}
	}

	return stored, nil
}

// GrantMany inserts grants in bulk and returns how many were stored. Pairs holding an
// active grant, or repeated earlier in the batch, are skipped; an expired grant for the
// pair is replaced as in Grant. Any invalid entry fails the whole batch before anything
// is written.
func (s *DirectPermissionService) GrantMany(ctx context.Context, inputs []GrantInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	grants := make([]domain.DirectPermission, 0, len(inputs))
	permissionIDs := make([]string, 0, len(inputs))
	seen := make(map[[2]string]struct{}, len(inputs))
	for i, input := range inputs {
		grant, err := s.buildGrant(input, now)
		if err != nil {
			return 0, fmt.Errorf("grant %d: %w", i, err)
		}
		pair := [2]string{grant.UserID, grant.PermissionID}
		if _, dup := seen[pair]; dup {
			continue
		}
		seen[pair] = struct{}{}
		grants = append(grants, grant)
		permissionIDs = append(permissionIDs, grant.PermissionID)
	}

	unique := compactStrings(permissionIDs, strings.TrimSpace)
	known, err := s.permissions.ListByIDs(ctx, unique)
	if err != nil {
		return 0, fmt.Errorf("list permissions by ids: %w", err)
	}
	if len(known) != len(unique) {
		return 0, fmt.Errorf("unknown permission in batch: %w", repository.ErrNotFound)
	}

	inserted, err := s.grants.CreateMany(ctx, grants, now)
	if err != nil {
		return 0, fmt.Errorf("create direct permissions: %w", err)
	}

	s.logger.Info("direct permissions granted in bulk",
		zap.Int("requested", len(grants)),
		zap.Int("inserted", inserted),
		zap.String("actor", ActorFromContext(ctx)),
	)

	return inserted, nil
}

// Update applies a partial grant update. UserID, PermissionID and GrantedBy are immutable.
func (s *DirectPermissionService) Update(ctx context.Context, input UpdateDirectPermissionInput) (*domain.DirectPermission, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, invalidArgument("grant id is required")
	}

	current, err := s.grants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get direct permission: %w", err)
	}

	if err := checkImmutable("user_id", input.UserID, current.UserID); err != nil {
		return nil, err
	}
	if err := checkImmutable("permission_id", input.PermissionID, current.PermissionID); err != nil {
		return nil, err
	}
	if err := checkImmutableOptional("granted_by", input.GrantedBy, current.GrantedBy); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	updated := *current

	switch {
	case input.Effect.IsClear():
		return nil, fmt.Errorf("%w: effect cannot be cleared", ErrInvalidEffect)
	case input.Effect.IsSet():
		effect, _ := input.Effect.Value()
		parsed, err := domain.ParseEffect(string(effect))
		if err != nil {
			return nil, err
		}
		updated.Effect = parsed
	}

	switch {
	case input.Conditions.IsClear():
		updated.Conditions = nil
	case input.Conditions.IsSet():
		conditions, _ := input.Conditions.Value()
		if err := conditions.Validate(); err != nil {
			return nil, invalidArgument("conditions: %v", err)
		}
		updated.Conditions = conditions.Clone()
	}

	if expiresAt, ok := input.ExpiresAt.Value(); ok && !expiresAt.After(now) {
		return nil, ErrExpiryInPast
	}
	updated.ExpiresAt = domain.ApplyOptional(input.ExpiresAt, current.ExpiresAt)
	updated.UpdatedAt = now

	if err := s.grants.Update(ctx, updated); err != nil {
		return nil, fmt.Errorf("update direct permission: %w", err)
	}

	if s.events != nil {
		event := domain.DirectPermissionUpdatedEvent{
			EventID:      uuid.NewString(),
			GrantID:      updated.ID,
			UserID:       updated.UserID,
			PermissionID: updated.PermissionID,
			Effect:       updated.Effect,
			Conditions:   updated.Conditions,
			ExpiresAt:    updated.ExpiresAt,
			UpdatedBy:    ActorFromContext(ctx),
			UpdatedAt:    now,
		}
		if err := s.events.PublishDirectPermissionUpdated(ctx, event); err != nil {
			s.logger.Warn("publish direct permission updated failed", zap.String("grant_id", updated.ID), zap.Error(err))
		}
	}

	return &updated, nil
}

// Revoke removes the user's grant for the permission. Revoking an absent grant is not an error.
func (s *DirectPermissionService) Revoke(ctx context.Context, userID, permissionID string) error {
	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return invalidArgument("user id and permission id are required")
	}

	removed, err := s.grants.Delete(ctx, userID, permissionID)
	if err != nil {
		return fmt.Errorf("delete direct permission: %w", err)
	}

	s.publishRevoked(ctx, domain.RevocationScopeSingle, userID, permissionID, removed)
	return nil
}

// RevokeAllFromUser removes every direct grant held by the user.
func (s *DirectPermissionService) RevokeAllFromUser(ctx context.Context, userID string) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, invalidArgument("user id is required")
	}

	removed, err := s.grants.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("delete direct permissions by user: %w", err)
	}

	s.publishRevoked(ctx, domain.RevocationScopeUser, userID, "", removed)
	return removed, nil
}

// RevokePermissionFromAllUsers removes every direct grant of the permission.
func (s *DirectPermissionService) RevokePermissionFromAllUsers(ctx context.Context, permissionID string) (int, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return 0, invalidArgument("permission id is required")
	}

	removed, err := s.grants.DeleteByPermission(ctx, permissionID)
	if err != nil {
		return 0, fmt.Errorf("delete direct permissions by permission: %w", err)
	}

	s.publishRevoked(ctx, domain.RevocationScopePermission, "", permissionID, removed)
	return removed, nil
}

// RevokeExpired deletes grants whose expiry has passed and returns how many were removed.
func (s *DirectPermissionService) RevokeExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	removed, err := s.grants.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired direct permissions: %w", err)
	}

	if removed > 0 && s.events != nil {
		event := domain.DirectPermissionsExpiredEvent{
			EventID: uuid.NewString(),
			Count:   removed,
			SweptAt: now,
		}
		if err := s.events.PublishDirectPermissionsExpired(ctx, event); err != nil {
			s.logger.Warn("publish direct permissions expired failed", zap.Int("count", removed), zap.Error(err))
		}
	}

	return removed, nil
}

// FindByID returns a grant by identifier, including expired grants not yet swept.
func (s *DirectPermissionService) FindByID(ctx context.Context, id string) (*domain.DirectPermission, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalidArgument("grant id is required")
	}

	grant, err := s.grants.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get direct permission: %w", err)
	}
	return grant, nil
}

// FindByUserAndPermission returns the grant for the pair, including expired grants not yet swept.
func (s *DirectPermissionService) FindByUserAndPermission(ctx context.Context, userID, permissionID string) (*domain.DirectPermission, error) {
	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return nil, invalidArgument("user id and permission id are required")
	}

	grant, err := s.grants.GetByUserAndPermission(ctx, userID, permissionID)
	if err != nil {
		return nil, fmt.Errorf("get direct permission by pair: %w", err)
	}
	return grant, nil
}

// ListByUserID returns the user's grants; expired grants only when requested.
func (s *DirectPermissionService) ListByUserID(ctx context.Context, userID string, opts ListDirectPermissionsOptions) ([]domain.DirectPermission, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidArgument("user id is required")
	}
	if opts.Effect != nil && !opts.Effect.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEffect, *opts.Effect)
	}

	grants, err := s.grants.ListByUser(ctx, userID, port.DirectPermissionListOptions{
		IncludeExpired: opts.IncludeExpired,
		Effect:         opts.Effect,
	}, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list direct permissions by user: %w", err)
	}
	return grants, nil
}

// ListActiveByUserID returns the user's non-expired grants.
func (s *DirectPermissionService) ListActiveByUserID(ctx context.Context, userID string) ([]domain.DirectPermission, error) {
	return s.ListByUserID(ctx, userID, ListDirectPermissionsOptions{})
}

// ListByPermissionID returns the non-expired grants of the permission.
func (s *DirectPermissionService) ListByPermissionID(ctx context.Context, permissionID string) ([]domain.DirectPermission, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return nil, invalidArgument("permission id is required")
	}

	grants, err := s.grants.ListByPermission(ctx, permissionID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list direct permissions by permission: %w", err)
	}
	return grants, nil
}

// ListUserPermissionsWithEffects returns the user's active grants joined with their permissions.
func (s *DirectPermissionService) ListUserPermissionsWithEffects(ctx context.Context, userID string) ([]domain.PermissionWithEffect, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidArgument("user id is required")
	}

	items, err := s.grants.ListWithEffectsByUser(ctx, userID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list permissions with effects: %w", err)
	}
	return items, nil
}

// Exists reports whether the user holds an active grant for the permission.
func (s *DirectPermissionService) Exists(ctx context.Context, userID, permissionID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	permissionID = strings.TrimSpace(permissionID)
	if userID == "" || permissionID == "" {
		return false, nil
	}

	exists, err := s.grants.Exists(ctx, userID, permissionID, s.now().UTC())
	if err != nil {
		return false, fmt.Errorf("check direct permission: %w", err)
	}
	return exists, nil
}

// CountByUserID counts the user's active grants.
func (s *DirectPermissionService) CountByUserID(ctx context.Context, userID string) (int, error) {
	total, err := s.grants.CountByUser(ctx, strings.TrimSpace(userID), s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("count direct permissions by user: %w", err)
	}
	return total, nil
}

// CountByPermissionID counts every stored grant of the permission.
func (s *DirectPermissionService) CountByPermissionID(ctx context.Context, permissionID string) (int, error) {
	total, err := s.grants.CountByPermission(ctx, strings.TrimSpace(permissionID))
	if err != nil {
		return 0, fmt.Errorf("count direct permissions by permission: %w", err)
	}
	return total, nil
}

// CountUsersWithPermission counts distinct users holding an active grant of the permission.
func (s *DirectPermissionService) CountUsersWithPermission(ctx context.Context, permissionID string) (int, error) {
	total, err := s.grants.CountUsersWithPermission(ctx, strings.TrimSpace(permissionID), s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("count users with permission: %w", err)
	}
	return total, nil
}

func (s *DirectPermissionService) buildGrant(input GrantInput, now time.Time) (domain.DirectPermission, error) {
	userID := strings.TrimSpace(input.UserID)
	permissionID := strings.TrimSpace(input.PermissionID)
	if userID == "" || permissionID == "" {
		return domain.DirectPermission{}, invalidArgument("user id and permission id are required")
	}

	effect := domain.EffectAllow
	if input.Effect != "" {
		parsed, err := domain.ParseEffect(string(input.Effect))
		if err != nil {
			return domain.DirectPermission{}, err
		}
		effect = parsed
	}

	if err := input.Conditions.Validate(); err != nil {
		return domain.DirectPermission{}, invalidArgument("conditions: %v", err)
	}

	var expiresAt *time.Time
	if input.ExpiresAt != nil {
		if !input.ExpiresAt.After(now) {
			return domain.DirectPermission{}, ErrExpiryInPast
		}
		value := input.ExpiresAt.UTC()
		expiresAt = &value
	}

	conditions := input.Conditions.Clone()
	if len(conditions) == 0 {
		conditions = nil
	}

	return domain.DirectPermission{
		ID:           uuid.NewString(),
		UserID:       userID,
		PermissionID: permissionID,
		Effect:       effect,
		Conditions:   conditions,
		ExpiresAt:    expiresAt,
		GrantedBy:    trimOptional(input.GrantedBy),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func (s *DirectPermissionService) publishRevoked(ctx context.Context, scope domain.RevocationScope, userID, permissionID string, count int) {
	if count == 0 || s.events == nil {
		return
	}

	event := domain.DirectPermissionRevokedEvent{
		EventID:      uuid.NewString(),
		Scope:        scope,
		UserID:       userID,
		PermissionID: permissionID,
		Count:        count,
		RevokedBy:    ActorFromContext(ctx),
		RevokedAt:    s.now().UTC(),
	}
	if err := s.events.PublishDirectPermissionRevoked(ctx, event); err != nil {
		s.logger.Warn("publish direct permission revoked failed",
			zap.String("scope", string(scope)),
			zap.Int("count", count),
			zap.Error(err),
		)
	}
}

func checkImmutableOptional(field string, patch domain.Patch[string], current *string) error {
	switch {
	case patch.IsClear():
		if current != nil {
			return immutableField(field)
		}
	case patch.IsSet():
		value, _ := patch.Value()
		if current == nil || *current != value {
			return immutableField(field)
		}
	}
	return nil
}
