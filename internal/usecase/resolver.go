package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const resolverTracerName = "github.com/arklim/bizhub-authz/internal/usecase"

// PermissionLookup resolves catalog entries by code.
type PermissionLookup interface {
	FindByCode(ctx context.Context, code string) (*domain.Permission, error)
}

// GrantLookup lists a user's active direct grants joined with their permissions.
type GrantLookup interface {
	ListUserPermissionsWithEffects(ctx context.Context, userID string) ([]domain.PermissionWithEffect, error)
}

// DecisionMetrics captures telemetry hooks for authorization decisions.
type DecisionMetrics interface {
	ObserveDecision(reason domain.DecisionReason, duration time.Duration)
	IncDecisionError()
}

// ResolverOptions configures optional resolver behaviour.
type ResolverOptions struct {
	FailurePolicy domain.FailurePolicy
	Timeout       time.Duration
	Metrics       DecisionMetrics
	Tracer        trace.Tracer
	Logger        *zap.Logger
}

// Resolver computes allow/deny decisions from role grants and direct overrides.
// DENY always overrides ALLOW regardless of source or recency.
type Resolver struct {
	catalog PermissionLookup
	grants  GrantLookup
	roles   port.RoleGrantSource
	policy  domain.FailurePolicy
	timeout time.Duration
	metrics DecisionMetrics
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

// NewResolver constructs a Resolver. All collaborators are required.
func NewResolver(catalog PermissionLookup, grants GrantLookup, roles port.RoleGrantSource, opts ResolverOptions) (*Resolver, error) {
	if catalog == nil {
		return nil, errors.New("resolver requires a permission catalog")
	}
	if grants == nil {
		return nil, errors.New("resolver requires a direct grant store")
	}
	if roles == nil {
		return nil, errors.New("resolver requires a role grant source")
	}

	r := &Resolver{
		catalog: catalog,
		grants:  grants,
		roles:   roles,
		policy:  opts.FailurePolicy,
		timeout: opts.Timeout,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
		logger:  opts.Logger,
		now:     time.Now,
	}
	if r.tracer == nil {
		r.tracer = otel.Tracer(resolverTracerName)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r, nil
}

// Decide answers whether the user may exercise the permission in the given request context.
// Infrastructure failures are wrapped with ErrInfrastructure and either returned or, under a
// fail-closed policy, turned into a NO_GRANT decision.
func (r *Resolver) Decide(ctx context.Context, userID, permissionCode string, reqCtx domain.ScalarMap) (domain.Decision, error) {
	userID = strings.TrimSpace(userID)
	code := domain.NormalizeCodeSegment(permissionCode)
	if userID == "" || code == "" {
		return domain.NoGrant(), nil
	}

	start := r.now()
	ctx, span := r.tracer.Start(ctx, "authz.Decide", trace.WithAttributes(
		attribute.String("authz.permission_code", code),
	))
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	decision, err := r.decide(ctx, userID, code, reqCtx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInfrastructure, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision failed")
		if r.metrics != nil {
			r.metrics.IncDecisionError()
		}

		if !r.policy.FailsClosed() {
			return domain.Decision{}, err
		}

		r.logger.Warn("authorization decision failed closed",
			zap.String("permission_code", code),
			zap.Error(err),
		)
		decision = domain.NoGrant()
	}

	span.SetAttributes(
		attribute.String("authz.reason", string(decision.Reason)),
		attribute.Bool("authz.allowed", decision.Allowed),
	)
	if r.metrics != nil {
		r.metrics.ObserveDecision(decision.Reason, r.now().Sub(start))
	}

	return decision, nil
}

func (r *Resolver) decide(ctx context.Context, userID, code string, reqCtx domain.ScalarMap) (domain.Decision, error) {
	if err := ctx.Err(); err != nil {
		return domain.Decision{}, err
	}

	permission, err := r.catalog.FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.NoGrant(), nil
		}
		return domain.Decision{}, fmt.Errorf("lookup permission: %w", err)
	}

	items, err := r.grants.ListUserPermissionsWithEffects(ctx, userID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("list direct grants: %w", err)
	}

	var allow *domain.PermissionWithEffect
	for i := range items {
		item := &items[i]
		if item.Permission.Code != permission.Code {
			continue
		}
		if !domain.MatchConditions(item.Conditions, reqCtx) {
			continue
		}
		if item.Effect == domain.EffectDeny {
			return domain.Decision{
				Allowed:      false,
				Reason:       domain.DecisionReasonDirectDeny,
				MatchedGrant: matchedGrant(userID, item),
			}, nil
		}
		if item.Effect == domain.EffectAllow && allow == nil {
			allow = item
		}
	}

	if allow != nil {
		return domain.Decision{
			Allowed:      true,
			Reason:       domain.DecisionReasonDirectAllow,
			MatchedGrant: matchedGrant(userID, allow),
		}, nil
	}

	rolePermissions, err := r.roles.RolePermissions(ctx, userID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("role permissions: %w", err)
	}
	if rolePermissions.Has(permission.Code) {
		return domain.Decision{Allowed: true, Reason: domain.DecisionReasonRoleAllow}, nil
	}

	return domain.NoGrant(), nil
}

// EffectivePermissions returns the sorted codes the user holds without any request context:
// role codes plus unconditional direct ALLOWs, minus unconditional direct DENYs.
// Conditional grants are left out because they cannot be evaluated here.
func (r *Resolver) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []string{}, nil
	}

	ctx, span := r.tracer.Start(ctx, "authz.EffectivePermissions")
	defer span.End()

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		rolePermissions domain.PermissionSet
		items           []domain.PermissionWithEffect
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		set, err := r.roles.RolePermissions(gctx, userID)
		if err != nil {
			return fmt.Errorf("role permissions: %w", err)
		}
		rolePermissions = set
		return nil
	})
	g.Go(func() error {
		list, err := r.grants.ListUserPermissionsWithEffects(gctx, userID)
		if err != nil {
			return fmt.Errorf("list direct grants: %w", err)
		}
		items = list
		return nil
	})
	if err := g.Wait(); err != nil {
		err = fmt.Errorf("%w: %w", ErrInfrastructure, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "effective permissions failed")
		return nil, err
	}

	effective := domain.NewPermissionSet(rolePermissions.Codes()...)
	denied := make(map[string]struct{})
	for _, item := range items {
		if len(item.Conditions) > 0 {
			continue
		}
		switch item.Effect {
		case domain.EffectAllow:
			effective[item.Permission.Code] = struct{}{}
		case domain.EffectDeny:
			denied[item.Permission.Code] = struct{}{}
		}
	}
	for code := range denied {
		delete(effective, code)
	}

	return effective.Codes(), nil
}

func matchedGrant(userID string, item *domain.PermissionWithEffect) *domain.DirectPermission {
	var expiresAt *time.Time
	if item.ExpiresAt != nil {
		value := *item.ExpiresAt
		expiresAt = &value
	}
	return &domain.DirectPermission{
		ID:           item.GrantID,
		UserID:       userID,
		PermissionID: item.Permission.ID,
		Effect:       item.Effect,
		Conditions:   item.Conditions.Clone(),
		ExpiresAt:    expiresAt,
	}
}
