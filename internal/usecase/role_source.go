package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/repository"
)

const (
	defaultRoleCacheTTL    = 5 * time.Minute
	defaultRoleLoadTimeout = 5 * time.Second
)

// roleLoad tracks a source lookup in flight for one user.
type roleLoad struct {
	stale bool
}

// CachedRoleGrantSource fronts a RoleGrantSource with a shared cache.
// Concurrent misses for the same user collapse into a single source lookup.
// A lookup that overlaps an Invalidate never writes its result to the cache.
type CachedRoleGrantSource struct {
	source      port.RoleGrantSource
	cache       port.RolePermissionCache
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
	logger      *zap.Logger

	mu    sync.Mutex
	loads map[string]*roleLoad
}

// NewCachedRoleGrantSource constructs the caching decorator.
func NewCachedRoleGrantSource(source port.RoleGrantSource, cache port.RolePermissionCache, ttl time.Duration, logger *zap.Logger) *CachedRoleGrantSource {
	if ttl <= 0 {
		ttl = defaultRoleCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRoleGrantSource{
		source:      source,
		cache:       cache,
		ttl:         ttl,
		loadTimeout: defaultRoleLoadTimeout,
		logger:      logger,
		loads:       make(map[string]*roleLoad),
	}
}

// WithLoadTimeout bounds shared source lookups, which do not inherit any caller's cancellation.
func (s *CachedRoleGrantSource) WithLoadTimeout(timeout time.Duration) *CachedRoleGrantSource {
	if timeout > 0 {
		s.loadTimeout = timeout
	}
	return s
}

// RolePermissions returns cached role codes, loading them from the source on a miss.
// Cache failures are logged and fall through to the source.
func (s *CachedRoleGrantSource) RolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.NewPermissionSet(), nil
	}

	cached, err := s.cache.GetRolePermissions(ctx, userID)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("role permission cache read failed", zap.Error(err))
	}

	ch := s.group.DoChan(userID, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()
		return s.load(loadCtx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load role permissions: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("load role permissions: %w", res.Err)
		}
		shared := res.Val.(domain.PermissionSet)
		return domain.NewPermissionSet(shared.Codes()...), nil
	}
}

func (s *CachedRoleGrantSource) load(ctx context.Context, userID string) (domain.PermissionSet, error) {
	inflight := &roleLoad{}
	s.mu.Lock()
	s.loads[userID] = inflight
	s.mu.Unlock()

	loaded, err := s.source.RolePermissions(ctx, userID)
	if err != nil {
		s.finishLoad(userID, inflight)
		return nil, err
	}

	if !s.isStale(inflight) {
		if err := s.cache.SetRolePermissions(ctx, userID, loaded, s.ttl); err != nil {
			s.logger.Warn("role permission cache write failed", zap.Error(err))
		}
	}

	// An Invalidate that landed during the write may have deleted before it.
	if s.finishLoad(userID, inflight) {
		if err := s.cache.DeleteRolePermissions(ctx, userID); err != nil {
			s.logger.Warn("role permission cache delete failed", zap.Error(err))
		}
	}
	return loaded, nil
}

func (s *CachedRoleGrantSource) isStale(inflight *roleLoad) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return inflight.stale
}

// finishLoad unregisters the lookup and reports whether it was invalidated.
func (s *CachedRoleGrantSource) finishLoad(userID string, inflight *roleLoad) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loads[userID] == inflight {
		delete(s.loads, userID)
	}
	return inflight.stale
}

// Invalidate drops the user's cached role codes and discards any lookup in flight.
func (s *CachedRoleGrantSource) Invalidate(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}

	s.mu.Lock()
	if inflight, ok := s.loads[userID]; ok {
		inflight.stale = true
	}
	s.mu.Unlock()
	s.group.Forget(userID)

	if err := s.cache.DeleteRolePermissions(ctx, userID); err != nil {
		return fmt.Errorf("invalidate role permissions: %w", err)
	}
	return nil
}

var _ port.RoleGrantSource = (*CachedRoleGrantSource)(nil)
