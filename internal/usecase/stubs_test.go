package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/repository"
	"github.com/arklim/bizhub-authz/internal/repository/memory"
)

type recordingPublisher struct {
	mu       sync.Mutex
	granted  []domain.DirectPermissionGrantedEvent
	updated  []domain.DirectPermissionUpdatedEvent
	revoked  []domain.DirectPermissionRevokedEvent
	expired  []domain.DirectPermissionsExpiredEvent
	deleted  []domain.PermissionDeletedEvent
	failWith error
}

func (p *recordingPublisher) PublishDirectPermissionGranted(_ context.Context, event domain.DirectPermissionGrantedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = append(p.granted, event)
	return p.failWith
}

func (p *recordingPublisher) PublishDirectPermissionUpdated(_ context.Context, event domain.DirectPermissionUpdatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updated = append(p.updated, event)
	return p.failWith
}

func (p *recordingPublisher) PublishDirectPermissionRevoked(_ context.Context, event domain.DirectPermissionRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, event)
	return p.failWith
}

func (p *recordingPublisher) PublishDirectPermissionsExpired(_ context.Context, event domain.DirectPermissionsExpiredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expired = append(p.expired, event)
	return p.failWith
}

func (p *recordingPublisher) PublishPermissionDeleted(_ context.Context, event domain.PermissionDeletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, event)
	return p.failWith
}

type stubRoleSource struct {
	mu    sync.Mutex
	codes map[string][]string
	err   error
	calls int
	delay time.Duration
}

func (s *stubRoleSource) RolePermissions(ctx context.Context, userID string) (domain.PermissionSet, error) {
	s.mu.Lock()
	s.calls++
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return domain.NewPermissionSet(s.codes[userID]...), nil
}

func (s *stubRoleSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubRoleCache struct {
	mu      sync.Mutex
	entries map[string]domain.PermissionSet
	getErr  error
	setErr  error
	sets    int
}

func (c *stubRoleCache) GetRolePermissions(_ context.Context, userID string) (domain.PermissionSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	set, ok := c.entries[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return set, nil
}

func (c *stubRoleCache) SetRolePermissions(_ context.Context, userID string, permissions domain.PermissionSet, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	if c.entries == nil {
		c.entries = make(map[string]domain.PermissionSet)
	}
	c.entries[userID] = permissions
	return nil
}

func (c *stubRoleCache) DeleteRolePermissions(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
	return nil
}

type stubDecisionMetrics struct {
	mu      sync.Mutex
	reasons []domain.DecisionReason
	errors  int
}

func (m *stubDecisionMetrics) ObserveDecision(reason domain.DecisionReason, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasons = append(m.reasons, reason)
}

func (m *stubDecisionMetrics) IncDecisionError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors++
}

type failingGrantLookup struct {
	err error
}

func (f failingGrantLookup) ListUserPermissionsWithEffects(context.Context, string) ([]domain.PermissionWithEffect, error) {
	return nil, f.err
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock(now time.Time) *fixedClock {
	return &fixedClock{now: now}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testEnv wires catalog, grant store and resolver over the in-memory store.
type testEnv struct {
	store     *memory.Store
	clock     *fixedClock
	events    *recordingPublisher
	catalog   *CatalogService
	grants    *DirectPermissionService
	roles     *stubRoleSource
	resolver  *Resolver
	decisions *stubDecisionMetrics
}

func newTestEnv() *testEnv {
	store := memory.NewStore()
	clock := newFixedClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	events := &recordingPublisher{}
	roles := &stubRoleSource{codes: map[string][]string{}}
	decisions := &stubDecisionMetrics{}

	catalog := NewCatalogService(store.Permissions(), store.DirectPermissions(), events, CatalogOptions{}, nil).WithNow(clock.Now)
	grants := NewDirectPermissionService(store.DirectPermissions(), store.Permissions(), events, nil).WithNow(clock.Now)
	resolver, err := NewResolver(catalog, grants, roles, ResolverOptions{Metrics: decisions})
	if err != nil {
		panic(err)
	}

	return &testEnv{
		store:     store,
		clock:     clock,
		events:    events,
		catalog:   catalog,
		grants:    grants,
		roles:     roles,
		resolver:  resolver,
		decisions: decisions,
	}
}

func (e *testEnv) mustCreatePermission(code string) *domain.Permission {
	module, resource, action, err := domain.ParsePermissionCode(code)
	if err != nil {
		panic(err)
	}
	permission, err := e.catalog.Create(context.Background(), CreatePermissionInput{
		Name:     code,
		Module:   module,
		Resource: resource,
		Action:   action,
	})
	if err != nil {
		panic(err)
	}
	return permission
}
