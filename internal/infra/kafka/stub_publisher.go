package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("stub event published", append([]zap.Field{
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}, fields...)...)
}

func (p *StubPublisher) PublishDirectPermissionGranted(_ context.Context, event domain.DirectPermissionGrantedEvent) error {
	p.logEvent(EventDirectPermissionGranted, event.UserID, event.GrantedAt,
		zap.String("grant_id", event.GrantID),
		zap.String("permission_code", event.PermissionCode),
		zap.String("effect", string(event.Effect)),
	)
	return nil
}

func (p *StubPublisher) PublishDirectPermissionUpdated(_ context.Context, event domain.DirectPermissionUpdatedEvent) error {
	p.logEvent(EventDirectPermissionUpdated, event.UserID, event.UpdatedAt,
		zap.String("grant_id", event.GrantID),
		zap.String("effect", string(event.Effect)),
	)
	return nil
}

func (p *StubPublisher) PublishDirectPermissionRevoked(_ context.Context, event domain.DirectPermissionRevokedEvent) error {
	p.logEvent(EventDirectPermissionRevoked, event.UserID, event.RevokedAt,
		zap.String("scope", string(event.Scope)),
		zap.String("permission_id", event.PermissionID),
		zap.Int("count", event.Count),
	)
	return nil
}

func (p *StubPublisher) PublishDirectPermissionsExpired(_ context.Context, event domain.DirectPermissionsExpiredEvent) error {
	p.logEvent(EventDirectPermissionsExpired, "", event.SweptAt, zap.Int("count", event.Count))
	return nil
}

func (p *StubPublisher) PublishPermissionDeleted(_ context.Context, event domain.PermissionDeletedEvent) error {
	p.logEvent(EventPermissionDeleted, "", event.DeletedAt,
		zap.String("permission_id", event.PermissionID),
		zap.String("code", event.Code),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
