package port

import (
	"context"

	"github.com/arklim/bizhub-authz/internal/core/domain"
)

// EventPublisher publishes authorization domain events to the message bus.
type EventPublisher interface {
	PublishDirectPermissionGranted(ctx context.Context, event domain.DirectPermissionGrantedEvent) error
	PublishDirectPermissionUpdated(ctx context.Context, event domain.DirectPermissionUpdatedEvent) error
	PublishDirectPermissionRevoked(ctx context.Context, event domain.DirectPermissionRevokedEvent) error
	PublishDirectPermissionsExpired(ctx context.Context, event domain.DirectPermissionsExpiredEvent) error
	PublishPermissionDeleted(ctx context.Context, event domain.PermissionDeletedEvent) error
}
