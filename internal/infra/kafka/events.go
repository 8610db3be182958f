package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/core/port"
	"github.com/arklim/bizhub-authz/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	EventDirectPermissionGranted  = "authz.direct_permission.granted"
	EventDirectPermissionUpdated  = "authz.direct_permission.updated"
	EventDirectPermissionRevoked  = "authz.direct_permission.revoked"
	EventDirectPermissionsExpired = "authz.direct_permission.expired"
	EventPermissionDeleted        = "authz.permission.deleted"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		metadata["trace_id"] = sc.TraceID().String()
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if userID != "" {
		message.Key = sarama.StringEncoder(userID)
	}

	select {
	case p.producer.Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishDirectPermissionGranted publishes authz.direct_permission.granted events.
func (p *EventPublisher) PublishDirectPermissionGranted(ctx context.Context, event domain.DirectPermissionGrantedEvent) error {
	payload := struct {
		GrantID        string           `json:"grant_id"`
		UserID         string           `json:"user_id"`
		PermissionID   string           `json:"permission_id"`
		PermissionCode string           `json:"permission_code"`
		Effect         domain.Effect    `json:"effect"`
		Conditions     domain.ScalarMap `json:"conditions,omitempty"`
		ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
		GrantedBy      *string          `json:"granted_by,omitempty"`
		GrantedAt      time.Time        `json:"granted_at"`
	}{
		GrantID:        event.GrantID,
		UserID:         event.UserID,
		PermissionID:   event.PermissionID,
		PermissionCode: event.PermissionCode,
		Effect:         event.Effect,
		Conditions:     event.Conditions,
		ExpiresAt:      event.ExpiresAt,
		GrantedBy:      event.GrantedBy,
		GrantedAt:      event.GrantedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventDirectPermissionGranted, event.UserID, event.GrantedAt, payload)
}

// PublishDirectPermissionUpdated publishes authz.direct_permission.updated events.
func (p *EventPublisher) PublishDirectPermissionUpdated(ctx context.Context, event domain.DirectPermissionUpdatedEvent) error {
	payload := struct {
		GrantID      string           `json:"grant_id"`
		UserID       string           `json:"user_id"`
		PermissionID string           `json:"permission_id"`
		Effect       domain.Effect    `json:"effect"`
		Conditions   domain.ScalarMap `json:"conditions,omitempty"`
		ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
		UpdatedBy    string           `json:"updated_by"`
		UpdatedAt    time.Time        `json:"updated_at"`
	}{
		GrantID:      event.GrantID,
		UserID:       event.UserID,
		PermissionID: event.PermissionID,
		Effect:       event.Effect,
		Conditions:   event.Conditions,
		ExpiresAt:    event.ExpiresAt,
		UpdatedBy:    event.UpdatedBy,
		UpdatedAt:    event.UpdatedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventDirectPermissionUpdated, event.UserID, event.UpdatedAt, payload)
}

// PublishDirectPermissionRevoked publishes authz.direct_permission.revoked events.
func (p *EventPublisher) PublishDirectPermissionRevoked(ctx context.Context, event domain.DirectPermissionRevokedEvent) error {
	payload := struct {
		Scope        domain.RevocationScope `json:"scope"`
		UserID       string                 `json:"user_id,omitempty"`
		PermissionID string                 `json:"permission_id,omitempty"`
		Count        int                    `json:"count"`
		RevokedBy    string                 `json:"revoked_by"`
		RevokedAt    time.Time              `json:"revoked_at"`
	}{
		Scope:        event.Scope,
		UserID:       event.UserID,
		PermissionID: event.PermissionID,
		Count:        event.Count,
		RevokedBy:    event.RevokedBy,
		RevokedAt:    event.RevokedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventDirectPermissionRevoked, event.UserID, event.RevokedAt, payload)
}

// PublishDirectPermissionsExpired publishes authz.direct_permission.expired events.
func (p *EventPublisher) PublishDirectPermissionsExpired(ctx context.Context, event domain.DirectPermissionsExpiredEvent) error {
	payload := struct {
		Count   int       `json:"count"`
		SweptAt time.Time `json:"swept_at"`
	}{
		Count:   event.Count,
		SweptAt: event.SweptAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventDirectPermissionsExpired, "", event.SweptAt, payload)
}

// PublishPermissionDeleted publishes authz.permission.deleted events.
func (p *EventPublisher) PublishPermissionDeleted(ctx context.Context, event domain.PermissionDeletedEvent) error {
	payload := struct {
		PermissionID string    `json:"permission_id"`
		Code         string    `json:"code"`
		DeletedBy    string    `json:"deleted_by"`
		DeletedAt    time.Time `json:"deleted_at"`
	}{
		PermissionID: event.PermissionID,
		Code:         event.Code,
		DeletedBy:    event.DeletedBy,
		DeletedAt:    event.DeletedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, EventPermissionDeleted, "", event.DeletedAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
