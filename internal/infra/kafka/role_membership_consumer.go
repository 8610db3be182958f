package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/arklim/bizhub-authz/internal/core/domain"
	"github.com/arklim/bizhub-authz/internal/infra/config"
)

const consumerRetryBackoff = 2 * time.Second

// RoleCacheInvalidator drops cached role-derived permissions for a user.
type RoleCacheInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

// RoleMembershipConsumer invalidates cached role permissions when a user's
// role membership changes upstream.
type RoleMembershipConsumer struct {
	invalidator RoleCacheInvalidator
	logger      *zap.Logger
}

// NewRoleMembershipConsumer constructs the consumer.
func NewRoleMembershipConsumer(invalidator RoleCacheInvalidator, logger *zap.Logger) *RoleMembershipConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoleMembershipConsumer{invalidator: invalidator, logger: logger}
}

// NewConsumerGroup joins the configured consumer group.
func NewConsumerGroup(cfg config.KafkaSettings) (sarama.ConsumerGroup, error) {
	saramaCfg := newSaramaConfig()
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return group, nil
}

// Run consumes topic until ctx is cancelled. Rebalances re-enter Consume.
func (c *RoleMembershipConsumer) Run(ctx context.Context, group sarama.ConsumerGroup, topic string) error {
	go func() {
		for err := range group.Errors() {
			c.logger.Warn("role membership consumer error", zap.Error(err))
		}
	}()

	for {
		if err := group.Consume(ctx, []string{topic}, c); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.Error("role membership consume failed", zap.String("topic", topic), zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(consumerRetryBackoff):
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Setup implements sarama.ConsumerGroupHandler.
func (c *RoleMembershipConsumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup implements sarama.ConsumerGroupHandler.
func (c *RoleMembershipConsumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim handles messages for one partition. Undecodable messages are
// logged and committed so they cannot block the partition.
func (c *RoleMembershipConsumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := c.HandleMessage(session.Context(), msg); err != nil {
				c.logger.Warn("role membership event skipped",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// HandleMessage decodes either an enveloped or a bare role membership event.
func (c *RoleMembershipConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}

	var envelope struct {
		EventID string          `json:"event_id"`
		UserID  string          `json:"user_id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(msg.Value, &envelope); err != nil {
		return fmt.Errorf("decode role membership event: %w", err)
	}

	var event domain.RoleMembershipChangedEvent
	body := msg.Value
	if len(envelope.Payload) > 0 {
		body = envelope.Payload
	}
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode role membership payload: %w", err)
	}
	if event.UserID == "" {
		event.UserID = envelope.UserID
	}
	if event.EventID == "" {
		event.EventID = envelope.EventID
	}

	return c.HandleEvent(ctx, event)
}

// HandleEvent invalidates the user's cached role permissions.
func (c *RoleMembershipConsumer) HandleEvent(ctx context.Context, event domain.RoleMembershipChangedEvent) error {
	userID := strings.TrimSpace(event.UserID)
	if userID == "" {
		return fmt.Errorf("role membership event %s has no user id", event.EventID)
	}

	if err := c.invalidator.Invalidate(ctx, userID); err != nil {
		return fmt.Errorf("invalidate role permissions: %w", err)
	}

	c.logger.Debug("role permissions invalidated", zap.String("event_id", event.EventID))
	return nil
}

var _ sarama.ConsumerGroupHandler = (*RoleMembershipConsumer)(nil)
