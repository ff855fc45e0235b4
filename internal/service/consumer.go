package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/bill-reconciler/internal/models"
	"github.com/akylbek/payment-system/bill-reconciler/internal/telemetry"
)

const (
	GatewayNotificationsTopic = "gateway.notifications"
	consumerGroupID           = "bill-reconciler"
)

var (
	redeliveryBackoff    = time.Second
	maxRedeliveryBackoff = 30 * time.Second
)

// NotificationParser turns a raw gateway notification into a payment event.
type NotificationParser interface {
	Parse(raw []byte) (models.PaymentEvent, error)
}

// NewGatewayNotificationReader builds the Kafka reader for relayed webhooks.
func NewGatewayNotificationReader(brokers []string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    GatewayNotificationsTopic,
		GroupID:  consumerGroupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// ConsumeGatewayNotifications reconciles webhook payloads relayed through Kafka
// until ctx is cancelled. Retryable failures are retried in place and never
// committed; the offset moves only once the message has a final outcome.
func (o *Orchestrator) ConsumeGatewayNotifications(ctx context.Context, reader *kafka.Reader, parser NotificationParser) {
	defer reader.Close()

	telemetry.Logger.Info("Started consuming gateway notifications", zap.String("topic", GatewayNotificationsTopic))

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				telemetry.Logger.Info("Stopped consuming gateway notifications")
				return
			}
			telemetry.Logger.Error("Error reading message from Kafka", zap.Error(err))
			continue
		}

		if err := o.handleNotificationMessage(ctx, msg.Value, parser); err != nil {
			telemetry.Logger.Info("Stopped consuming gateway notifications before commit",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			telemetry.Logger.Error("Error committing Kafka offset", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handleNotificationMessage returns nil once the message may be committed. It
// only returns an error when ctx ends while a retryable failure persists.
func (o *Orchestrator) handleNotificationMessage(ctx context.Context, raw []byte, parser NotificationParser) error {
	event, err := parser.Parse(raw)
	if err != nil {
		telemetry.Logger.Error("Rejected malformed gateway notification",
			zap.ByteString("payload", raw),
			zap.Error(err),
		)
		return nil
	}

	backoff := redeliveryBackoff
	for attempt := 1; ; attempt++ {
		outcome, err := o.Reconcile(ctx, event)
		if err == nil {
			telemetry.Logger.Info("Gateway notification processed",
				zap.String("order_id", event.ExternalOrderID),
				zap.String("outcome", string(outcome.Kind)),
			)
			return nil
		}
		if !errors.Is(err, models.ErrRetryable) {
			telemetry.Logger.Error("Rejected gateway notification",
				zap.String("order_id", event.ExternalOrderID),
				zap.String("outcome", models.Tag(outcome, err)),
				zap.Error(err),
			)
			return nil
		}

		telemetry.Logger.Warn("Gateway notification failed, retrying",
			zap.String("order_id", event.ExternalOrderID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if sleepErr := sleepContext(ctx, backoff); sleepErr != nil {
			return fmt.Errorf("order %s left uncommitted: %w", event.ExternalOrderID, err)
		}
		backoff = min(backoff*2, maxRedeliveryBackoff)
	}
}
