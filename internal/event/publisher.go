package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher announces claim lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, evt ClaimEvent) error
}

// NoopPublisher drops events. Used when RabbitMQ is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, ClaimEvent) error { return nil }

// amqpChannel is the part of *amqp.Channel the publisher needs.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// NotificationPublisher writes each ClaimEvent to the claim events queue and
// a matching push notification for the holder. The queues are declared by
// ConnectRabbitMQ.
type NotificationPublisher struct {
	channel amqpChannel

	messagesPublished atomic.Int64
	messagesFailed    atomic.Int64
}

func NewNotificationPublisher(conn *RabbitMQConnection) *NotificationPublisher {
	return &NotificationPublisher{channel: conn.Channel}
}

func (p *NotificationPublisher) Publish(ctx context.Context, evt ClaimEvent) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now()
	}

	if err := p.publishJSON(ctx, ClaimEventsQueue, evt); err != nil {
		return err
	}

	if noti, ok := notificationFor(evt); ok {
		if err := p.publishJSON(ctx, PushNotiQueue, noti); err != nil {
			// The domain event is already out; a missed push is not fatal.
			slog.Warn("failed to publish push notification", "type", evt.Type, "claim_id", evt.ClaimID, "error", err)
		}
	}

	slog.Info("Claim event published", "type", evt.Type, "claim_id", evt.ClaimID, "policy_id", evt.PolicyID)
	return nil
}

func (p *NotificationPublisher) publishJSON(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to marshal event for %s: %w", queue, err)
	}

	err = p.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Body:         body,
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.messagesFailed.Add(1)
		return fmt.Errorf("failed to publish event to %s: %w", queue, err)
	}

	p.messagesPublished.Add(1)
	return nil
}

func (p *NotificationPublisher) Stats() (published, failed int64) {
	return p.messagesPublished.Load(), p.messagesFailed.Load()
}

// notificationFor builds the holder-facing push message. Reconciliation is
// internal and has none.
func notificationFor(evt ClaimEvent) (NotificationEventPushModel, bool) {
	var title, body string
	switch evt.Type {
	case EventClaimDecided:
		title = "Claim update"
		body = fmt.Sprintf("Your claim is now %s.", evt.Status)
	case EventPayoutCompleted:
		title = "Payout sent"
		body = fmt.Sprintf("%s %s has been sent to your payout address.", evt.Amount.StringFixed(2), evt.Currency)
	case EventPolicyExpired:
		title = "Policy expired"
		body = "Your policy coverage period has ended."
	default:
		return NotificationEventPushModel{}, false
	}

	if evt.HolderID == "" {
		return NotificationEventPushModel{}, false
	}

	return NotificationEventPushModel{
		LstUserIds: []string{evt.HolderID},
		Title:      title,
		Body:       body,
		Data: map[string]any{
			"type":      string(evt.Type),
			"claim_id":  evt.ClaimID.String(),
			"policy_id": evt.PolicyID.String(),
		},
	}, true
}
