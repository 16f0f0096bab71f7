package notify

import (
	"context"
	"time"

	"escrow-settlement-go/internal/models"

	"go.uber.org/zap"
)

// Sink delivers an outbox event to one downstream system. Delivery is at
// least once, so sinks must tolerate seeing the same event id again.
type Sink interface {
	Name() string
	Notify(ctx context.Context, event models.OutboxEvent) error
}

// Envelope is the wire form of an event.
type Envelope struct {
	Id          string            `json:"id"`
	Type        string            `json:"type"`
	EntityId    string            `json:"entity_id"`
	RecipientId string            `json:"recipient_id"`
	Payload     map[string]string `json:"payload"`
	CreatedAt   time.Time         `json:"created_at"`
}

func NewEnvelope(event models.OutboxEvent) Envelope {
	return Envelope{
		Id:          event.Id,
		Type:        event.EventType,
		EntityId:    event.EntityId,
		RecipientId: event.RecipientId,
		Payload:     event.Payload,
		CreatedAt:   event.CreatedAt,
	}
}

// LogSink writes every event to the structured log.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Notify(_ context.Context, event models.OutboxEvent) error {
	zap.L().Info("Notification",
		zap.String("event_id", event.Id),
		zap.String("event_type", event.EventType),
		zap.String("entity_id", event.EntityId),
		zap.String("recipient_id", event.RecipientId),
		zap.Any("payload", event.Payload))
	return nil
}
