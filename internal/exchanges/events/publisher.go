package events

import (
	"context"
	"fmt"
	"slotswapper/pkg/kafka"
	"slotswapper/pkg/middleware"
	"slotswapper/pkg/model"
)

const SchemaVersion = "1"

// Publisher delivers exchange events after the change is committed.
type Publisher interface {
	Publish(ctx context.Context, event model.ExchangeEvent) error
	Close() error
}

// NopPublisher drops every event. Used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.ExchangeEvent) error { return nil }

func (NopPublisher) Close() error { return nil }

// KafkaPublisher writes events keyed by request id, so every event of one
// exchange lands on the same partition in order.
type KafkaPublisher struct {
	producer *kafka.Producer
	source   string
}

func NewKafkaPublisher(producer *kafka.Producer, source string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, source: source}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event model.ExchangeEvent) error {
	msg, err := kafka.NewMessage().
		WithKey(event.RequestID).
		WithValue(event).
		WithEventType(string(event.Type)).
		WithSchemaVersion(SchemaVersion).
		WithSource(p.source).
		WithCorrelationID(middleware.RequestIDFromContext(ctx)).
		WithTimestamp(event.OccurredAt).
		Build()
	if err != nil {
		return fmt.Errorf("failed to build %s message: %w", event.Type, err)
	}
	return p.producer.Publish(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
