package notifier

import (
	"context"
	"fmt"
	"slotswapper/internal/exchanges/events"
	"slotswapper/pkg/kafka"
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
)

// Notification is what a party sees about an exchange.
type Notification struct {
	Recipient string                  `json:"recipient"`
	EventType model.ExchangeEventType `json:"event_type"`
	RequestID string                  `json:"request_id"`
	Text      string                  `json:"text"`
}

type Sink interface {
	Deliver(ctx context.Context, n Notification) error
}

// LogSink writes one structured log line per notification.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, n Notification) error {
	s.log.Info("Notification",
		"recipient", n.Recipient,
		"event_type", n.EventType,
		"request_id", n.RequestID,
		"text", n.Text,
	)
	return nil
}

type Notifier struct {
	sink Sink
	log  *logger.Logger
}

func NewNotifier(sink Sink, log *logger.Logger) *Notifier {
	return &Notifier{sink: sink, log: log}
}

// Handle is a kafka.MessageHandler for the exchange events topic. Messages
// that can never be delivered are permanent errors so the consumer parks
// them on the DLQ; sink failures are transient.
func (n *Notifier) Handle(ctx context.Context, msg kafka.Message) error {
	if v, ok := msg.GetHeader(kafka.HeaderSchemaVersion); ok && v != events.SchemaVersion {
		return kafka.NewPermanentError(fmt.Sprintf("unsupported schema version %q", v), nil)
	}

	var event model.ExchangeEvent
	if err := msg.DecodeValue(&event); err != nil {
		return kafka.NewPermanentError("malformed exchange event", err)
	}
	if event.RequestID == "" {
		return kafka.NewPermanentError("exchange event without request id", nil)
	}

	notification, err := Render(event)
	if err != nil {
		return kafka.NewPermanentError("undeliverable exchange event", err)
	}

	if err := n.sink.Deliver(ctx, notification); err != nil {
		return kafka.NewTransientError("failed to deliver notification", err)
	}
	return nil
}

// Render turns an event into the notification for its recipient.
func Render(event model.ExchangeEvent) (Notification, error) {
	recipient := event.Recipient()
	if recipient == "" {
		return Notification{}, fmt.Errorf("unknown event type %q", event.Type)
	}

	var text string
	switch event.Type {
	case model.EventExchangeOpened:
		text = fmt.Sprintf("%s offers slot %s for your slot %s", event.InitiatorID, event.OfferedSlotID, event.RequestedSlotID)
	case model.EventExchangeAccepted:
		text = fmt.Sprintf("%s accepted your exchange; slot %s is now yours", event.CounterpartyID, event.RequestedSlotID)
	case model.EventExchangeRejected:
		text = fmt.Sprintf("%s rejected your exchange; slot %s is listed again", event.CounterpartyID, event.OfferedSlotID)
	default:
		return Notification{}, fmt.Errorf("unknown event type %q", event.Type)
	}

	return Notification{
		Recipient: recipient,
		EventType: event.Type,
		RequestID: event.RequestID,
		Text:      text,
	}, nil
}
