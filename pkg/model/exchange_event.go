package model

import "time"

type ExchangeEventType string

const (
	EventExchangeOpened   ExchangeEventType = "exchange.opened"
	EventExchangeAccepted ExchangeEventType = "exchange.accepted"
	EventExchangeRejected ExchangeEventType = "exchange.rejected"
)

// ExchangeEvent is published after an exchange operation commits.
type ExchangeEvent struct {
	Type            ExchangeEventType `json:"type"`
	RequestID       string            `json:"request_id"`
	InitiatorID     string            `json:"initiator_id"`
	CounterpartyID  string            `json:"counterparty_id"`
	OfferedSlotID   string            `json:"offered_slot_id"`
	RequestedSlotID string            `json:"requested_slot_id"`
	Status          ExchangeStatus    `json:"status"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

func NewExchangeEvent(t ExchangeEventType, req *ExchangeRequest) ExchangeEvent {
	return ExchangeEvent{
		Type:            t,
		RequestID:       req.ID,
		InitiatorID:     req.InitiatorID,
		CounterpartyID:  req.CounterpartyID,
		OfferedSlotID:   req.OfferedSlotID,
		RequestedSlotID: req.RequestedSlotID,
		Status:          req.Status,
		OccurredAt:      req.UpdatedAt,
	}
}

// Recipient is the party who should hear about the event.
func (e ExchangeEvent) Recipient() string {
	switch e.Type {
	case EventExchangeOpened:
		return e.CounterpartyID
	case EventExchangeAccepted, EventExchangeRejected:
		return e.InitiatorID
	default:
		return ""
	}
}
