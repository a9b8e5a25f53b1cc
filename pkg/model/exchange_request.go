package model

import "time"

type ExchangeStatus string

const (
	ExchangeOpen     ExchangeStatus = "OPEN"
	ExchangeAccepted ExchangeStatus = "ACCEPTED"
	ExchangeRejected ExchangeStatus = "REJECTED"
)

func (s ExchangeStatus) Valid() bool {
	switch s {
	case ExchangeOpen, ExchangeAccepted, ExchangeRejected:
		return true
	default:
		return false
	}
}

func (s ExchangeStatus) Terminal() bool {
	switch s {
	case ExchangeAccepted, ExchangeRejected:
		return true
	case ExchangeOpen:
		return false
	default:
		return false
	}
}

type ExchangeRequest struct {
	ID              string         `json:"id,omitempty" bson:"_id,omitempty"`
	InitiatorID     string         `json:"initiator_id" bson:"initiator_id"`
	CounterpartyID  string         `json:"counterparty_id" bson:"counterparty_id"`
	OfferedSlotID   string         `json:"offered_slot_id" bson:"offered_slot_id"`
	RequestedSlotID string         `json:"requested_slot_id" bson:"requested_slot_id"`
	Status          ExchangeStatus `json:"status" bson:"status"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at" bson:"updated_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty" bson:"resolved_at,omitempty"`
}

// Legs returns the two slot ids the request references.
func (r *ExchangeRequest) Legs() [2]string {
	return [2]string{r.OfferedSlotID, r.RequestedSlotID}
}

// ExchangeView is a request joined with the current records of both legs.
// A leg is nil when its slot no longer exists.
type ExchangeView struct {
	*ExchangeRequest
	OfferedSlot   *Slot `json:"offered_slot,omitempty"`
	RequestedSlot *Slot `json:"requested_slot,omitempty"`
}

type OpenExchangeInput struct {
	OfferedSlotID   string `json:"offered_slot_id" validate:"required,resource_id"`
	RequestedSlotID string `json:"requested_slot_id" validate:"required,resource_id"`
}

type ResolveExchangeInput struct {
	Accept *bool `json:"accept" validate:"required"`
}
