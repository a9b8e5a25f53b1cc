package model

import "time"

// SlotClaim records that a slot is a leg of an OPEN exchange request.
// At most one claim exists per slot.
type SlotClaim struct {
	SlotID    string    `json:"slot_id" bson:"_id"`
	RequestID string    `json:"request_id" bson:"request_id"`
	ClaimedAt time.Time `json:"claimed_at" bson:"claimed_at"`
}

// Page bounds a list query. A zero Limit means no bound.
type Page struct {
	Limit  int
	Offset int64
}

func (p Page) Bounded() bool {
	return p.Limit > 0
}
