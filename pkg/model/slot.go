package model

import (
	"fmt"
	"time"
)

type SlotState string

const (
	SlotUnlisted SlotState = "UNLISTED"
	SlotListed   SlotState = "LISTED"
	SlotReserved SlotState = "RESERVED"
)

func (s SlotState) Valid() bool {
	switch s {
	case SlotUnlisted, SlotListed, SlotReserved:
		return true
	default:
		return false
	}
}

// OwnerSettable reports whether an owner may put a slot into this state
// directly. RESERVED is reachable only through an exchange.
func (s SlotState) OwnerSettable() bool {
	switch s {
	case SlotUnlisted, SlotListed:
		return true
	case SlotReserved:
		return false
	default:
		return false
	}
}

// CheckTransition validates a state change. Reservations may only start from
// LISTED, and a reserved slot leaves RESERVED only through resolution.
func CheckTransition(from, to SlotState) error {
	if !from.Valid() {
		return fmt.Errorf("unknown slot state %q", from)
	}
	if !to.Valid() {
		return fmt.Errorf("unknown slot state %q", to)
	}

	switch from {
	case SlotUnlisted:
		if to == SlotReserved {
			return fmt.Errorf("slot must be %s before it can be %s", SlotListed, SlotReserved)
		}
		return nil
	case SlotListed:
		return nil
	case SlotReserved:
		if to == SlotReserved {
			return fmt.Errorf("slot is already %s", SlotReserved)
		}
		return nil
	default:
		return fmt.Errorf("unknown slot state %q", from)
	}
}

type Slot struct {
	ID        string    `json:"id,omitempty" bson:"_id,omitempty"`
	OwnerID   string    `json:"owner_id" bson:"owner_id"`
	Title     string    `json:"title" bson:"title" validate:"required,min=1,max=100"`
	StartTime time.Time `json:"start_time" bson:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" bson:"end_time" validate:"required,gtfield=StartTime"`
	State     SlotState `json:"state" bson:"state" validate:"required,oneof=UNLISTED LISTED RESERVED"`
	Version   int64     `json:"version" bson:"version"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

type SlotUpdate struct {
	Title     string     `json:"title,omitempty" validate:"omitempty,min=1,max=100"`
	StartTime *time.Time `json:"start_time,omitempty" validate:"omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty" validate:"omitempty"`
}

type SlotStateUpdate struct {
	State SlotState `json:"state" validate:"required,oneof=UNLISTED LISTED"`
}
