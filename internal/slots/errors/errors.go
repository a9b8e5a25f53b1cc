package errors

import "errors"

const CodeSlotReserved = "SLOT_RESERVED"

var (
	ErrNotFound = errors.New("slot not found")

	ErrReserved = errors.New("slot is reserved by a pending exchange")

	ErrInvalidTimeRange = errors.New("end time must be after start time")
)
