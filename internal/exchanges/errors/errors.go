package errors

import (
	"errors"
	"net/http"
	apperrors "slotswapper/pkg/errors"
)

const (
	CodeNotOwner          = "NOT_OWNER"
	CodeSlotNotFound      = "SLOT_NOT_FOUND"
	CodeSelfTrade         = "SELF_TRADE"
	CodeNotListed         = "NOT_LISTED"
	CodeSlotBusy          = "SLOT_BUSY"
	CodeRequestNotFound   = "REQUEST_NOT_FOUND"
	CodeNotAuthorized     = "NOT_AUTHORIZED"
	CodeRequestNotPending = "REQUEST_NOT_PENDING"
)

var (
	ErrNotOwner = errors.New("offered slot is not owned by caller")

	ErrSlotNotFound = errors.New("requested slot not found")

	ErrSelfTrade = errors.New("cannot exchange with yourself")

	ErrNotListed = errors.New("slot is not listed for exchange")

	ErrSlotBusy = errors.New("slot is part of a pending exchange")

	ErrRequestNotFound = errors.New("exchange request not found")

	ErrNotAuthorized = errors.New("caller is not the counterparty")

	ErrRequestNotPending = errors.New("exchange request is no longer pending")
)

var kinds = map[error]struct {
	code   string
	status int
}{
	ErrNotOwner:          {CodeNotOwner, http.StatusForbidden},
	ErrSlotNotFound:      {CodeSlotNotFound, http.StatusNotFound},
	ErrSelfTrade:         {CodeSelfTrade, http.StatusUnprocessableEntity},
	ErrNotListed:         {CodeNotListed, http.StatusConflict},
	ErrSlotBusy:          {CodeSlotBusy, http.StatusConflict},
	ErrRequestNotFound:   {CodeRequestNotFound, http.StatusNotFound},
	ErrNotAuthorized:     {CodeNotAuthorized, http.StatusForbidden},
	ErrRequestNotPending: {CodeRequestNotPending, http.StatusConflict},
}

// Reject turns a precondition sentinel into the AppError callers see.
// errors.Is(result, sentinel) holds.
func Reject(sentinel error, details map[string]any) *apperrors.AppError {
	kind, ok := kinds[sentinel]
	if !ok {
		return apperrors.Internal("Unknown exchange failure", sentinel)
	}
	appErr := apperrors.Wrap(sentinel, kind.code, sentinel.Error(), kind.status)
	if len(details) > 0 {
		appErr.WithDetails(details)
	}
	return appErr
}

// IsPrecondition reports whether err is one of the exchange precondition kinds.
func IsPrecondition(err error) bool {
	for sentinel := range kinds {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// Kind returns the code of the precondition err carries, or "" if none.
func Kind(err error) string {
	for sentinel, kind := range kinds {
		if errors.Is(err, sentinel) {
			return kind.code
		}
	}
	return ""
}
