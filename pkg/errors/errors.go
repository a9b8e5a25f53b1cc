package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound     = "NOT_FOUND"
	CodeValidation   = "VALIDATION_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeConflict     = "CONFLICT"
	CodeInternal     = "INTERNAL_ERROR"
	CodeBadRequest   = "BAD_REQUEST"
	CodeTimeout      = "TIMEOUT"
	CodeUnavailable  = "SERVICE_UNAVAILABLE"
	CodeInvalidInput = "INVALID_INPUT"
	CodeRateLimited  = "RATE_LIMITED"
)

var codeStatus = map[string]int{
	CodeNotFound:     http.StatusNotFound,
	CodeValidation:   http.StatusUnprocessableEntity,
	CodeUnauthorized: http.StatusUnauthorized,
	CodeForbidden:    http.StatusForbidden,
	CodeConflict:     http.StatusConflict,
	CodeInternal:     http.StatusInternalServerError,
	CodeBadRequest:   http.StatusBadRequest,
	CodeTimeout:      http.StatusGatewayTimeout,
	CodeUnavailable:  http.StatusServiceUnavailable,
	CodeInvalidInput: http.StatusBadRequest,
	CodeRateLimited:  http.StatusTooManyRequests,
}

// StatusForCode maps a generic code to its HTTP status. Domain codes such
// as SLOT_BUSY carry their own status and are not listed.
func StatusForCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
	// Retryable marks infrastructure failures a caller may retry as-is.
	Retryable bool `json:"-"`
}

type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) StatusCode() int { return e.HTTPStatus }

func (e *AppError) ToJSON() []byte {
	data, _ := json.Marshal(ErrorResponse{Code: e.Code, Message: e.Message, Details: e.Details})
	return data
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// MarkRetryable flags an error whose operation applied nothing, so the
// caller may repeat it as-is.
func (e *AppError) MarkRetryable() *AppError {
	e.Retryable = true
	return e
}

func New(code, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code, message string, httpStatus int) *AppError {
	return New(code, message, httpStatus).WithCause(err)
}

func generic(code, message string) *AppError {
	return New(code, message, StatusForCode(code))
}

func NotFound(resource string) *AppError {
	return generic(CodeNotFound, resource+" not found")
}

func NotFoundWithID(resource, id string) *AppError {
	return NotFound(resource).WithDetails(map[string]any{"resource": resource, "id": id})
}

func Validation(message string, details map[string]any) *AppError {
	return generic(CodeValidation, message).WithDetails(details)
}

func InvalidInput(message string) *AppError { return generic(CodeInvalidInput, message) }

func Unauthorized(message string) *AppError { return generic(CodeUnauthorized, message) }

func Forbidden(message string) *AppError { return generic(CodeForbidden, message) }

func Conflict(message string) *AppError { return generic(CodeConflict, message) }

func Timeout(message string) *AppError { return generic(CodeTimeout, message) }

func Internal(message string, err error) *AppError {
	return generic(CodeInternal, message).WithCause(err)
}

func Unavailable(service string) *AppError {
	e := generic(CodeUnavailable, service+" is temporarily unavailable")
	e.Retryable = true
	return e
}

func RateLimited(message string) *AppError {
	e := generic(CodeRateLimited, message)
	e.Retryable = true
	return e
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// IsRetryable reports whether err belongs to the transient class.
func IsRetryable(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Retryable
}
