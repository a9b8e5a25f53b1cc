// Package validation wraps go-playground/validator with the tags and error
// shape shared by every service.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	apperrors "slotswapper/pkg/errors"
	"slotswapper/pkg/logger"
	"strings"

	"github.com/go-playground/validator/v10"
)

var resourceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var messages []string
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %d error(s): [%s]", len(v), strings.Join(messages, "; "))
}

// Details renders the errors for an API error body.
func (v ValidationErrors) Details() map[string]any {
	fields := make(map[string]any, len(v))
	for _, err := range v {
		fields[err.Field] = err.Message
	}
	return map[string]any{"fields": fields}
}

// New returns a validator with the resource_id tag registered.
func New(log *logger.Logger) *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("resource_id", validateResourceID); err != nil {
		log.Fatal("Failed to register 'resource_id' validator",
			"error", err,
		)
	}
	return v
}

func validateResourceID(fl validator.FieldLevel) bool {
	return resourceIDRegex.MatchString(fl.Field().String())
}

// IsResourceID reports whether id has the shape of a slot or request id.
func IsResourceID(id string) bool {
	return resourceIDRegex.MatchString(id)
}

// Struct validates s and translates failures into ValidationErrors.
func Struct(v *validator.Validate, s any) error {
	if err := v.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return Translate(validationErrs)
		}
		return err
	}
	return nil
}

func Translate(errs validator.ValidationErrors) ValidationErrors {
	var validationErrors ValidationErrors

	for _, err := range errs {
		message := err.Error()

		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", err.Field())
		case "min":
			message = fmt.Sprintf("%s must be at least %s", err.Field(), err.Param())
		case "max":
			message = fmt.Sprintf("%s must be at most %s", err.Field(), err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of: %s", err.Field(), err.Param())
		case "gtfield":
			message = fmt.Sprintf("%s must be after %s", err.Field(), err.Param())
		case "resource_id":
			message = fmt.Sprintf("%s must be 1-64 letters, digits, '-' or '_'", err.Field())
		}

		validationErrors = append(validationErrors, ValidationError{
			Field:   err.Field(),
			Message: message,
		})
	}

	return validationErrors
}

// ToAppError renders a validation failure as a 422 AppError carrying the
// per-field messages. Other errors become INVALID_INPUT.
func ToAppError(err error, message string) error {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Validation(message, verrs.Details())
	}
	return apperrors.InvalidInput(err.Error())
}
