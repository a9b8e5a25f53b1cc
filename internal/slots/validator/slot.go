package validator

import (
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"slotswapper/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type SlotValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewSlotValidator(log *logger.Logger) *SlotValidator {
	v := validation.New(log)
	log.Info("Slot validator initialized successfully")
	return &SlotValidator{
		validate: v,
		logger:   log,
	}
}

// Validate checks a complete slot record, as created or after an update is
// merged into it.
func (v *SlotValidator) Validate(slot *model.Slot) error {
	if err := validation.Struct(v.validate, slot); err != nil {
		return err
	}
	if !slot.EndTime.After(slot.StartTime) {
		return validation.ValidationErrors{
			validation.ValidationError{
				Field:   "EndTime",
				Message: "end_time must be after start_time",
			},
		}
	}
	return nil
}

func (v *SlotValidator) ValidateUpdate(update *model.SlotUpdate) error {
	if err := validation.Struct(v.validate, update); err != nil {
		return err
	}
	if update.Title == "" && update.StartTime == nil && update.EndTime == nil {
		return validation.ValidationErrors{
			validation.ValidationError{
				Field:   "SlotUpdate",
				Message: "at least one of title, start_time, end_time is required",
			},
		}
	}
	if update.StartTime != nil && update.EndTime != nil && !update.EndTime.After(*update.StartTime) {
		return validation.ValidationErrors{
			validation.ValidationError{
				Field:   "EndTime",
				Message: "end_time must be after start_time",
			},
		}
	}
	return nil
}

// ValidateState accepts only the states an owner may set directly.
func (v *SlotValidator) ValidateState(input *model.SlotStateUpdate) error {
	return validation.Struct(v.validate, input)
}

func (v *SlotValidator) ValidateID(id string) error {
	if !validation.IsResourceID(id) {
		return validation.ValidationErrors{{Field: "id", Message: "id must be 1-64 letters, digits, '-' or '_'"}}
	}
	return nil
}
