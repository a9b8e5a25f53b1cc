package validator

import (
	"slotswapper/pkg/logger"
	"slotswapper/pkg/model"
	"slotswapper/pkg/validation"

	"github.com/go-playground/validator/v10"
)

type ExchangeValidator struct {
	validate *validator.Validate
	logger   *logger.Logger
}

func NewExchangeValidator(log *logger.Logger) *ExchangeValidator {
	v := validation.New(log)
	log.Info("Exchange validator initialized successfully")
	return &ExchangeValidator{
		validate: v,
		logger:   log,
	}
}

func (v *ExchangeValidator) ValidateOpen(input *model.OpenExchangeInput) error {
	return validation.Struct(v.validate, input)
}

func (v *ExchangeValidator) ValidateResolve(input *model.ResolveExchangeInput) error {
	return validation.Struct(v.validate, input)
}

func (v *ExchangeValidator) ValidateID(id string) error {
	if !validation.IsResourceID(id) {
		return validation.ValidationErrors{{Field: "id", Message: "id must be 1-64 letters, digits, '-' or '_'"}}
	}
	return nil
}
