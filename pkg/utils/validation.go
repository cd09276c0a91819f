package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "policyhub-backend/pkg/errors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// IANA zone names such as Europe/London
	_ = v.RegisterValidation("timezone", func(fl validator.FieldLevel) bool {
		name := fl.Field().String()
		if name == "" {
			return true
		}
		_, err := time.LoadLocation(name)
		return err == nil
	})
	// identifiers end up inside store keys
	_ = v.RegisterValidation("keysafe", func(fl validator.FieldLevel) bool {
		return !strings.ContainsAny(fl.Field().String(), "#/:")
	})
	return v
}

// ValidateStruct validates a struct based on its validation tags
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError formats validation errors into an AppError
func formatValidationError(err error) error {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return apperrors.NewValidationError(err.Error())
	}

	collected := apperrors.NewValidationErrors()
	for _, e := range validationErrors {
		collected.Add(strings.ToLower(e.Field()), formatFieldError(e))
	}
	return collected.AsError()
}

// formatFieldError formats a single field validation error
func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Field())

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "timezone":
		return fmt.Sprintf("%s must be an IANA time zone", field)
	case "keysafe":
		return fmt.Sprintf("%s must not contain '#', '/' or ':'", field)
	case "dive":
		return fmt.Sprintf("%s contains invalid values", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
