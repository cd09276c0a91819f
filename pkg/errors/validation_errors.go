package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// FieldError is a single failed input rule
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors aggregates field level validation failures
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

// NewValidationErrors creates a new validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{Errors: make([]FieldError, 0)}
}

// Add adds a validation error
func (v *ValidationErrors) Add(field, message string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Message: message})
}

// HasErrors returns true if there are validation errors
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// ToMap groups messages by field for JSON output
func (v *ValidationErrors) ToMap() map[string][]string {
	result := make(map[string][]string)
	for _, e := range v.Errors {
		result[e.Field] = append(result[e.Field], e.Message)
	}
	return result
}

// AsError returns nil when there is nothing to report, otherwise a
// VALIDATION AppError carrying the per-field messages.
func (v *ValidationErrors) AsError() error {
	if !v.HasErrors() {
		return nil
	}

	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = e.Message
	}

	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       "INVALID_INPUT",
		Message:    fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")),
		Details:    map[string]interface{}{"fields": v.ToMap()},
		HTTPStatus: http.StatusBadRequest,
	}
}
