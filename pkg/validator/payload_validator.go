package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/formkeep/internal/domain"
)

// ErrInvalidPayload is wrapped by every error produced from a failed validation.
var ErrInvalidPayload = errors.New("invalid form payload")

// PayloadValidator checks the structural shape of form payloads before they are persisted.
type PayloadValidator struct{}

// NewPayloadValidator creates a new payload validator
func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{}
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// Err converts an invalid result into an error wrapping ErrInvalidPayload.
func (r ValidationResult) Err() error {
	if r.IsValid {
		return nil
	}
	messages := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		messages = append(messages, e.Message)
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(messages, "; "))
}

func (r *ValidationResult) fail(field, message string, value any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Value: value})
}

func (r *ValidationResult) warn(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// ValidatePayload validates the envelope fields and the formData shape of a payload.
func (pv *PayloadValidator) ValidatePayload(payload domain.FormPayload) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	if strings.TrimSpace(payload.FormType) == "" {
		result.fail("formType", "field 'formType' is required", nil)
	}
	if !payload.Status.Valid() {
		result.fail("status", fmt.Sprintf("field 'status' must be %q or %q", domain.FormStatusDraft, domain.FormStatusSubmitted), payload.Status)
	}
	if strings.TrimSpace(payload.Title) == "" {
		result.warn("title", "field 'title' is empty; listings will show a blank title")
	}
	if payload.SavedAt <= 0 {
		result.warn("savedAt", "field 'savedAt' was not set by the caller")
	}

	if err := pv.validateFormData(payload.FormData); err != nil {
		result.fail("formData", err.Error(), nil)
	}

	for _, section := range []struct {
		name   string
		values map[string]any
	}{
		{name: "metadata", values: payload.Metadata},
		{name: "assets", values: payload.Assets},
	} {
		for key, value := range section.values {
			if _, err := json.Marshal(value); err != nil {
				result.fail(section.name+"."+key, fmt.Sprintf("field '%s.%s' is not serializable: %v", section.name, key, err), nil)
			}
		}
	}

	return result
}

// validateFormData accepts a single record or a sequence of records
func (pv *PayloadValidator) validateFormData(value any) error {
	switch v := value.(type) {
	case nil:
		return errors.New("field 'formData' is required")
	case map[string]any:
		return pv.validateRecord("formData", v)
	case []map[string]any:
		for i, row := range v {
			if err := pv.validateRecord(fmt.Sprintf("formData[%d]", i), row); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("field 'formData[%d]' must be a record, got %T", i, item)
			}
			if err := pv.validateRecord(fmt.Sprintf("formData[%d]", i), row); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("field 'formData' must be a record or a sequence of records, got %T", value)
	}
	return nil
}

func (pv *PayloadValidator) validateRecord(field string, record map[string]any) error {
	if _, err := json.Marshal(record); err != nil {
		return fmt.Errorf("field '%s' is not serializable: %v", field, err)
	}
	return nil
}
