package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/veltrix/recast/pkg/models"
)

// eventSchemaTemplate is the wire contract every event kind shares.
// The verbs receive the kind-specific required fields and the kind
// itself; rate events additionally require a value in [1, 5].
const eventSchemaTemplate = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["user_id", "item_id", "event_type"%s],
	"properties": {
		"user_id": {"type": "string", "minLength": 1},
		"item_id": {"type": "string", "minLength": 1},
		"event_type": {"type": "string", "enum": ["%s"]},
		"value": {"type": "number", "minimum": 1, "maximum": 5},
		"session_id": {"type": "string"},
		"timestamp": {"type": "string", "format": "date-time"},
		"metadata": {"type": "object"}
	},
	"additionalProperties": false
}`

// EventValidator checks raw event payloads against the wire contract
// before they are bound into models, one compiled schema per event
// kind. The kind is peeked from the payload to pick the schema.
type EventValidator struct {
	schemas map[string]*gojsonschema.Schema
}

func NewEventValidator() (*EventValidator, error) {
	kinds := map[string]string{
		models.EventView:      "",
		models.EventClick:     "",
		models.EventAddToCart: "",
		models.EventPurchase:  "",
		models.EventRate:      `, "value"`,
	}

	schemas := make(map[string]*gojsonschema.Schema, len(kinds))
	for kind, extraRequired := range kinds {
		raw := fmt.Sprintf(eventSchemaTemplate, extraRequired, kind)
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s event schema: %w", kind, err)
		}
		schemas[kind] = schema
	}

	return &EventValidator{schemas: schemas}, nil
}

// ValidateEvent validates one raw event payload. The payload must be a
// JSON object carrying a known event_type; everything else about it is
// judged by that kind's schema.
func (v *EventValidator) ValidateEvent(payload []byte) *ValidationResult {
	var peek struct {
		Type string `json:"event_type"`
	}
	if err := json.Unmarshal(payload, &peek); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: fmt.Sprintf("invalid JSON: %v", err),
				Code:    "MALFORMED_JSON",
			}},
		}
	}

	schema, ok := v.schemas[peek.Type]
	if !ok {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "event_type",
				Message: fmt.Sprintf("unknown event type %q", peek.Type),
				Code:    "UNKNOWN_EVENT_TYPE",
				Value:   peek.Type,
			}},
		}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "(root)",
				Message: fmt.Sprintf("validation error: %v", err),
				Code:    "VALIDATION_ERROR",
			}},
		}
	}

	validationResult := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, schemaErr := range result.Errors() {
		validationResult.Errors = append(validationResult.Errors, ValidationError{
			Field:   schemaErr.Field(),
			Message: schemaErr.Description(),
			Code:    "VALIDATION_ERROR",
			Value:   schemaErr.Value(),
			Context: schemaErr.Context().String(),
		})
	}

	return validationResult
}

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
	Context string      `json:"context,omitempty"`
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ToAPIError converts validation errors to API error format
func (vr *ValidationResult) ToAPIError() map[string]interface{} {
	if vr.Valid {
		return nil
	}

	errorDetails := make(map[string]interface{})
	errorDetails["validationErrors"] = vr.Errors

	// Extract field-specific errors for easier client handling
	fieldErrors := make(map[string][]string)
	for _, err := range vr.Errors {
		if err.Field != "" {
			fieldErrors[err.Field] = append(fieldErrors[err.Field], err.Message)
		}
	}

	if len(fieldErrors) > 0 {
		errorDetails["fieldErrors"] = fieldErrors
	}

	return map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "VALIDATION_ERROR",
			"message": "Request validation failed",
			"details": errorDetails,
		},
	}
}
