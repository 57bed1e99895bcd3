package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEvent(t *testing.T) {
	validator, err := NewEventValidator()
	require.NoError(t, err)

	tests := []struct {
		name    string
		payload string
		valid   bool
		field   string
	}{
		{
			name:    "valid view event",
			payload: `{"user_id": "u1", "item_id": "I1", "event_type": "view"}`,
			valid:   true,
		},
		{
			name: "valid rate event with full envelope",
			payload: `{"user_id": "u1", "item_id": "I1", "event_type": "rate", "value": 4.5,
				"session_id": "s1", "timestamp": "2025-06-01T12:00:00Z", "metadata": {"surface": "pdp"}}`,
			valid: true,
		},
		{
			name:    "rate event without value",
			payload: `{"user_id": "u1", "item_id": "I1", "event_type": "rate"}`,
			valid:   false,
			field:   "(root)",
		},
		{
			name:    "rate value out of range",
			payload: `{"user_id": "u1", "item_id": "I1", "event_type": "rate", "value": 9}`,
			valid:   false,
			field:   "value",
		},
		{
			name:    "missing user id",
			payload: `{"item_id": "I1", "event_type": "click"}`,
			valid:   false,
			field:   "(root)",
		},
		{
			name:    "empty item id",
			payload: `{"user_id": "u1", "item_id": "", "event_type": "purchase"}`,
			valid:   false,
			field:   "item_id",
		},
		{
			name:    "unknown event type",
			payload: `{"user_id": "u1", "item_id": "I1", "event_type": "wishlist"}`,
			valid:   false,
			field:   "event_type",
		},
		{
			name:    "missing event type",
			payload: `{"user_id": "u1", "item_id": "I1"}`,
			valid:   false,
			field:   "event_type",
		},
		{
			name:    "unexpected field",
			payload: `{"user_id": "u1", "item_id": "I1", "event_type": "view", "rating": 5}`,
			valid:   false,
		},
		{
			name:    "malformed JSON",
			payload: `{"user_id": "u1",`,
			valid:   false,
			field:   "(root)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validator.ValidateEvent([]byte(tt.payload))

			assert.Equal(t, tt.valid, result.Valid)
			if tt.valid {
				assert.Empty(t, result.Errors)
				assert.Nil(t, result.ToAPIError())
				return
			}

			require.NotEmpty(t, result.Errors)
			if tt.field != "" {
				fields := make([]string, 0, len(result.Errors))
				for _, e := range result.Errors {
					fields = append(fields, e.Field)
				}
				assert.Contains(t, fields, tt.field)
			}

			apiError := result.ToAPIError()
			require.NotNil(t, apiError)
			errorBody, ok := apiError["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "VALIDATION_ERROR", errorBody["code"])
		})
	}
}

func TestValidateEventValueOptionalForNonRateKinds(t *testing.T) {
	validator, err := NewEventValidator()
	require.NoError(t, err)

	for _, kind := range []string{"view", "click", "add_to_cart", "purchase"} {
		t.Run(kind, func(t *testing.T) {
			payload := `{"user_id": "u1", "item_id": "I1", "event_type": "` + kind + `"}`
			result := validator.ValidateEvent([]byte(payload))
			assert.True(t, result.Valid, "errors: %v", result.Errors)
		})
	}
}
