package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/recast/internal/validation"
	"github.com/veltrix/recast/pkg/models"
)

// MockEventService is a mock implementation of the event fast-path.
type MockEventService struct {
	mock.Mock
}

func (m *MockEventService) Record(ctx context.Context, event *models.Event) (*models.EnrichedEvent, error) {
	args := m.Called(ctx, event)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EnrichedEvent), args.Error(1)
}

func (m *MockEventService) RecordBatch(ctx context.Context, events []models.Event) []models.EnrichedEvent {
	args := m.Called(ctx, events)
	return args.Get(0).([]models.EnrichedEvent)
}

func (m *MockEventService) Stop() {
	m.Called()
}

func newEventHandlerTest(t *testing.T) (*MockEventService, *EventHandler) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	schemas, err := validation.NewEventValidator()
	require.NoError(t, err)

	mockService := new(MockEventService)
	handler := NewEventHandler(mockService, schemas, 2*time.Second, logger)
	return mockService, handler
}

func performPost(handler gin.HandlerFunc, path string, body []byte) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)

	req, _ := http.NewRequest("POST", path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req

	handler(c)
	return w
}

func TestEventHandler_Record(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		mockSetup      func(*MockEventService)
		expectedStatus int
		expectedError  string
	}{
		{
			name: "valid view event",
			body: `{"user_id": "u-1", "item_id": "I1", "event_type": "view"}`,
			mockSetup: func(m *MockEventService) {
				m.On("Record", mock.Anything, &models.Event{
					UserID: "u-1",
					ItemID: "I1",
					Type:   models.EventView,
				}).Return(&models.EnrichedEvent{
					ID:    "evt-1",
					Event: models.Event{UserID: "u-1", ItemID: "I1", Type: models.EventView},
				}, nil)
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "rate event without value",
			body:           `{"user_id": "u-1", "item_id": "I1", "event_type": "rate"}`,
			mockSetup:      func(m *MockEventService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "rate event with out-of-range value",
			body:           `{"user_id": "u-1", "item_id": "I1", "event_type": "rate", "value": 9}`,
			mockSetup:      func(m *MockEventService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "unknown event type",
			body:           `{"user_id": "u-1", "item_id": "I1", "event_type": "wishlist"}`,
			mockSetup:      func(m *MockEventService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name:           "malformed JSON",
			body:           `{"user_id": "u-1"`,
			mockSetup:      func(m *MockEventService) {},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "VALIDATION_ERROR",
		},
		{
			name: "fast-path rejection",
			body: `{"user_id": "u-1", "item_id": "I1", "event_type": "view"}`,
			mockSetup: func(m *MockEventService) {
				m.On("Record", mock.Anything, mock.AnythingOfType("*models.Event")).
					Return(nil, assert.AnError)
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "INVALID_EVENT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService, handler := newEventHandlerTest(t)
			tt.mockSetup(mockService)

			w := performPost(handler.Record, "/api/v1/events", []byte(tt.body))

			assert.Equal(t, tt.expectedStatus, w.Code)

			var response map[string]interface{}
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			if tt.expectedError != "" {
				errorObj := response["error"].(map[string]interface{})
				assert.Equal(t, tt.expectedError, errorObj["code"])
			} else {
				data := response["data"].(map[string]interface{})
				assert.Equal(t, "evt-1", data["event_id"])
			}

			mockService.AssertExpectations(t)
		})
	}
}

func TestEventHandler_RecordBatch(t *testing.T) {
	mockService, handler := newEventHandlerTest(t)

	expected := []models.Event{
		{UserID: "u-1", ItemID: "I1", Type: models.EventView},
		{UserID: "u-1", ItemID: "I2", Type: models.EventClick},
	}
	mockService.On("RecordBatch", mock.Anything, expected).Return([]models.EnrichedEvent{
		{ID: "evt-1", Event: expected[0]},
		{ID: "evt-2", Event: expected[1]},
	})

	body := `{"events": [
		{"user_id": "u-1", "item_id": "I1", "event_type": "view"},
		{"user_id": "u-1", "item_id": "I2", "event_type": "click"}
	]}`

	w := performPost(handler.RecordBatch, "/api/v1/events/batch", []byte(body))

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	data := response["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["total_accepted"])
	assert.Len(t, data["event_ids"], 2)

	mockService.AssertExpectations(t)
}

func TestEventHandler_RecordBatchRejectsBadEvent(t *testing.T) {
	mockService, handler := newEventHandlerTest(t)

	// One bad event poisons the whole batch.
	body := `{"events": [
		{"user_id": "u-1", "item_id": "I1", "event_type": "view"},
		{"user_id": "u-1", "item_id": "I2", "event_type": "rate"}
	]}`

	w := performPost(handler.RecordBatch, "/api/v1/events/batch", []byte(body))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	errorObj := response["error"].(map[string]interface{})
	assert.Equal(t, "VALIDATION_FAILED", errorObj["code"])
	assert.Contains(t, errorObj["message"], "index 1")

	mockService.AssertNotCalled(t, "RecordBatch")
}

func TestEventHandler_RecordBatchEmpty(t *testing.T) {
	mockService, handler := newEventHandlerTest(t)

	w := performPost(handler.RecordBatch, "/api/v1/events/batch", []byte(`{"events": []}`))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	errorObj := response["error"].(map[string]interface{})
	assert.Equal(t, "EMPTY_BATCH", errorObj["code"])

	mockService.AssertNotCalled(t, "RecordBatch")
}

func TestEventHandler_RecordBatchTooLarge(t *testing.T) {
	mockService, handler := newEventHandlerTest(t)

	events := make([]string, maxBatchEvents+1)
	for i := range events {
		events[i] = fmt.Sprintf(`{"user_id": "u-1", "item_id": "I%d", "event_type": "view"}`, i)
	}
	body := fmt.Sprintf(`{"events": [%s]}`, strings.Join(events, ","))

	w := performPost(handler.RecordBatch, "/api/v1/events/batch", []byte(body))

	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	errorObj := response["error"].(map[string]interface{})
	assert.Equal(t, "BATCH_SIZE_EXCEEDED", errorObj["code"])

	mockService.AssertNotCalled(t, "RecordBatch")
}
