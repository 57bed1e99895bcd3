package messaging

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

func testEnrichedEvent() *models.EnrichedEvent {
	value := 4.5
	return &models.EnrichedEvent{
		ID: "evt-123",
		Event: models.Event{
			UserID:    "u-42",
			ItemID:    "I9",
			Type:      models.EventRate,
			Value:     &value,
			SessionID: "s-1",
			Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		Category: "Electronics",
		Brand:    "Acme",
	}
}

func TestBuildMessageKeyAndHeaders(t *testing.T) {
	event := testEnrichedEvent()

	message, err := buildMessage(event)
	require.NoError(t, err)

	// Keyed by user so one user's events land on one partition.
	assert.Equal(t, "u-42", string(message.Key))

	headers := make(map[string]string, len(message.Headers))
	for _, h := range message.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, "evt-123", headers["event_id"])
	assert.Equal(t, "rate", headers["event_type"])

	parsed, err := time.Parse(time.RFC3339, headers["timestamp"])
	require.NoError(t, err)
	assert.True(t, parsed.Equal(event.Timestamp))
}

func TestBuildMessagePayloadRoundTrip(t *testing.T) {
	event := testEnrichedEvent()

	message, err := buildMessage(event)
	require.NoError(t, err)
	assert.NotEmpty(t, message.Value)

	var decoded models.EnrichedEvent
	require.NoError(t, json.Unmarshal(message.Value, &decoded))

	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.UserID, decoded.UserID)
	assert.Equal(t, event.ItemID, decoded.ItemID)
	assert.Equal(t, event.Type, decoded.Type)
	require.NotNil(t, decoded.Value)
	assert.Equal(t, *event.Value, *decoded.Value)
	assert.Equal(t, event.Category, decoded.Category)
	assert.Equal(t, event.Brand, decoded.Brand)
}

func TestNewPublisherConfiguration(t *testing.T) {
	tests := []struct {
		name          string
		topic         string
		expectedTopic string
	}{
		{name: "default topic", topic: "", expectedTopic: DefaultUserEventsTopic},
		{name: "configured topic", topic: "events.v2", expectedTopic: "events.v2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.KafkaConfig{Brokers: []string{"localhost:9092"}}
			cfg.Topics.UserEvents = tt.topic

			publisher := NewPublisher(cfg, logrus.New())
			t.Cleanup(func() { _ = publisher.Close() })

			assert.Equal(t, tt.expectedTopic, publisher.writer.Topic)
			assert.IsType(t, &kafka.Hash{}, publisher.writer.Balancer)
			assert.Equal(t, kafka.RequireOne, publisher.writer.RequiredAcks)
		})
	}
}
