package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

// DefaultUserEventsTopic receives one message per accepted user event.
const DefaultUserEventsTopic = "user-events"

// Publisher pushes enriched user events onto the stream the offline
// trainers consume. The serving path never reads from Kafka; this side
// of the contract is write-only.
type Publisher struct {
	writer *kafka.Writer
	logger *logrus.Logger
}

func NewPublisher(cfg config.KafkaConfig, logger *logrus.Logger) *Publisher {
	topic := cfg.Topics.UserEvents
	if topic == "" {
		topic = DefaultUserEventsTopic
	}

	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // Key by user id keeps per-user ordering
			RequiredAcks: kafka.RequireOne,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		},
		logger: logger,
	}
}

// PublishUserEvent writes one event. The caller is the background
// persistence worker, so a failure here is logged and absorbed rather
// than surfaced to the client.
func (p *Publisher) PublishUserEvent(ctx context.Context, event *models.EnrichedEvent) error {
	message, err := buildMessage(event)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.WithError(err).WithField("event_id", event.ID).Error("Failed to publish event to Kafka")
		return fmt.Errorf("failed to write event to Kafka: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"user_id":    event.UserID,
		"event_type": event.Type,
	}).Debug("Event published to Kafka")

	return nil
}

func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close event writer: %w", err)
	}
	return nil
}

func buildMessage(event *models.EnrichedEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.UserID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "timestamp", Value: []byte(event.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
