package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/pkg/models"
)

// persistTimeout bounds the background durable write of one event.
const persistTimeout = 5 * time.Second

// EventPublisher pushes enriched events onto the user-event stream.
type EventPublisher interface {
	PublishUserEvent(ctx context.Context, event *models.EnrichedEvent) error
}

// EventService is the event fast-path. It resolves catalog facts for
// the item, updates the user's short-term context synchronously, and
// hands the durable write to a background worker; the caller never
// waits for durability.
type EventService struct {
	catalog   *CatalogRepository
	context   *ContextStore
	publisher EventPublisher
	logger    *logrus.Logger

	durableChan chan *models.EnrichedEvent
	stopChan    chan struct{}
	wg          sync.WaitGroup
}

// NewEventService starts the persistence worker. publisher may be nil
// when the event stream is disabled.
func NewEventService(catalog *CatalogRepository, contextStore *ContextStore, publisher EventPublisher, logger *logrus.Logger) *EventService {
	service := &EventService{
		catalog:     catalog,
		context:     contextStore,
		publisher:   publisher,
		logger:      logger,
		durableChan: make(chan *models.EnrichedEvent, 1000),
		stopChan:    make(chan struct{}),
	}

	service.wg.Add(1)
	go service.persistWorker()

	return service
}

// Stop drains the persistence queue and waits for the worker to exit.
func (s *EventService) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// Record accepts one event. The context update happens before the
// call returns, so a recommendation request issued right after it
// already sees the new signal. Catalog and context failures degrade
// the event instead of rejecting it.
func (s *EventService) Record(ctx context.Context, event *models.Event) (*models.EnrichedEvent, error) {
	if event.Type == models.EventRate && event.Value == nil {
		return nil, fmt.Errorf("rate event for item %s carries no value", event.ItemID)
	}

	enriched := &models.EnrichedEvent{
		ID:    uuid.New().String(),
		Event: *event,
	}
	if enriched.Timestamp.IsZero() {
		enriched.Timestamp = time.Now().UTC()
	}

	category, brand, err := s.catalog.ItemFacts(ctx, event.ItemID)
	if err != nil {
		s.logger.WithError(err).WithField("item_id", event.ItemID).
			Warn("Item facts lookup failed, recording event without category")
		recordDegradation("item_facts")
	} else {
		enriched.Category = category
		enriched.Brand = brand
	}

	if err := s.context.TouchRecent(ctx, event.UserID, event.ItemID, enriched.Category); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": event.UserID,
			"item_id": event.ItemID,
		}).Warn("Short-term context update failed")
		recordDegradation("context_write")
	}

	select {
	case s.durableChan <- enriched:
	default:
		s.logger.WithFields(logrus.Fields{
			"event_id": enriched.ID,
			"user_id":  event.UserID,
		}).Warn("Event persistence queue full, dropping durable write")
		eventQueueDrops.Inc()
	}

	s.logger.WithFields(logrus.Fields{
		"user_id":    event.UserID,
		"item_id":    event.ItemID,
		"event_type": event.Type,
	}).Debug("Recorded user event")
	recordEvent(event.Type)

	return enriched, nil
}

// RecordBatch accepts events in request order. Invalid events are
// logged and skipped; the remainder is still accepted.
func (s *EventService) RecordBatch(ctx context.Context, events []models.Event) []models.EnrichedEvent {
	accepted := make([]models.EnrichedEvent, 0, len(events))
	for i := range events {
		enriched, err := s.Record(ctx, &events[i])
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"user_id": events[i].UserID,
				"item_id": events[i].ItemID,
			}).Error("Skipping event in batch")
			continue
		}
		accepted = append(accepted, *enriched)
	}
	return accepted
}

func (s *EventService) persistWorker() {
	defer s.wg.Done()

	for {
		select {
		case event := <-s.durableChan:
			s.persistEvent(event)
		case <-s.stopChan:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case event := <-s.durableChan:
					s.persistEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (s *EventService) persistEvent(event *models.EnrichedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.catalog.AppendInteraction(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": event.ID,
			"user_id":  event.UserID,
		}).Error("Failed to persist user event")
		recordDegradation("event_store")
	}

	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishUserEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_id", event.ID).Warn("Failed to publish user event")
		recordDegradation("event_publish")
	}
}
