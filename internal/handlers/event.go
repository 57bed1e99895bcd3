package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/services"
	"github.com/veltrix/recast/internal/validation"
	"github.com/veltrix/recast/pkg/models"
)

const maxBatchEvents = 100

type EventHandler struct {
	events    services.EventServiceInterface
	schemas   *validation.EventValidator
	validator *validator.Validate
	timeout   time.Duration
	logger    *logrus.Logger
}

func NewEventHandler(
	events services.EventServiceInterface,
	schemas *validation.EventValidator,
	timeout time.Duration,
	logger *logrus.Logger,
) *EventHandler {
	return &EventHandler{
		events:    events,
		schemas:   schemas,
		validator: validator.New(),
		timeout:   timeout,
		logger:    logger,
	}
}

// Record accepts a single behavioral event. The response is 202: the
// context update is done, the durable write happens in the background.
func (h *EventHandler) Record(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to read request body",
			},
		})
		return
	}

	if result := h.schemas.ValidateEvent(payload); !result.Valid {
		c.JSON(http.StatusBadRequest, result.ToAPIError())
		return
	}

	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to parse event",
			},
		})
		return
	}

	if err := h.validator.Struct(&event); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Event validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	enriched, err := h.events.Record(ctx, &event)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": event.UserID,
			"item_id": event.ItemID,
		}).Warn("Rejected user event")
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_EVENT",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": gin.H{
			"event_id": enriched.ID,
		},
		"message": "Event accepted",
	})
}

// RecordBatch accepts up to maxBatchEvents events in one request. Each
// event is validated against its schema before any is handed to the
// fast-path, so a bad envelope rejects the whole batch.
func (h *EventHandler) RecordBatch(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to read request body",
			},
		})
		return
	}

	var envelope struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Failed to parse batch request",
			},
		})
		return
	}

	if len(envelope.Events) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "EMPTY_BATCH",
				"message": "Batch contains no events",
			},
		})
		return
	}
	if len(envelope.Events) > maxBatchEvents {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "BATCH_SIZE_EXCEEDED",
				"message": fmt.Sprintf("Batch size %d exceeds maximum of %d", len(envelope.Events), maxBatchEvents),
			},
		})
		return
	}

	events := make([]models.Event, 0, len(envelope.Events))
	for i, raw := range envelope.Events {
		if result := h.schemas.ValidateEvent(raw); !result.Valid {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "VALIDATION_FAILED",
					"message": fmt.Sprintf("Event at index %d failed validation: %s", i, result.Errors[0].Message),
					"details": result.Errors,
				},
			})
			return
		}
		var event models.Event
		if err := json.Unmarshal(raw, &event); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": gin.H{
					"code":    "INVALID_REQUEST",
					"message": fmt.Sprintf("Failed to parse event at index %d", i),
				},
			})
			return
		}
		events = append(events, event)
	}

	batch := &models.EventBatchRequest{Events: events}
	if err := h.validator.Struct(batch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Batch validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	accepted := h.events.RecordBatch(ctx, events)

	eventIDs := make([]string, len(accepted))
	for i := range accepted {
		eventIDs[i] = accepted[i].ID
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": gin.H{
			"event_ids":      eventIDs,
			"total_accepted": len(accepted),
		},
		"message": "Batch accepted",
	})
}
