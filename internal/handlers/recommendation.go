package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/services"
	"github.com/veltrix/recast/pkg/models"
)

type RecommendationHandler struct {
	orchestrator services.RecommendationOrchestratorInterface
	timeout      time.Duration
	validator    *validator.Validate
	logger       *logrus.Logger
}

func NewRecommendationHandler(
	orchestrator services.RecommendationOrchestratorInterface,
	timeout time.Duration,
	logger *logrus.Logger,
) *RecommendationHandler {
	return &RecommendationHandler{
		orchestrator: orchestrator,
		timeout:      timeout,
		validator:    validator.New(),
		logger:       logger,
	}
}

// Get serves the home feed.
func (h *RecommendationHandler) Get(c *gin.Context) {
	req := &models.RecommendationRequest{
		UserID:     c.Param("userId"),
		Count:      parseCount(c),
		References: splitList(c.Query("references")),
		Exclude:    splitList(c.Query("exclude")),
	}
	if seedStr := c.Query("seed"); seedStr != "" {
		if seed, err := strconv.ParseInt(seedStr, 10, 64); err == nil {
			req.Seed = seed
		}
	}

	if err := h.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp, err := h.orchestrator.Recommend(ctx, req)
	if err != nil {
		h.logger.WithError(err).WithField("user_id", req.UserID).Error("Failed to generate recommendations")
		h.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetSimilar serves the similar-items rail for one anchor item.
func (h *RecommendationHandler) GetSimilar(c *gin.Context) {
	req := &models.SimilarItemsRequest{
		UserID: c.Param("userId"),
		Anchor: c.Param("itemId"),
		Count:  parseCount(c),
	}

	if err := h.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": gin.H{
				"code":    "VALIDATION_FAILED",
				"message": "Request validation failed",
				"details": err.Error(),
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	resp, err := h.orchestrator.SimilarItems(ctx, req)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": req.UserID,
			"anchor":  req.Anchor,
		}).Error("Failed to generate similar items")
		h.respondPipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// respondPipelineError maps pipeline failures onto the API contract:
// a failed catalog join is a dependency outage, a blown deadline is a
// timeout, anything else is a plain server error.
func (h *RecommendationHandler) respondPipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"code":    "CATALOG_UNAVAILABLE",
				"message": "Catalog is unavailable, please retry",
			},
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error": gin.H{
				"code":    "REQUEST_TIMEOUT",
				"message": "Recommendation request timed out",
			},
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"code":    "RECOMMENDATION_FAILED",
				"message": "Failed to generate recommendations",
			},
		})
	}
}

// parseCount reads the count query parameter, falling back to the
// server default (0) when absent or out of range.
func parseCount(c *gin.Context) int {
	countStr := c.Query("count")
	if countStr == "" {
		return 0
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 || count > 100 {
		return 0
	}
	return count
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	if len(items) == 0 {
		return nil
	}
	return items
}
