package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/services"
)

// HealthChecker reports the current dependency status.
type HealthChecker interface {
	CheckHealth() *services.HealthStatus
}

type HealthHandler struct {
	logger *logrus.Logger
	health HealthChecker
}

func NewHealthHandler(logger *logrus.Logger, health HealthChecker) *HealthHandler {
	return &HealthHandler{
		logger: logger,
		health: health,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := h.health.CheckHealth()

	var httpStatus int
	switch status.Status {
	case "healthy":
		httpStatus = http.StatusOK
	case "degraded":
		httpStatus = http.StatusOK // Still operational
	case "unhealthy":
		httpStatus = http.StatusServiceUnavailable
	default:
		httpStatus = http.StatusInternalServerError
	}

	c.JSON(httpStatus, status)
}
