package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/internal/services"
	"github.com/veltrix/recast/internal/validation"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Event          *EventHandler
}

func New(logger *logrus.Logger, cfg *config.Config, services *services.Services) (*Handlers, error) {
	eventValidator, err := validation.NewEventValidator()
	if err != nil {
		return nil, err
	}

	return &Handlers{
		Health:         NewHealthHandler(logger, services.Health),
		Recommendation: NewRecommendationHandler(services.Orchestrator, cfg.Recommend.Timeouts.Request, logger),
		Event:          NewEventHandler(services.Events, eventValidator, cfg.Recommend.Timeouts.Event, logger),
	}, nil
}
