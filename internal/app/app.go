package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/artifacts"
	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/internal/database"
	"github.com/veltrix/recast/internal/handlers"
	"github.com/veltrix/recast/internal/messaging"
	"github.com/veltrix/recast/internal/middleware"
	"github.com/veltrix/recast/internal/services"
	"github.com/veltrix/recast/internal/vectorindex"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	publisher *messaging.Publisher
	services  *services.Services
	handlers  *handlers.Handlers
	router    *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: setupLogger(cfg),
	}

	// Initialize database connections
	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	// Load the model artifacts. The process must not serve without them.
	store, err := artifacts.Load(cfg.Artifacts, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load model artifacts: %w", err)
	}

	vectors := vectorindex.New(cfg.VectorIndex, app.logger)

	// The event stream is optional: with no brokers configured, events
	// are still persisted but never published. The nil check happens on
	// the concrete type so the interface stays truly nil when disabled.
	var eventPublisher services.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		app.publisher = messaging.NewPublisher(cfg.Kafka, app.logger)
		eventPublisher = app.publisher
	} else {
		app.logger.Warn("No Kafka brokers configured, event publishing disabled")
	}

	app.services = services.New(cfg, app.logger, db, store, vectors, eventPublisher)

	app.handlers, err = handlers.New(app.logger, cfg, app.services)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	app.setupRouter()

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// Shutdown drains the event fast-path before closing connections so
// accepted events reach the interaction log.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	a.services.Stop()

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.WithError(err).Error("Error closing event publisher")
		}
	}

	if err := a.db.Close(); err != nil {
		a.logger.WithError(err).Error("Error closing database connections")
		return err
	}

	return nil
}

func setupLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

func (a *App) setupRouter() {
	if a.config.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Logger(a.logger))
	router.Use(middleware.Recovery(a.logger))
	router.Use(middleware.CORS(a.config.Security.CORS))
	router.Use(middleware.Security())

	router.GET("/health", a.handlers.Health.Check)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API routes
	api := router.Group("/api/v1")
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/:userId", a.handlers.Recommendation.Get)
			recommendations.GET("/:userId/similar/:itemId", a.handlers.Recommendation.GetSimilar)
		}

		events := api.Group("/events")
		{
			events.POST("", a.handlers.Event.Record)
			events.POST("/batch", a.handlers.Event.RecordBatch)
		}
	}

	a.router = router
}
