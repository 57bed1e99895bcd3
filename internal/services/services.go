package services

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/artifacts"
	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/internal/database"
)

// Services bundles every constructed service behind one handle. The
// pipeline stages are exported individually so tests and tools can
// drive a single stage without the orchestrator.
type Services struct {
	Health          *HealthService
	ContextStore    *ContextStore
	Catalog         *CatalogRepository
	ContentRecall   *ContentRecallService
	CandidateRecall *CandidateRecallService
	Features        *FeatureAssembler
	Normalizer      *ScoreNormalizer
	Ranker          *RankerService
	ReRanker        *ReRankerService
	Events          *EventService
	Orchestrator    *RecommendationOrchestrator
}

// New wires the serving pipeline. The artifact store and the vector
// index client arrive pre-built because their lifecycles (startup
// loading, HTTP transport) belong to the caller; publisher may be nil
// when the event stream is disabled.
func New(
	cfg *config.Config,
	logger *logrus.Logger,
	db *database.Database,
	store *artifacts.Store,
	vectors VectorSearcher,
	publisher EventPublisher,
) *Services {
	contextStore := NewContextStore(db.Redis, cfg.Recommend.Context, logger)
	catalog := NewCatalogRepository(db.PG, logger)

	contentRecall := NewContentRecallService(vectors, cfg.Recommend.Context.ReferenceLimit, logger)
	candidateRecall := NewCandidateRecallService(store, contentRecall, cfg.Recommend.Recall, logger)
	features := NewFeatureAssembler(store, logger)
	normalizer := NewScoreNormalizer(cfg.Recommend.Ranker)
	ranker := NewRankerService(store, cfg.Recommend.Ranker, logger)
	reranker := NewReRankerService(contextStore, cfg.Recommend.Rerank, logger)

	orchestrator := NewRecommendationOrchestrator(
		candidateRecall, contentRecall, features, normalizer, ranker, reranker, catalog,
		&cfg.Recommend, logger,
	)

	events := NewEventService(catalog, contextStore, publisher, logger)

	var vectorPinger VectorPinger
	if p, ok := vectors.(VectorPinger); ok {
		vectorPinger = p
	} else {
		vectorPinger = noopPinger{}
	}
	health := NewHealthService(logger, db.PG, db.Redis, vectorPinger)

	return &Services{
		Health:          health,
		ContextStore:    contextStore,
		Catalog:         catalog,
		ContentRecall:   contentRecall,
		CandidateRecall: candidateRecall,
		Features:        features,
		Normalizer:      normalizer,
		Ranker:          ranker,
		ReRanker:        reranker,
		Events:          events,
		Orchestrator:    orchestrator,
	}
}

// Stop shuts down the background work the services own, draining the
// durable event queue.
func (s *Services) Stop() {
	s.Events.Stop()
}

// noopPinger stands in when the wired vector searcher has no probe
// surface, which only happens with test doubles.
type noopPinger struct{}

func (noopPinger) Ping(context.Context) error { return nil }
