package services

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/veltrix/recast/pkg/models"
)

// CandidateRecallInterface is the recall stage as the orchestrator
// sees it.
type CandidateRecallInterface interface {
	Recall(ctx context.Context, req *RecallRequest) []models.Candidate
}

// ContentScorerInterface is the one vector-index operation the
// orchestrator drives directly: the per-candidate content score map.
// Neighborhood recall goes through CandidateRecallInterface.
type ContentScorerInterface interface {
	ScoreCandidates(ctx context.Context, candidateIDs, refs []string, weights []float64) map[string]float64
}

// FeatureAssemblerInterface builds the candidate feature matrix.
type FeatureAssemblerInterface interface {
	Assemble(userID string, candidates []models.Candidate, contentScores map[string]float64, contentBoost float64) *mat.Dense
}

// ScoreNormalizerInterface rescales the feature matrix in place.
type ScoreNormalizerInterface interface {
	Normalize(features *mat.Dense)
}

// RankerInterface scores and orders candidates.
type RankerInterface interface {
	Rank(candidates []models.Candidate, features *mat.Dense) []models.RankedItem
}

// ReRankerInterface applies context rules, diversity and dedup.
type ReRankerInterface interface {
	ReRank(ctx context.Context, userID string, ranked []models.RankedItem, n int) []models.ReRankedItem
}

// CatalogInterface is the slice of the catalog repository the
// orchestrator consumes.
type CatalogInterface interface {
	Products(ctx context.Context, itemIDs []string) ([]models.Product, error)
	Signals(ctx context.Context, itemIDs []string) (map[string]*models.RawSignals, error)
	ItemFacts(ctx context.Context, itemID string) (category, brand string, err error)
	UserHistory(ctx context.Context, userID string, kinds []string, limit int) ([]string, error)
	TopRatedInCategory(ctx context.Context, category, excludeItem string, limit int) ([]models.Candidate, error)
}

// EventServiceInterface defines the event fast-path operations.
type EventServiceInterface interface {
	Record(ctx context.Context, event *models.Event) (*models.EnrichedEvent, error)
	RecordBatch(ctx context.Context, events []models.Event) []models.EnrichedEvent
	Stop()
}

// RecommendationOrchestratorInterface defines the serving operations.
type RecommendationOrchestratorInterface interface {
	Recommend(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResponse, error)
	SimilarItems(ctx context.Context, req *models.SimilarItemsRequest) (*models.SimilarItemsResponse, error)
}
