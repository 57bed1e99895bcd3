package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

// ErrCatalogUnavailable marks a failed post-join: the pipeline produced
// items but the catalog could not translate them into a response.
var ErrCatalogUnavailable = errors.New("catalog unavailable")

// Response modes. A response is personalized as soon as the latent
// branch contributed at least one candidate.
const (
	ModePersonalized = "personalized"
	ModeColdStart    = "cold_start"
)

// historyKinds are the event kinds that stand in for references when
// the caller provides none.
var historyKinds = []string{models.EventAddToCart, models.EventPurchase}

// RecommendationOrchestrator wires recall, feature assembly,
// normalization, ranking and re-ranking into the two serving flows:
// the home feed and the similar-items rail. Everything upstream of the
// final catalog join degrades softly; the join itself is the one hard
// dependency.
type RecommendationOrchestrator struct {
	recall     CandidateRecallInterface
	content    ContentScorerInterface
	features   FeatureAssemblerInterface
	normalizer ScoreNormalizerInterface
	ranker     RankerInterface
	reranker   ReRankerInterface
	catalog    CatalogInterface
	cfg        *config.RecommendConfig
	logger     *logrus.Logger
}

func NewRecommendationOrchestrator(
	recall CandidateRecallInterface,
	content ContentScorerInterface,
	features FeatureAssemblerInterface,
	normalizer ScoreNormalizerInterface,
	ranker RankerInterface,
	reranker ReRankerInterface,
	catalog CatalogInterface,
	cfg *config.RecommendConfig,
	logger *logrus.Logger,
) *RecommendationOrchestrator {
	return &RecommendationOrchestrator{
		recall:     recall,
		content:    content,
		features:   features,
		normalizer: normalizer,
		ranker:     ranker,
		reranker:   reranker,
		catalog:    catalog,
		cfg:        cfg,
		logger:     logger,
	}
}

// Recommend serves the home feed. References come from the caller or,
// absent that, from the user's cart and purchase history. Recently
// seen items are not excluded here; the re-ranker demotes them so they
// can still resurface further down the list.
func (o *RecommendationOrchestrator) Recommend(ctx context.Context, req *models.RecommendationRequest) (*models.RecommendationResponse, error) {
	start := time.Now()

	n := req.Count
	if n <= 0 {
		n = o.cfg.Rerank.TopNFinal
	}
	seed := req.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	references := req.References
	if len(references) == 0 {
		history, err := o.catalog.UserHistory(ctx, req.UserID, historyKinds, o.cfg.Context.ReferenceLimit)
		if err != nil {
			o.logger.WithError(err).WithField("user_id", req.UserID).
				Warn("User history lookup failed, continuing without references")
			recordDegradation("user_history")
		} else {
			references = history
		}
	}

	recallStart := time.Now()
	candidates := o.recall.Recall(ctx, &RecallRequest{
		UserID:     req.UserID,
		References: references,
		Exclusions: req.Exclude,
		Seed:       seed,
	})
	observeStage("recall", recallStart)
	if len(candidates) == 0 {
		recordRequest("recommend", "ok", start)
		return &models.RecommendationResponse{
			UserID:      req.UserID,
			Items:       []models.RecommendedItem{},
			Mode:        ModeColdStart,
			GeneratedAt: time.Now().UTC(),
		}, nil
	}

	ids := candidateIDs(candidates)

	// Raw signals and content scores are independent reads against
	// different backends.
	signalsStart := time.Now()
	var (
		wg            sync.WaitGroup
		signals       map[string]*models.RawSignals
		contentScores map[string]float64
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		fetched, err := o.catalog.Signals(ctx, ids)
		if err != nil {
			o.logger.WithError(err).Warn("Signals fetch failed, context rules lose catalog facts")
			recordDegradation("signals")
			return
		}
		signals = fetched
	}()
	go func() {
		defer wg.Done()
		contentScores = o.content.ScoreCandidates(ctx, ids, references, nil)
	}()
	wg.Wait()
	observeStage("signals", signalsStart)

	attachSignals(candidates, signals)

	rankStart := time.Now()
	features := o.features.Assemble(req.UserID, candidates, contentScores, o.cfg.Features.ContentBoostHome)
	o.normalizer.Normalize(features)
	ranked := o.ranker.Rank(candidates, features)
	observeStage("rank", rankStart)

	rerankStart := time.Now()
	reranked := o.reranker.ReRank(ctx, req.UserID, ranked, n)
	observeStage("rerank", rerankStart)

	joinStart := time.Now()
	items, err := o.materialize(ctx, reranked, n)
	if err != nil {
		recordRequest("recommend", "error", start)
		return nil, err
	}
	observeStage("join", joinStart)

	o.logger.WithFields(logrus.Fields{
		"user_id":    req.UserID,
		"candidates": len(candidates),
		"returned":   len(items),
		"latency":    time.Since(start),
	}).Info("Recommendations generated")
	recordRequest("recommend", "ok", start)

	return &models.RecommendationResponse{
		UserID:      req.UserID,
		Items:       items,
		Mode:        responseMode(candidates),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// SimilarItems serves the product-detail rail from the anchor's
// content neighborhood only. When the neighborhood is empty the
// response falls back to the top rated items of the anchor's category,
// bypassing the model entirely.
func (o *RecommendationOrchestrator) SimilarItems(ctx context.Context, req *models.SimilarItemsRequest) (*models.SimilarItemsResponse, error) {
	start := time.Now()

	n := req.Count
	if n <= 0 {
		n = o.cfg.Rerank.TopNFinal
	}

	recallStart := time.Now()
	candidates := o.recall.Recall(ctx, &RecallRequest{
		UserID:      req.UserID,
		Anchor:      req.Anchor,
		ContentOnly: true,
	})
	observeStage("recall", recallStart)

	if len(candidates) == 0 {
		recordDegradation("similar_fallback")
		items, err := o.categoryFallback(ctx, req.Anchor, n)
		if err != nil {
			recordRequest("similar", "error", start)
			return nil, err
		}
		recordRequest("similar", "ok", start)
		return &models.SimilarItemsResponse{
			AnchorID:    req.Anchor,
			Items:       items,
			Fallback:    true,
			GeneratedAt: time.Now().UTC(),
		}, nil
	}

	ids := candidateIDs(candidates)

	signals, err := o.catalog.Signals(ctx, ids)
	if err != nil {
		o.logger.WithError(err).Warn("Signals fetch failed, context rules lose catalog facts")
		recordDegradation("signals")
	}
	attachSignals(candidates, signals)

	// The neighborhood lookup already scored every candidate against
	// the anchor, so the content column comes straight from recall.
	contentScores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		contentScores[c.ItemID] = c.RecallScore
	}

	features := o.features.Assemble(req.UserID, candidates, contentScores, o.cfg.Features.ContentBoostSimilar)
	o.normalizer.Normalize(features)
	ranked := o.ranker.Rank(candidates, features)
	reranked := o.reranker.ReRank(ctx, req.UserID, ranked, n)

	items, err := o.materialize(ctx, reranked, n)
	if err != nil {
		recordRequest("similar", "error", start)
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"anchor":   req.Anchor,
		"returned": len(items),
		"latency":  time.Since(start),
	}).Info("Similar items generated")
	recordRequest("similar", "ok", start)

	return &models.SimilarItemsResponse{
		AnchorID:    req.Anchor,
		Items:       items,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// categoryFallback returns the anchor category's top rated items with
// min-max normalized scores. The list is intentionally homogeneous, so
// neither the ranker nor the diversity rules run over it.
func (o *RecommendationOrchestrator) categoryFallback(ctx context.Context, anchorID string, n int) ([]models.RecommendedItem, error) {
	category, _, err := o.catalog.ItemFacts(ctx, anchorID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if category == "" {
		return []models.RecommendedItem{}, nil
	}

	candidates, err := o.catalog.TopRatedInCategory(ctx, category, anchorID, 2*n)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if len(candidates) == 0 {
		return []models.RecommendedItem{}, nil
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.RecallScore
	}
	lo, hi := floats.Min(scores), floats.Max(scores)

	items := make([]models.ReRankedItem, len(candidates))
	for i, c := range candidates {
		score := 1.0
		if hi > lo {
			score = (c.RecallScore - lo) / (hi - lo)
		}
		items[i] = models.ReRankedItem{
			ItemID:        c.ItemID,
			RawScore:      c.RecallScore,
			AdjustedScore: score,
			Signals:       c.Signals,
		}
	}

	return o.materialize(ctx, items, n)
}

// materialize is the hard post-join: it translates item ids into
// catalog records and applies the second FamilyId dedupe pass with the
// catalog's authoritative family. Items the catalog no longer knows
// are dropped.
func (o *RecommendationOrchestrator) materialize(ctx context.Context, items []models.ReRankedItem, n int) ([]models.RecommendedItem, error) {
	result := make([]models.RecommendedItem, 0, len(items))
	if len(items) == 0 {
		return result, nil
	}

	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ItemID
	}

	products, err := o.catalog.Products(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ItemID] = &products[i]
	}

	seenFamilies := make(map[string]bool, len(items))
	for _, item := range items {
		if len(result) == n {
			break
		}
		product, ok := byID[item.ItemID]
		if !ok {
			o.logger.WithField("item_id", item.ItemID).Warn("Recommended item missing from catalog, dropping")
			continue
		}
		family := product.FamilyID
		if family == "" {
			family = product.ItemID
		}
		if seenFamilies[family] {
			continue
		}
		seenFamilies[family] = true

		result = append(result, models.RecommendedItem{
			ItemID:   item.ItemID,
			Title:    product.Title,
			Category: product.Category,
			ImageURL: product.ImageURL,
			Score:    item.AdjustedScore,
			Rank:     len(result) + 1,
			Reasons:  item.RuleTags,
		})
	}
	return result, nil
}

func candidateIDs(candidates []models.Candidate) []string {
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ItemID
	}
	return ids
}

func attachSignals(candidates []models.Candidate, signals map[string]*models.RawSignals) {
	if len(signals) == 0 {
		return
	}
	for i := range candidates {
		if s, ok := signals[candidates[i].ItemID]; ok {
			candidates[i].Signals = s
		}
	}
}

func responseMode(candidates []models.Candidate) string {
	for _, c := range candidates {
		if c.Source == models.SourceLatent {
			return ModePersonalized
		}
	}
	return ModeColdStart
}
