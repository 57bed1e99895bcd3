package services

import (
	"errors"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/veltrix/recast/internal/artifacts"
	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

// ErrRankerDimension reports a feature matrix whose shape does not
// match the loaded coefficients. Inference falls back to positional
// scoring instead of failing the request.
var ErrRankerDimension = errors.New("feature dimension does not match ranker")

// RankerService applies the trained logistic model to a feature matrix
// and emits candidates ordered by predicted score. Inference only; the
// coefficients never change while the process runs.
type RankerService struct {
	store  *artifacts.Store
	cfg    config.RankerConfig
	logger *logrus.Logger
}

func NewRankerService(store *artifacts.Store, cfg config.RankerConfig, logger *logrus.Logger) *RankerService {
	return &RankerService{store: store, cfg: cfg, logger: logger}
}

// Rank scores the candidates, sorts them descending with ties keeping
// the recall order, and truncates to the configured top N. When
// inference is impossible the candidates keep their recall order under
// synthetic descending scores, so the pipeline always produces a list.
func (s *RankerService) Rank(candidates []models.Candidate, features *mat.Dense) []models.RankedItem {
	if len(candidates) == 0 {
		return nil
	}

	if s.cfg.DebugFeatures && features != nil {
		limit := 3
		if len(candidates) < limit {
			limit = len(candidates)
		}
		for i := 0; i < limit; i++ {
			s.logger.WithFields(logrus.Fields{
				"item_id":  candidates[i].ItemID,
				"features": mat.Row(nil, i, features),
			}).Debug("Ranker input features")
		}
	}

	scores, err := s.score(features, len(candidates))
	if err != nil {
		s.logger.WithError(err).Warn("Ranker inference failed, using positional fallback")
		recordDegradation("ranker_fallback")
		scores = positionalScores(len(candidates))
	}

	ranked := make([]models.RankedItem, len(candidates))
	for i, c := range candidates {
		ranked[i] = models.RankedItem{
			ItemID:  c.ItemID,
			Score:   scores[i],
			Signals: c.Signals,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	if s.cfg.TopNRank > 0 && len(ranked) > s.cfg.TopNRank {
		ranked = ranked[:s.cfg.TopNRank]
	}
	for i := range ranked {
		ranked[i].Rank = i + 1
	}
	return ranked
}

func (s *RankerService) score(features *mat.Dense, n int) ([]float64, error) {
	if features == nil {
		return nil, fmt.Errorf("%w: no feature matrix", ErrRankerDimension)
	}

	ranker := s.store.Ranker()
	rows, cols := features.Dims()
	if rows != n || cols != len(ranker.Weights) {
		return nil, fmt.Errorf("%w: matrix %dx%d against %d coefficients",
			ErrRankerDimension, rows, cols, len(ranker.Weights))
	}

	weights := mat.NewVecDense(len(ranker.Weights), ranker.Weights)
	linear := mat.NewVecDense(rows, nil)
	linear.MulVec(features, weights)

	scores := make([]float64, rows)
	for i := range scores {
		scores[i] = sigmoid(linear.AtVec(i) + ranker.Intercept)
	}
	return scores, nil
}

// positionalScores mirrors the recall ordering as strictly decreasing
// probabilities in (0, 1).
func positionalScores(n int) []float64 {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1.0 - float64(i+1)/float64(n+1)
	}
	return scores
}
