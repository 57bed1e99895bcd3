package services

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/veltrix/recast/internal/artifacts"
	"github.com/veltrix/recast/pkg/models"
)

// FeatureAssembler turns a candidate list into the dense feature
// matrix the ranker consumes, one row per candidate, columns pinned to
// artifacts.FeatureOrder. Missing information is encoded as zero, never
// as an error; ranking must proceed with whatever signal exists.
type FeatureAssembler struct {
	store  *artifacts.Store
	logger *logrus.Logger
}

func NewFeatureAssembler(store *artifacts.Store, logger *logrus.Logger) *FeatureAssembler {
	return &FeatureAssembler{store: store, logger: logger}
}

// Assemble builds the n x 4 matrix for the candidates. contentScores
// holds the similarity-to-context score per item; contentBoost scales
// it before the clamp, letting the product-detail surface weigh
// similarity harder than the home feed.
func (a *FeatureAssembler) Assemble(userID string, candidates []models.Candidate, contentScores map[string]float64, contentBoost float64) *mat.Dense {
	if len(candidates) == 0 {
		return nil
	}

	features := mat.NewDense(len(candidates), len(artifacts.FeatureOrder), nil)
	userVec, hasUser := a.store.UserVector(userID)

	for i, c := range candidates {
		var mf float64
		if hasUser {
			if row, ok := a.store.RowOfItem(c.ItemID); ok {
				mf = mat.Dot(userVec, a.store.ItemVectorByRow(row))
			}
		}

		popularity, rating, ok := a.store.Popularity(c.ItemID)
		if !ok {
			rating = ratingFromSignals(c.Signals)
		}

		content := clampUnit(contentScores[c.ItemID] * contentBoost)

		features.SetRow(i, []float64{mf, popularity, rating, content})
	}
	return features
}

// ratingFromSignals rescales a live 1..5 catalog rating onto [0, 1]
// when the popularity table has no row for the item.
func ratingFromSignals(s *models.RawSignals) float64 {
	if s == nil || s.AvgRating <= 0 {
		return 0
	}
	return clampUnit((s.AvgRating - 1) / 4)
}
