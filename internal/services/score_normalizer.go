package services

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/veltrix/recast/internal/config"
)

// Normalization methods. The choice is a build-time configuration, not
// a per-request one.
const (
	NormalizeMinMax = "min_max"
	NormalizeZScore = "z_score"
)

// Columns of the feature matrix, matching artifacts.FeatureOrder.
const (
	colMF = iota
	colPopularity
	colRating
	colContent
)

// ScoreNormalizer re-scales the raw latent and popularity columns with
// per-request statistics so neither dominates the linear ranker, then
// applies the configured feature weights. Rating and content arrive in
// [0, 1] already and are only clamped.
type ScoreNormalizer struct {
	method  string
	weights config.FeatureWeights
}

func NewScoreNormalizer(cfg config.RankerConfig) *ScoreNormalizer {
	method := cfg.Normalization
	if method != NormalizeZScore {
		method = NormalizeMinMax
	}
	return &ScoreNormalizer{method: method, weights: cfg.Weights}
}

// Normalize transforms the matrix in place. With fewer than two rows
// there are no meaningful statistics, so the statistical step is
// skipped; clamping and weighting still run so a single candidate is
// scored on the same scale as a full batch.
func (n *ScoreNormalizer) Normalize(features *mat.Dense) {
	if features == nil {
		return
	}
	rows, _ := features.Dims()
	if rows == 0 {
		return
	}

	if rows >= 2 {
		switch n.method {
		case NormalizeZScore:
			n.zScoreColumn(features, colMF)
			n.zScoreColumn(features, colPopularity)
		default:
			n.minMaxColumn(features, colMF)
			n.minMaxColumn(features, colPopularity)
		}
	}

	for i := 0; i < rows; i++ {
		features.Set(i, colRating, clampUnit(features.At(i, colRating)))
		features.Set(i, colContent, clampUnit(features.At(i, colContent)))
	}

	for i := 0; i < rows; i++ {
		features.Set(i, colMF, features.At(i, colMF)*n.weights.MF)
		features.Set(i, colPopularity, features.At(i, colPopularity)*n.weights.Popularity)
		features.Set(i, colRating, features.At(i, colRating)*n.weights.Rating)
		features.Set(i, colContent, features.At(i, colContent)*n.weights.Content)
	}
}

func (n *ScoreNormalizer) minMaxColumn(features *mat.Dense, col int) {
	rows, _ := features.Dims()

	min, max := features.At(0, col), features.At(0, col)
	for i := 1; i < rows; i++ {
		v := features.At(i, col)
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	span := max - min
	for i := 0; i < rows; i++ {
		if span == 0 {
			// Identical values carry no ordering information; score
			// them all at the top of the range.
			features.Set(i, col, 1.0)
			continue
		}
		features.Set(i, col, clampUnit((features.At(i, col)-min)/span))
	}
}

func (n *ScoreNormalizer) zScoreColumn(features *mat.Dense, col int) {
	rows, _ := features.Dims()

	column := make([]float64, rows)
	mat.Col(column, col, features)
	mean, std := stat.MeanStdDev(column, nil)

	for i := 0; i < rows; i++ {
		if std == 0 {
			features.Set(i, col, 0.5)
			continue
		}
		z := (features.At(i, col) - mean) / std
		features.Set(i, col, sigmoid(z))
	}
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
