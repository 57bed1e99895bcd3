package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/veltrix/recast/internal/config"
)

func defaultWeights() config.FeatureWeights {
	return config.FeatureWeights{MF: 1.0, Popularity: 0.8, Rating: 1.0, Content: 1.0}
}

func TestNormalizeMinMax(t *testing.T) {
	normalizer := NewScoreNormalizer(config.RankerConfig{
		Normalization: NormalizeMinMax,
		Weights:       defaultWeights(),
	})

	features := mat.NewDense(3, 4, []float64{
		2.0, 0.9, 1.2, 0.3,
		1.0, 0.9, 0.5, 0.0,
		0.0, 0.9, -0.1, 1.0,
	})

	normalizer.Normalize(features)

	// mf spans [0, 2] and maps onto [0, 1].
	assert.InDelta(t, 1.0, features.At(0, 0), 1e-9)
	assert.InDelta(t, 0.5, features.At(1, 0), 1e-9)
	assert.InDelta(t, 0.0, features.At(2, 0), 1e-9)

	// Identical popularity carries no ordering: all 1.0, then weighted.
	assert.InDelta(t, 0.8, features.At(0, 1), 1e-9)
	assert.InDelta(t, 0.8, features.At(1, 1), 1e-9)
	assert.InDelta(t, 0.8, features.At(2, 1), 1e-9)

	// Rating and content are clamped, never re-scaled.
	assert.InDelta(t, 1.0, features.At(0, 2), 1e-9)
	assert.InDelta(t, 0.5, features.At(1, 2), 1e-9)
	assert.InDelta(t, 0.0, features.At(2, 2), 1e-9)
	assert.InDelta(t, 0.3, features.At(0, 3), 1e-9)
}

func TestNormalizeZScore(t *testing.T) {
	normalizer := NewScoreNormalizer(config.RankerConfig{
		Normalization: NormalizeZScore,
		Weights:       defaultWeights(),
	})

	features := mat.NewDense(3, 4, []float64{
		1.0, 0.5, 0.0, 0.0,
		2.0, 0.5, 0.0, 0.0,
		3.0, 0.5, 0.0, 0.0,
	})

	normalizer.Normalize(features)

	// Sample std of [1,2,3] is 1, so z = [-1, 0, 1] through the
	// sigmoid.
	assert.InDelta(t, 0.26894, features.At(0, 0), 1e-4)
	assert.InDelta(t, 0.5, features.At(1, 0), 1e-4)
	assert.InDelta(t, 0.73106, features.At(2, 0), 1e-4)

	// Zero variance pins the column at 0.5 before weighting.
	assert.InDelta(t, 0.4, features.At(0, 1), 1e-9)
}

func TestNormalizeSingleCandidate(t *testing.T) {
	normalizer := NewScoreNormalizer(config.RankerConfig{
		Normalization: NormalizeMinMax,
		Weights:       defaultWeights(),
	})

	features := mat.NewDense(1, 4, []float64{5.0, 0.9, 1.2, -0.3})

	normalizer.Normalize(features)

	// No statistics from one row, but clamps and weights still apply.
	assert.InDelta(t, 5.0, features.At(0, 0), 1e-9)
	assert.InDelta(t, 0.72, features.At(0, 1), 1e-9)
	assert.InDelta(t, 1.0, features.At(0, 2), 1e-9)
	assert.InDelta(t, 0.0, features.At(0, 3), 1e-9)
}

func TestNormalizeNilMatrix(t *testing.T) {
	normalizer := NewScoreNormalizer(config.RankerConfig{Weights: defaultWeights()})

	assert.NotPanics(t, func() { normalizer.Normalize(nil) })
}
