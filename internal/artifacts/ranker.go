package artifacts

import (
	"encoding/binary"
	"math"
	"os"
)

// FeatureOrder is the pinned feature layout shared by the offline
// trainer, the feature assembler, and the ranker. ranker.bin must
// encode exactly this order.
var FeatureOrder = []string{"mf_score", "popularity_score", "rating_score", "content_score"}

// LinearRanker is the trained logistic model: one coefficient per
// feature in FeatureOrder plus an intercept. Inference only.
type LinearRanker struct {
	Features  []string
	Weights   []float64
	Intercept float64
}

// ReadRanker decodes ranker.bin: a little-endian uint32 feature count,
// each feature name as uint16 length + bytes, the float64 coefficients
// in the same order, and the float64 intercept.
func ReadRanker(path string) (*LinearRanker, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoaderError{Path: path, Err: err}
	}

	if len(data) < 4 {
		return nil, loaderErr(path, "truncated header")
	}
	count := int(binary.LittleEndian.Uint32(data))
	offset := 4

	if count <= 0 || count > 64 {
		return nil, loaderErr(path, "implausible feature count %d", count)
	}

	features := make([]string, count)
	for i := 0; i < count; i++ {
		if offset+2 > len(data) {
			return nil, loaderErr(path, "truncated feature name %d", i)
		}
		nameLen := int(binary.LittleEndian.Uint16(data[offset:]))
		offset += 2
		if offset+nameLen > len(data) {
			return nil, loaderErr(path, "truncated feature name %d", i)
		}
		features[i] = string(data[offset : offset+nameLen])
		offset += nameLen
	}

	need := count*8 + 8
	if len(data)-offset < need {
		return nil, loaderErr(path, "truncated coefficients: want %d bytes, have %d", need, len(data)-offset)
	}

	weights := make([]float64, count)
	for i := 0; i < count; i++ {
		weights[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
		offset += 8
	}
	intercept := math.Float64frombits(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	if offset != len(data) {
		return nil, loaderErr(path, "%d trailing bytes", len(data)-offset)
	}

	if len(features) != len(FeatureOrder) {
		return nil, loaderErr(path, "model has %d features, serving expects %d", len(features), len(FeatureOrder))
	}
	for i, name := range FeatureOrder {
		if features[i] != name {
			return nil, loaderErr(path, "feature %d is %q, expected %q", i, features[i], name)
		}
	}
	for i, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, loaderErr(path, "non-finite coefficient for %s", features[i])
		}
	}
	if math.IsNaN(intercept) || math.IsInf(intercept, 0) {
		return nil, loaderErr(path, "non-finite intercept")
	}

	return &LinearRanker{Features: features, Weights: weights, Intercept: intercept}, nil
}
