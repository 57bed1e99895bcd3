package services

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/veltrix/recast/internal/vectorindex"
	"github.com/veltrix/recast/pkg/models"
)

// VectorSearcher is the slice of the vector index client content recall
// depends on.
type VectorSearcher interface {
	GetVector(ctx context.Context, itemID string) ([]float64, bool)
	GetVectors(ctx context.Context, itemIDs []string) map[string][]float64
	KNearest(ctx context.Context, vec []float64, k int, exclude []string) []Match
}

// Match re-exports the vector index hit so callers outside this package
// never import the index client directly.
type Match = vectorindex.Match

// ContentRecallService finds candidates by embedding similarity. Every
// method degrades to an empty result when the index is unreachable;
// the pipeline treats content recall as optional.
type ContentRecallService struct {
	vectors  VectorSearcher
	refLimit int
	logger   *logrus.Logger
}

func NewContentRecallService(vectors VectorSearcher, refLimit int, logger *logrus.Logger) *ContentRecallService {
	return &ContentRecallService{vectors: vectors, refLimit: refLimit, logger: logger}
}

// SimilarToAnchor returns up to k items nearest to the anchor's vector,
// never including the anchor itself or anything in exclude. The index
// is asked for k plus the exclusion count: its point-id filter can miss
// an excluded item, so exclusions are enforced here before truncation.
func (s *ContentRecallService) SimilarToAnchor(ctx context.Context, anchorID string, k int, exclude []string) []models.Candidate {
	if k <= 0 {
		return nil
	}

	vec, ok := s.vectors.GetVector(ctx, anchorID)
	if !ok {
		return nil
	}

	excluded := make([]string, 0, len(exclude)+1)
	excluded = append(excluded, anchorID)
	excluded = append(excluded, exclude...)
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	matches := s.vectors.KNearest(ctx, vec, k+len(excluded), excluded)
	candidates := make([]models.Candidate, 0, k)
	for _, m := range matches {
		if skip[m.ItemID] {
			continue
		}
		candidates = append(candidates, models.Candidate{
			ItemID:      m.ItemID,
			Source:      models.SourceContent,
			RecallScore: m.Score,
		})
		if len(candidates) == k {
			break
		}
	}
	return candidates
}

// SimilarToReferences pools the neighborhoods of up to refLimit
// reference items. Each reference contributes a per-reference quota of
// nearest neighbors; an item observed from several references keeps its
// best similarity. Excluded ids are dropped even when the index returns
// them. Results are sorted by similarity, item id breaking ties, and
// truncated to k.
func (s *ContentRecallService) SimilarToReferences(ctx context.Context, refs []string, k int, exclude []string) []models.Candidate {
	if k <= 0 || len(refs) == 0 {
		return nil
	}
	if len(refs) > s.refLimit {
		refs = refs[:s.refLimit]
	}

	quota := k/len(refs) + 5

	excluded := make([]string, 0, len(refs)+len(exclude))
	excluded = append(excluded, refs...)
	excluded = append(excluded, exclude...)
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		skip[id] = true
	}

	best := make(map[string]float64)
	for _, ref := range refs {
		vec, ok := s.vectors.GetVector(ctx, ref)
		if !ok {
			continue
		}
		for _, m := range s.vectors.KNearest(ctx, vec, quota, excluded) {
			if skip[m.ItemID] {
				continue
			}
			if score, seen := best[m.ItemID]; !seen || m.Score > score {
				best[m.ItemID] = m.Score
			}
		}
	}
	if len(best) == 0 {
		return nil
	}

	candidates := make([]models.Candidate, 0, len(best))
	for itemID, score := range best {
		candidates = append(candidates, models.Candidate{
			ItemID:      itemID,
			Source:      models.SourceContent,
			RecallScore: score,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].RecallScore != candidates[j].RecallScore {
			return candidates[i].RecallScore > candidates[j].RecallScore
		}
		return candidates[i].ItemID < candidates[j].ItemID
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// ScoreCandidates computes each candidate's weighted mean similarity to
// the reference vectors, clamped to [0, 1]. Weights align with refs by
// position; when absent or mismatched, references weigh equally.
// References or candidates without an indexed vector contribute
// nothing, so a fully degraded index yields an empty map.
func (s *ContentRecallService) ScoreCandidates(ctx context.Context, candidateIDs, refs []string, weights []float64) map[string]float64 {
	if len(candidateIDs) == 0 || len(refs) == 0 {
		return nil
	}
	if len(refs) > s.refLimit {
		refs = refs[:s.refLimit]
		if len(weights) > s.refLimit {
			weights = weights[:s.refLimit]
		}
	}

	refVecs := s.vectors.GetVectors(ctx, refs)
	if len(refVecs) == 0 {
		return nil
	}

	type weightedRef struct {
		vec    []float64
		weight float64
	}
	used := make([]weightedRef, 0, len(refs))
	var weightSum float64
	for i, ref := range refs {
		vec, ok := refVecs[ref]
		if !ok {
			continue
		}
		w := 1.0
		if len(weights) == len(refs) {
			w = weights[i]
		}
		if w <= 0 {
			continue
		}
		used = append(used, weightedRef{vec: vec, weight: w})
		weightSum += w
	}
	if len(used) == 0 || weightSum == 0 {
		return nil
	}

	candVecs := s.vectors.GetVectors(ctx, candidateIDs)
	scores := make(map[string]float64, len(candVecs))
	for itemID, vec := range candVecs {
		var sum float64
		for _, ref := range used {
			if len(ref.vec) != len(vec) {
				continue
			}
			sum += ref.weight * floats.Dot(ref.vec, vec)
		}
		scores[itemID] = clampUnit(sum / weightSum)
	}
	return scores
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
