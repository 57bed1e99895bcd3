package services

import (
	"context"
	"math/rand"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"github.com/veltrix/recast/internal/artifacts"
	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

// RecallRequest describes one recall pass. Anchor selects the
// similar-item neighborhood; References select the pooled neighborhood
// used on the home surface. Exclusions are never returned by any
// branch. ContentOnly skips the latent and popularity branches, which
// is how the similar-items rail stays anchored to one product.
type RecallRequest struct {
	UserID      string
	Anchor      string
	References  []string
	Exclusions  []string
	Seed        int64
	ContentOnly bool
}

// CandidateRecallService produces the merged candidate set feeding the
// ranking stages. The latent and popularity branches are pure reads of
// the loaded artifacts; only the content branch performs I/O.
type CandidateRecallService struct {
	store   *artifacts.Store
	content *ContentRecallService
	cfg     config.RecallConfig
	logger  *logrus.Logger
}

func NewCandidateRecallService(store *artifacts.Store, content *ContentRecallService, cfg config.RecallConfig, logger *logrus.Logger) *CandidateRecallService {
	return &CandidateRecallService{store: store, content: content, cfg: cfg, logger: logger}
}

// Recall runs the latent, popularity and content branches and merges
// them latent first, content second, popularity last, keeping the first
// occurrence of every item. Later branches already exclude what earlier
// branches selected, so the candidate set stays wide instead of
// re-recommending the same items three times.
func (s *CandidateRecallService) Recall(ctx context.Context, req *RecallRequest) []models.Candidate {
	if req.ContentOnly {
		content := s.contentCandidates(ctx, req, req.Exclusions)
		recordRecallYield(0, len(content), 0)
		return mergeCandidates(content)
	}

	excluded := make(map[string]bool, len(req.Exclusions))
	for _, itemID := range req.Exclusions {
		excluded[itemID] = true
	}

	latent := s.latentCandidates(req.UserID, excluded)

	taken := make(map[string]bool, len(latent))
	for _, c := range latent {
		taken[c.ItemID] = true
	}

	popular := s.popularityCandidates(req.Seed, excluded, taken)

	contentExclude := make([]string, 0, len(req.Exclusions)+len(latent)+len(popular))
	contentExclude = append(contentExclude, req.Exclusions...)
	for _, c := range latent {
		contentExclude = append(contentExclude, c.ItemID)
	}
	for _, c := range popular {
		contentExclude = append(contentExclude, c.ItemID)
	}
	content := s.contentCandidates(ctx, req, contentExclude)

	recordRecallYield(len(latent), len(content), len(popular))
	return mergeCandidates(latent, content, popular)
}

// latentCandidates scores every item against the user's factor vector
// and keeps the top K. Users outside the factorization contribute no
// latent candidates; cold starts ride on the other branches.
func (s *CandidateRecallService) latentCandidates(userID string, excluded map[string]bool) []models.Candidate {
	if s.cfg.KLatent <= 0 {
		return nil
	}

	userVec, ok := s.store.UserVector(userID)
	if !ok {
		return nil
	}

	items := s.store.ItemFactors()
	rows, _ := items.Dims()

	scores := mat.NewVecDense(rows, nil)
	scores.MulVec(items, userVec)

	type scoredItem struct {
		itemID string
		score  float64
	}
	ranked := make([]scoredItem, 0, rows)
	for row := 0; row < rows; row++ {
		itemID := s.store.ItemOfRow(row)
		if excluded[itemID] {
			continue
		}
		ranked = append(ranked, scoredItem{itemID: itemID, score: scores.AtVec(row)})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if len(ranked) > s.cfg.KLatent {
		ranked = ranked[:s.cfg.KLatent]
	}
	candidates := make([]models.Candidate, 0, len(ranked))
	for _, r := range ranked {
		candidates = append(candidates, models.Candidate{
			ItemID:      r.itemID,
			Source:      models.SourceLatent,
			RecallScore: r.score,
		})
	}
	return candidates
}

// popularityCandidates walks the precomputed ranking, buffers twice the
// branch size, keeps the head in order and shuffles the tail with the
// request seed. The shuffle trades a little headroom for exploration
// while the head keeps the strongest sellers deterministic.
func (s *CandidateRecallService) popularityCandidates(seed int64, excluded, taken map[string]bool) []models.Candidate {
	k := s.cfg.KPopularity
	if k <= 0 {
		return nil
	}

	buffer := make([]artifacts.PopularityEntry, 0, 2*k)
	for _, entry := range s.store.PopularityRanking() {
		if excluded[entry.ItemID] || taken[entry.ItemID] {
			continue
		}
		buffer = append(buffer, entry)
		if len(buffer) == 2*k {
			break
		}
	}
	if len(buffer) == 0 {
		return nil
	}

	keep := int(s.cfg.PopularityKeepRatio * float64(len(buffer)))
	if keep < 0 {
		keep = 0
	}
	if keep > len(buffer) {
		keep = len(buffer)
	}

	tail := buffer[keep:]
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(tail), func(i, j int) { tail[i], tail[j] = tail[j], tail[i] })

	if len(buffer) > k {
		buffer = buffer[:k]
	}

	candidates := make([]models.Candidate, 0, len(buffer))
	for _, entry := range buffer {
		candidates = append(candidates, models.Candidate{
			ItemID:      entry.ItemID,
			Source:      models.SourcePopularity,
			RecallScore: entry.Score,
		})
	}
	return candidates
}

func (s *CandidateRecallService) contentCandidates(ctx context.Context, req *RecallRequest, exclude []string) []models.Candidate {
	if s.cfg.KContent <= 0 {
		return nil
	}
	if req.Anchor != "" {
		return s.content.SimilarToAnchor(ctx, req.Anchor, s.cfg.KContent, exclude)
	}
	if len(req.References) > 0 {
		return s.content.SimilarToReferences(ctx, req.References, s.cfg.KContent, exclude)
	}
	return nil
}

// mergeCandidates concatenates the branch outputs keeping the first
// occurrence of each item. The result is never nil; an empty recall is
// an empty list.
func mergeCandidates(lists ...[]models.Candidate) []models.Candidate {
	total := 0
	for _, list := range lists {
		total += len(list)
	}

	merged := make([]models.Candidate, 0, total)
	seen := make(map[string]bool, total)
	for _, list := range lists {
		for _, c := range list {
			if seen[c.ItemID] {
				continue
			}
			seen[c.ItemID] = true
			merged = append(merged, c)
		}
	}
	return merged
}
