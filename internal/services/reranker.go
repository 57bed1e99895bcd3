package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

// ReRankerService turns the ranker's output into the final diverse,
// deduplicated list. It is the only pipeline stage that reads the
// user's short-term context; when that read fails the context rules
// simply do not fire and the list passes through on model score alone.
type ReRankerService struct {
	context *ContextStore
	cfg     config.RerankConfig
	logger  *logrus.Logger
}

func NewReRankerService(contextStore *ContextStore, cfg config.RerankConfig, logger *logrus.Logger) *ReRankerService {
	return &ReRankerService{context: contextStore, cfg: cfg, logger: logger}
}

// ReRank applies, in order: per-item context adjustments (intent
// boost, recency penalty, low-review penalty), up to three diversity
// passes over the top 2n, and a single dedupe-and-truncate sweep that
// caps every category at MaxSameCategory in the final list. n
// defaults to the configured response length.
func (s *ReRankerService) ReRank(ctx context.Context, userID string, ranked []models.RankedItem, n int) []models.ReRankedItem {
	if n <= 0 {
		n = s.cfg.TopNFinal
	}
	items := make([]models.ReRankedItem, 0, len(ranked))
	if len(ranked) == 0 {
		return items
	}

	for _, r := range ranked {
		items = append(items, models.ReRankedItem{
			ItemID:        r.ItemID,
			RawScore:      r.Score,
			AdjustedScore: r.Score,
			Signals:       r.Signals,
		})
	}

	recentItems := s.context.RecentItems(ctx, userID)
	recentCategories := s.context.RecentCategories(ctx, userID)

	recentPos := make(map[string]int, len(recentItems))
	for pos, itemID := range recentItems {
		if _, seen := recentPos[itemID]; !seen {
			recentPos[itemID] = pos
		}
	}

	for i := range items {
		s.adjustItem(&items[i], recentPos, recentCategories)
	}

	s.diversify(items, n)

	return s.dedupeAndTruncate(items, n)
}

func (s *ReRankerService) adjustItem(item *models.ReRankedItem, recentPos map[string]int, recentCategories map[string]int) {
	category := itemCategory(item)

	if category != "" {
		if count := recentCategories[NormalizeCategory(category)]; count > 0 {
			boost := s.cfg.IntentBoostRate * float64(count)
			if boost > s.cfg.IntentBoostCap {
				boost = s.cfg.IntentBoostCap
			}
			item.AdjustedScore *= 1 + boost
			addTag(item, fmt.Sprintf("intent_boost(%s:+%d%%)", category, roundPercent(boost)))
		}
	}

	if pos, ok := recentPos[item.ItemID]; ok {
		multiplier := s.cfg.RecencyFarPenalty
		switch {
		case pos < s.cfg.RecencyNearThreshold:
			multiplier = s.cfg.RecencyNearPenalty
		case pos < s.cfg.RecencyMidThreshold:
			multiplier = s.cfg.RecencyMidPenalty
		}
		item.AdjustedScore *= multiplier
		addTag(item, fmt.Sprintf("recency_penalty(pos:%d)", pos))
	}

	if item.Signals != nil && item.Signals.RatingCount < s.cfg.LowReviewThreshold {
		item.AdjustedScore *= s.cfg.LowReviewPenalty
		addTag(item, fmt.Sprintf("popularity_floor(rating=%d)", item.Signals.RatingCount))
	}
}

// diversify sorts by adjusted score and penalizes category pileups in
// the top 2n window, re-sorting between passes so penalized items sink
// and make room. Passes stop early once a pass applies nothing.
func (s *ReRankerService) diversify(items []models.ReRankedItem, n int) {
	sortByAdjusted(items)

	window := 2 * n
	if window > len(items) {
		window = len(items)
	}
	if window == 0 {
		return
	}

	for pass := 0; pass < 3; pass++ {
		applied := false

		counts := make(map[string]int)
		for i := 0; i < window; i++ {
			if category := itemCategory(&items[i]); category != "" {
				counts[category]++
			}
		}

		for i := 0; i < window; i++ {
			category := itemCategory(&items[i])
			if category == "" {
				continue
			}
			// A lone occurrence never counts as a pileup, no matter
			// how small the window is.
			if counts[category] < 2 {
				continue
			}
			share := float64(counts[category]) / float64(window)
			if share > s.cfg.DiversityThreshold {
				items[i].AdjustedScore *= s.cfg.DiversityPenalty
				addTag(&items[i], fmt.Sprintf("diversity_penalty(%d%%)", roundPercent(share)))
				applied = true
			}
		}

		taken := make(map[string]int)
		for i := 0; i < window; i++ {
			category := itemCategory(&items[i])
			if category == "" {
				continue
			}
			taken[category]++
			if counts[category] > s.cfg.MaxSameCategory && taken[category] > s.cfg.MaxSameCategory {
				items[i].AdjustedScore *= s.cfg.CategoryLimitPenalty
				addTag(&items[i], fmt.Sprintf("category_limit_exceeded(%d)", counts[category]))
				applied = true
			}
		}

		if !applied {
			break
		}
		sortByAdjusted(items)
	}
}

// dedupeAndTruncate keeps the first occurrence of every item id and
// family, enforces the category cap as a hard limit, and assigns final
// rank positions.
func (s *ReRankerService) dedupeAndTruncate(items []models.ReRankedItem, n int) []models.ReRankedItem {
	result := make([]models.ReRankedItem, 0, n)
	seenItems := make(map[string]bool, len(items))
	seenFamilies := make(map[string]bool, len(items))
	perCategory := make(map[string]int)

	for _, item := range items {
		if len(result) == n {
			break
		}
		if seenItems[item.ItemID] {
			continue
		}
		family := item.Signals.Family(item.ItemID)
		if seenFamilies[family] {
			continue
		}
		category := itemCategory(&item)
		if category != "" && s.cfg.MaxSameCategory > 0 && perCategory[category] >= s.cfg.MaxSameCategory {
			continue
		}

		seenItems[item.ItemID] = true
		seenFamilies[family] = true
		if category != "" {
			perCategory[category]++
		}
		item.Rank = len(result) + 1
		result = append(result, item)
	}
	return result
}

func sortByAdjusted(items []models.ReRankedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].AdjustedScore > items[j].AdjustedScore
	})
}

func itemCategory(item *models.ReRankedItem) string {
	if item.Signals == nil {
		return ""
	}
	return item.Signals.Category
}

// addTag keeps RuleTags an ordered set; repeated passes of the same
// rule with the same rendering do not duplicate the tag.
func addTag(item *models.ReRankedItem, tag string) {
	for _, existing := range item.RuleTags {
		if existing == tag {
			return
		}
	}
	item.RuleTags = append(item.RuleTags, tag)
}

func roundPercent(fraction float64) int {
	return int(math.Round(fraction * 100))
}
