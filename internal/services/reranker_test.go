package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veltrix/recast/internal/config"
	"github.com/veltrix/recast/pkg/models"
)

func defaultRerankConfig() config.RerankConfig {
	return config.RerankConfig{
		TopNFinal:            20,
		IntentBoostRate:      0.08,
		IntentBoostCap:       0.40,
		RecencyNearThreshold: 5,
		RecencyMidThreshold:  10,
		RecencyNearPenalty:   0.2,
		RecencyMidPenalty:    0.4,
		RecencyFarPenalty:    0.6,
		DiversityThreshold:   0.25,
		DiversityPenalty:     0.7,
		MaxSameCategory:      4,
		CategoryLimitPenalty: 0.5,
		LowReviewThreshold:   5,
		LowReviewPenalty:     0.9,
	}
}

func newReRankerTest(t *testing.T, cfg config.RerankConfig) (*miniredis.Miniredis, *ContextStore, *ReRankerService) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	contextStore := NewContextStore(client, config.ContextConfig{
		TTL:              900 * time.Second,
		RecentItemsLimit: 20,
		ReferenceLimit:   10,
	}, testLogger())
	return mr, contextStore, NewReRankerService(contextStore, cfg, testLogger())
}

func TestReRankIntentBoost(t *testing.T) {
	ctx := context.Background()

	t.Run("boost follows the category counter", func(t *testing.T) {
		_, contextStore, reranker := newReRankerTest(t, defaultRerankConfig())

		for _, itemID := range []string{"XA", "XB", "XC"} {
			require.NoError(t, contextStore.TouchRecent(ctx, "u-1", itemID, "Electronics"))
		}

		ranked := []models.RankedItem{
			{ItemID: "I9", Score: 0.400, Signals: &models.RawSignals{Category: "Electronics", RatingCount: 10}},
		}

		result := reranker.ReRank(ctx, "u-1", ranked, 5)
		require.Len(t, result, 1)

		assert.InDelta(t, 0.400, result[0].RawScore, 1e-9)
		assert.InDelta(t, 0.496, result[0].AdjustedScore, 1e-9)
		assert.Contains(t, result[0].RuleTags, "intent_boost(Electronics:+24%)")
	})

	t.Run("boost caps at forty percent", func(t *testing.T) {
		_, contextStore, reranker := newReRankerTest(t, defaultRerankConfig())

		for i := 0; i < 6; i++ {
			require.NoError(t, contextStore.TouchRecent(ctx, "u-1", "X"+string(rune('A'+i)), "Electronics"))
		}

		ranked := []models.RankedItem{
			{ItemID: "I9", Score: 0.5, Signals: &models.RawSignals{Category: "Electronics", RatingCount: 10}},
		}

		result := reranker.ReRank(ctx, "u-1", ranked, 5)
		require.Len(t, result, 1)

		assert.InDelta(t, 0.7, result[0].AdjustedScore, 1e-9)
		assert.Contains(t, result[0].RuleTags, "intent_boost(Electronics:+40%)")
	})

	t.Run("counter matching is case and width insensitive", func(t *testing.T) {
		_, contextStore, reranker := newReRankerTest(t, defaultRerankConfig())

		require.NoError(t, contextStore.TouchRecent(ctx, "u-1", "XA", " ELECTRONICS "))

		ranked := []models.RankedItem{
			{ItemID: "I9", Score: 0.5, Signals: &models.RawSignals{Category: "Electronics", RatingCount: 10}},
		}

		result := reranker.ReRank(ctx, "u-1", ranked, 5)
		require.Len(t, result, 1)
		assert.InDelta(t, 0.54, result[0].AdjustedScore, 1e-9)
		assert.Contains(t, result[0].RuleTags, "intent_boost(Electronics:+8%)")
	})
}

func TestReRankRecencyPenalty(t *testing.T) {
	ctx := context.Background()
	_, contextStore, reranker := newReRankerTest(t, defaultRerankConfig())

	// recent_items ends up [I3, I2, I1], newest first.
	for _, itemID := range []string{"I1", "I2", "I3"} {
		require.NoError(t, contextStore.TouchRecent(ctx, "u-1", itemID, ""))
	}

	ranked := []models.RankedItem{
		{ItemID: "I1", Score: 0.90},
		{ItemID: "I2", Score: 0.80},
		{ItemID: "I3", Score: 0.70},
		{ItemID: "IZ", Score: 0.30},
	}

	result := reranker.ReRank(ctx, "u-1", ranked, 10)
	require.Len(t, result, 4)

	// Every recent item collapses under the 0.2 multiplier, so the
	// unseen item overtakes them all.
	assert.Equal(t, "IZ", result[0].ItemID)
	assert.InDelta(t, 0.30, result[0].AdjustedScore, 1e-9)

	assert.Equal(t, "I1", result[1].ItemID)
	assert.InDelta(t, 0.18, result[1].AdjustedScore, 1e-9)
	assert.Contains(t, result[1].RuleTags, "recency_penalty(pos:2)")

	assert.Equal(t, "I2", result[2].ItemID)
	assert.InDelta(t, 0.16, result[2].AdjustedScore, 1e-9)

	assert.Equal(t, "I3", result[3].ItemID)
	assert.InDelta(t, 0.14, result[3].AdjustedScore, 1e-9)
	assert.Contains(t, result[3].RuleTags, "recency_penalty(pos:0)")
}

func TestReRankRecencyTiers(t *testing.T) {
	ctx := context.Background()
	_, contextStore, reranker := newReRankerTest(t, defaultRerankConfig())

	// Twelve touches: positions 0..11 with item12 newest.
	for i := 1; i <= 12; i++ {
		require.NoError(t, contextStore.TouchRecent(ctx, "u-1", itemName(i), ""))
	}

	ranked := []models.RankedItem{
		{ItemID: itemName(12), Score: 0.5}, // position 0, near
		{ItemID: itemName(5), Score: 0.5},  // position 7, mid
		{ItemID: itemName(1), Score: 0.5},  // position 11, far
	}

	result := reranker.ReRank(ctx, "u-1", ranked, 10)
	require.Len(t, result, 3)

	byID := make(map[string]models.ReRankedItem, len(result))
	for _, item := range result {
		byID[item.ItemID] = item
	}

	assert.InDelta(t, 0.10, byID[itemName(12)].AdjustedScore, 1e-9)
	assert.InDelta(t, 0.20, byID[itemName(5)].AdjustedScore, 1e-9)
	assert.InDelta(t, 0.30, byID[itemName(1)].AdjustedScore, 1e-9)
}

func itemName(i int) string {
	return "item" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestReRankLowReviewPenalty(t *testing.T) {
	ctx := context.Background()
	_, _, reranker := newReRankerTest(t, defaultRerankConfig())

	ranked := []models.RankedItem{
		{ItemID: "IA", Score: 0.5, Signals: &models.RawSignals{RatingCount: 3}},
		{ItemID: "IB", Score: 0.5, Signals: &models.RawSignals{RatingCount: 50}},
	}

	result := reranker.ReRank(ctx, "u-1", ranked, 10)
	require.Len(t, result, 2)

	assert.Equal(t, "IB", result[0].ItemID)
	assert.InDelta(t, 0.5, result[0].AdjustedScore, 1e-9)
	assert.Empty(t, result[0].RuleTags)

	assert.Equal(t, "IA", result[1].ItemID)
	assert.InDelta(t, 0.45, result[1].AdjustedScore, 1e-9)
	assert.Contains(t, result[1].RuleTags, "popularity_floor(rating=3)")
}

func TestReRankDiversityPenalizesDominantCategory(t *testing.T) {
	ctx := context.Background()
	_, _, reranker := newReRankerTest(t, defaultRerankConfig())

	beauty := func(id string, score float64) models.RankedItem {
		return models.RankedItem{ItemID: id, Score: score,
			Signals: &models.RawSignals{Category: "Beauty", RatingCount: 10}}
	}

	ranked := []models.RankedItem{
		beauty("B1", 0.9),
		beauty("B2", 0.8),
		beauty("B3", 0.7),
		{ItemID: "T1", Score: 0.6, Signals: &models.RawSignals{Category: "Tools", RatingCount: 10}},
	}

	// n=2 puts all four in the diversity window; Beauty holds 75% of
	// it and keeps the 0.7 multiplier until the passes run out.
	result := reranker.ReRank(ctx, "u-1", ranked, 2)
	require.Len(t, result, 2)

	assert.Equal(t, "T1", result[0].ItemID)
	assert.InDelta(t, 0.6, result[0].AdjustedScore, 1e-9)
	assert.Empty(t, result[0].RuleTags)

	assert.Equal(t, "B1", result[1].ItemID)
	assert.InDelta(t, 0.9*0.7*0.7*0.7, result[1].AdjustedScore, 1e-9)
	assert.Contains(t, result[1].RuleTags, "diversity_penalty(75%)")
}

func TestReRankCategoryCapBoundsFinalList(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRerankConfig()
	cfg.MaxSameCategory = 2
	cfg.DiversityThreshold = 1.1 // isolate the absolute cap
	_, _, reranker := newReRankerTest(t, cfg)

	beauty := func(id string, score float64) models.RankedItem {
		return models.RankedItem{ItemID: id, Score: score,
			Signals: &models.RawSignals{Category: "Beauty", RatingCount: 10}}
	}

	ranked := []models.RankedItem{
		beauty("B1", 0.9),
		beauty("B2", 0.8),
		beauty("B3", 0.7),
		beauty("B4", 0.6),
	}

	// Even with four slots requested, the final list never carries
	// more than two Beauty items; it comes back short instead.
	result := reranker.ReRank(ctx, "u-1", ranked, 4)
	require.Len(t, result, 2)
	assert.Equal(t, "B1", result[0].ItemID)
	assert.Equal(t, "B2", result[1].ItemID)
	assert.Empty(t, result[0].RuleTags)
	assert.Empty(t, result[1].RuleTags)
	assert.Equal(t, 1, result[0].Rank)
	assert.Equal(t, 2, result[1].Rank)
}

func TestReRankFamilyDedupe(t *testing.T) {
	ctx := context.Background()
	_, _, reranker := newReRankerTest(t, defaultRerankConfig())

	ranked := []models.RankedItem{
		{ItemID: "IA", Score: 0.9, Signals: &models.RawSignals{FamilyID: "F", RatingCount: 10}},
		{ItemID: "IB", Score: 0.8, Signals: &models.RawSignals{RatingCount: 10}},
		{ItemID: "IC", Score: 0.7, Signals: &models.RawSignals{FamilyID: "F", RatingCount: 10}},
		{ItemID: "ID", Score: 0.6, Signals: &models.RawSignals{RatingCount: 10}},
	}

	result := reranker.ReRank(ctx, "u-1", ranked, 3)
	require.Len(t, result, 3)

	assert.Equal(t, "IA", result[0].ItemID)
	assert.Equal(t, "IB", result[1].ItemID)
	assert.Equal(t, "ID", result[2].ItemID)
	assert.Equal(t, []int{1, 2, 3}, []int{result[0].Rank, result[1].Rank, result[2].Rank})
}

func TestReRankEmptyInput(t *testing.T) {
	ctx := context.Background()
	_, _, reranker := newReRankerTest(t, defaultRerankConfig())

	result := reranker.ReRank(ctx, "u-1", nil, 5)
	require.NotNil(t, result)
	assert.Len(t, result, 0)
}

func TestReRankDegradesWithoutContext(t *testing.T) {
	ctx := context.Background()
	mr, contextStore, reranker := newReRankerTest(t, defaultRerankConfig())

	require.NoError(t, contextStore.TouchRecent(ctx, "u-1", "I1", "Electronics"))
	mr.Close()

	ranked := []models.RankedItem{
		{ItemID: "I1", Score: 0.9, Signals: &models.RawSignals{Category: "Electronics", RatingCount: 10}},
	}

	result := reranker.ReRank(ctx, "u-1", ranked, 5)
	require.Len(t, result, 1)

	// Context rules fall away; the score passes through untouched.
	assert.InDelta(t, 0.9, result[0].AdjustedScore, 1e-9)
	assert.Empty(t, result[0].RuleTags)
}
