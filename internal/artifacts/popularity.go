package artifacts

import (
	"sort"

	"github.com/parquet-go/parquet-go"
)

// Popularity carries the two precomputed sub-scores for an item, plus
// the raw statistics when the offline job exported them.
type Popularity struct {
	PopularityScore  float64
	RatingScore      float64
	InteractionCount int64
	MeanRating       float64
}

// PopularityEntry is one row of the popularity ranking used by the
// popularity recall branch.
type PopularityEntry struct {
	ItemID string
	Score  float64
}

type popularityRow struct {
	ItemID           string   `parquet:"item_id"`
	PopularityScore  float64  `parquet:"popularity_score"`
	RatingScore      float64  `parquet:"rating_score"`
	InteractionCount *int64   `parquet:"interaction_count,optional"`
	MeanRating       *float64 `parquet:"mean_rating,optional"`
}

func readPopularityTable(path string) (map[string]Popularity, []PopularityEntry, error) {
	rows, err := parquet.ReadFile[popularityRow](path)
	if err != nil {
		return nil, nil, &LoaderError{Path: path, Err: err}
	}

	table := make(map[string]Popularity, len(rows))
	for _, row := range rows {
		if row.ItemID == "" {
			return nil, nil, loaderErr(path, "row with empty item_id")
		}
		p := Popularity{
			PopularityScore: clamp01(row.PopularityScore),
			RatingScore:     clamp01(row.RatingScore),
		}
		if row.InteractionCount != nil {
			p.InteractionCount = *row.InteractionCount
		}
		if row.MeanRating != nil {
			p.MeanRating = *row.MeanRating
		}
		table[row.ItemID] = p
	}

	ranking := make([]PopularityEntry, 0, len(table))
	for itemID, p := range table {
		ranking = append(ranking, PopularityEntry{ItemID: itemID, Score: p.PopularityScore})
	}
	sort.Slice(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score > ranking[j].Score
		}
		return ranking[i].ItemID < ranking[j].ItemID
	})

	return table, ranking, nil
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
