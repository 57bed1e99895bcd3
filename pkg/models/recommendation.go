package models

import "time"

// Candidate sources, in merge priority order. SourceCategory never
// enters the merge; it marks the top-rated category fallback used when
// similar-item recall comes back empty.
const (
	SourceLatent     = "latent"
	SourceContent    = "content"
	SourcePopularity = "popularity"
	SourceCategory   = "category"
)

// RawSignals is the fixed catalog-side bundle carried with a candidate
// through ranking and re-ranking. Only the fields the pipeline consumes
// survive the boundary; everything else is dropped.
type RawSignals struct {
	Category    string  `json:"category,omitempty"`
	FamilyID    string  `json:"family_id,omitempty"`
	AvgRating   float64 `json:"avg_rating,omitempty"`
	RatingCount int     `json:"rating_count,omitempty"`
}

// Family returns the dedupe key: the known family id, or the item's own
// id when no family is known.
func (s *RawSignals) Family(itemID string) string {
	if s != nil && s.FamilyID != "" {
		return s.FamilyID
	}
	return itemID
}

type Candidate struct {
	ItemID      string      `json:"item_id"`
	Source      string      `json:"source"`
	RecallScore float64     `json:"recall_score"`
	Signals     *RawSignals `json:"signals,omitempty"`
}

type RankedItem struct {
	ItemID  string      `json:"item_id"`
	Score   float64     `json:"score"`
	Rank    int         `json:"rank"`
	Signals *RawSignals `json:"signals,omitempty"`
}

type ReRankedItem struct {
	ItemID        string      `json:"item_id"`
	RawScore      float64     `json:"raw_score"`
	AdjustedScore float64     `json:"adjusted_score"`
	Rank          int         `json:"rank"`
	RuleTags      []string    `json:"rule_tags,omitempty"`
	Signals       *RawSignals `json:"-"`
}

type RecommendationRequest struct {
	UserID     string   `json:"user_id" validate:"required"`
	Count      int      `json:"count" validate:"min=0,max=100"`
	References []string `json:"references,omitempty" validate:"max=10"`
	Exclude    []string `json:"exclude,omitempty" validate:"max=100"`
	Seed       int64    `json:"seed,omitempty"`
}

type SimilarItemsRequest struct {
	UserID string `json:"user_id,omitempty"`
	Anchor string `json:"anchor" validate:"required"`
	Count  int    `json:"count" validate:"min=0,max=100"`
}

type RecommendedItem struct {
	ItemID   string   `json:"item_id"`
	Title    string   `json:"title,omitempty"`
	Category string   `json:"category,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	Score    float64  `json:"score"`
	Rank     int      `json:"rank"`
	Reasons  []string `json:"reasons,omitempty"`
}

type RecommendationResponse struct {
	UserID      string            `json:"user_id"`
	Items       []RecommendedItem `json:"items"`
	Mode        string            `json:"mode"`
	GeneratedAt time.Time         `json:"generated_at"`
}

type SimilarItemsResponse struct {
	AnchorID    string            `json:"anchor_id"`
	Items       []RecommendedItem `json:"items"`
	Fallback    bool              `json:"fallback,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}
