package models

// Product is the catalog record the core reads per item for the final
// response join and for event enrichment.
type Product struct {
	ItemID      string  `json:"item_id" db:"item_id"`
	FamilyID    string  `json:"family_id,omitempty" db:"family_id"`
	Title       string  `json:"title" db:"title"`
	Category    string  `json:"category" db:"category"`
	Brand       string  `json:"brand,omitempty" db:"brand"`
	AvgRating   float64 `json:"avg_rating" db:"avg_rating"`
	RatingCount int     `json:"rating_count" db:"rating_count"`
	ImageURL    string  `json:"image_url,omitempty" db:"image_url"`
}
