package models

import "time"

// Event kinds accepted by the fast-path.
const (
	EventView      = "view"
	EventClick     = "click"
	EventAddToCart = "add_to_cart"
	EventPurchase  = "purchase"
	EventRate      = "rate"
)

type Event struct {
	UserID    string                 `json:"user_id" validate:"required"`
	ItemID    string                 `json:"item_id" validate:"required"`
	Type      string                 `json:"event_type" validate:"required,oneof=view click add_to_cart purchase rate"`
	Value     *float64               `json:"value,omitempty" validate:"omitempty,min=1,max=5"`
	SessionID string                 `json:"session_id,omitempty"`
	Timestamp time.Time              `json:"timestamp,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

type EventBatchRequest struct {
	Events []Event `json:"events" validate:"required,min=1,max=100,dive"`
}

// EnrichedEvent is an Event plus the catalog facts resolved on the
// fast path. It is the row shape of the durable interaction log and
// the payload published to the user-event stream.
type EnrichedEvent struct {
	ID string `json:"id"`
	Event
	Category string `json:"category,omitempty"`
	Brand    string `json:"brand,omitempty"`
}
