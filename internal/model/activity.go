package model

import "time"

// Activity is a locally recorded push event, kept so the dashboard can
// show what arrived while the user was looking elsewhere.
type Activity struct {
	// ID is the local unique identifier for this entry.
	ID string `json:"id" db:"id"`

	// Domain is the queue the event belongs to.
	Domain Domain `json:"domain" db:"domain"`

	// ItemID is the backend id of the sale, refund, review or verification.
	ItemID string `json:"item_id" db:"item_id"`

	// Event is the realtime event name (e.g. "new_sale").
	Event string `json:"event" db:"event"`

	// Message is the human-readable summary.
	Message string `json:"message" db:"message"`

	// Read indicates whether the user has seen this entry.
	Read bool `json:"read" db:"read"`

	// CreatedAt is when the event was received.
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Checkpoint records the outcome of the last successful load of a queue.
type Checkpoint struct {
	Domain      Domain    `json:"domain" db:"domain"`
	LastChecked time.Time `json:"last_checked" db:"last_checked"`
	ItemCount   int       `json:"item_count" db:"item_count"`
	Pending     int       `json:"pending" db:"pending"`
	Unread      int       `json:"unread" db:"unread"`
}
