// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names.  Each event type has its own durable queue on the default
// exchange; the routing key equals the queue name.
const (
	RatingUpdatedQueue  = "rating.updated"
	SessionRevokedQueue = "session.revoked"
)

// RatingUpdatedEvent is published after a review write has committed and
// the product's aggregate rating was recomputed.
type RatingUpdatedEvent struct {
	EventID    string  `json:"event_id"`
	ProductID  uint64  `json:"product_id"`
	ReviewID   uint64  `json:"review_id"`
	Trigger    string  `json:"trigger"` // created | updated | deactivated
	Rating     float64 `json:"rating"`
	OccurredAt string  `json:"occurred_at"`
}

// SessionRevokedEvent is published when refresh tokens are removed for a
// reason other than rotation or expiry.
type SessionRevokedEvent struct {
	EventID    string `json:"event_id"`
	UserID     uint64 `json:"user_id"`
	Reason     string `json:"reason"` // logout | logout_all | deactivated | inactive_owner
	Tokens     int64  `json:"tokens"`
	OccurredAt string `json:"occurred_at"`
}
