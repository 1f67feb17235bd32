package domain

import "time"

// SubscriberStatus enumerates the states a subscriber can be in. Only
// "confirmed" subscribers are eligible recipients for a campaign send; the
// remaining statuses mirror Suppression Store outcomes so the Materializer
// can pre-filter without a separate lookup when the customer store already
// knows the terminal reason.
type SubscriberStatus string

const (
	SubscriberConfirmed    SubscriberStatus = "confirmed"
	SubscriberUnconfirmed  SubscriberStatus = "unconfirmed"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberComplained   SubscriberStatus = "complained"
)

// Subscriber represents a single email recipient within a mailing list —
// the recipient source the Materializer streams over. Ownership of this
// store (CRUD, segment predicate evaluation) is an external collaborator;
// this type is the read contract the Materializer depends on.
type Subscriber struct {
	ID           string           `json:"id" db:"id"`
	ListID       string           `json:"list_id" db:"list_id"`
	Email        string           `json:"email" db:"email"`
	FirstName    string           `json:"first_name" db:"first_name"`
	LastName     string           `json:"last_name" db:"last_name"`
	Status       SubscriberStatus `json:"status" db:"status"`
	CustomFields map[string]any   `json:"custom_fields" db:"custom_fields"`

	SubscribedAt   time.Time  `json:"subscribed_at" db:"subscribed_at"`
	UnsubscribedAt *time.Time `json:"unsubscribed_at" db:"unsubscribed_at"`
}

// List represents a mailing list that holds subscribers.
type List struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	SubscriberCount int       `json:"subscriber_count" db:"subscriber_count"`
	ActiveCount     int       `json:"active_count" db:"active_count"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
