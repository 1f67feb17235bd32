package domain

import "time"

// EventType enumerates the kinds of outcome and engagement events recorded
// in the append-only Event Log.
type EventType string

const (
	EventSent         EventType = "sent"
	EventDelivered    EventType = "delivered"
	EventOpened       EventType = "opened"
	EventClicked      EventType = "clicked"
	EventBounced      EventType = "bounced"
	EventFailed       EventType = "failed"
	EventComplained   EventType = "complained"
	EventUnsubscribed EventType = "unsubscribed"
	EventDelayed      EventType = "delayed"
	EventPurchased    EventType = "purchased"
)

// Event is a single append-only record in the Event Log. Events are never
// mutated after insert. ProviderEventID, when present, is the idempotency
// key for events arriving from the upstream provider's webhook.
type Event struct {
	ID                string                 `json:"id" db:"id"`
	CampaignID        string                 `json:"campaign_id" db:"campaign_id"`
	CustomerID        string                 `json:"customer_id,omitempty" db:"customer_id"`
	Email             string                 `json:"email" db:"email"`
	Type              EventType              `json:"type" db:"event_type"`
	Source            string                 `json:"source" db:"source"`
	ProviderEventID   string                 `json:"provider_event_id,omitempty" db:"provider_event_id"`
	ProviderMessageID string                 `json:"provider_message_id,omitempty" db:"provider_message_id"`
	EventDate         time.Time              `json:"event_date" db:"event_date"`
	Metadata          map[string]interface{} `json:"metadata,omitempty" db:"-"`
}
