package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// EventRepo persists the append-only Event Log. Uniqueness on
// provider_event_id is sparse (NULL-distinct), so events without a
// provider-assigned id — the dispatcher's own `sent` events — never
// collide with each other.
type EventRepo struct{ db *sql.DB }

func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// Append inserts one event. A duplicate provider_event_id (the webhook path
// redelivering the same notification) is silently ignored.
func (r *EventRepo) Append(ctx context.Context, e *domain.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	var metadata []byte
	if e.Metadata != nil {
		var err error
		metadata, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("event: marshal metadata: %w", err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_events
			(id, campaign_id, customer_id, email, event_type, source,
			 provider_event_id, provider_message_id, event_date, metadata)
		VALUES ($1, $2, NULLIF($3,''), $4, $5, $6, NULLIF($7,''), NULLIF($8,''), $9, $10)
		ON CONFLICT (provider_event_id) WHERE provider_event_id IS NOT NULL DO NOTHING
	`, e.ID, e.CampaignID, e.CustomerID, e.Email, e.Type, e.Source,
		e.ProviderEventID, e.ProviderMessageID, e.EventDate, metadata)
	if err != nil {
		return fmt.Errorf("event: append: %w", err)
	}
	return nil
}

// UniqueCount returns the number of distinct recipient emails with the
// given event type for a campaign — the authoritative definition of
// "opened"/"clicked" the Campaign Registry uses when recomputing historical
// campaigns, as opposed to a raw event-row count which can double-count a
// recipient who opened twice.
func (r *EventRepo) UniqueCount(ctx context.Context, campaignID string, eventType domain.EventType) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT email) FROM campaign_events
		WHERE campaign_id = $1 AND event_type = $2
	`, campaignID, eventType).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("event: unique count: %w", err)
	}
	return count, nil
}
