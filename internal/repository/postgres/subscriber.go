package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// SubscriberRepo implements materializer.RecipientSource against PostgreSQL.
// Stream pages through a list's active subscribers in id order using
// keyset pagination sized by the caller's adaptive cursor, mirroring
// work_records' own batch-at-a-time scan shape rather than loading a whole
// list into memory at once.
type SubscriberRepo struct{ db *sql.DB }

// NewSubscriberRepo creates a Postgres-backed subscriber repository.
func NewSubscriberRepo(db *sql.DB) *SubscriberRepo { return &SubscriberRepo{db: db} }

// Count returns the number of active (confirmed, non-bounced, non-
// complained) subscribers on a list.
func (r *SubscriberRepo) Count(ctx context.Context, listID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mailing_subscribers
		WHERE list_id = $1 AND status = $2
	`, listID, domain.SubscriberConfirmed).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscribers: %w", err)
	}
	return n, nil
}

// Stream walks a list's active subscribers in ascending id order, fetching
// cursorSize rows at a time and invoking fn for each. A non-nil fn error
// aborts the scan.
func (r *SubscriberRepo) Stream(ctx context.Context, listID string, cursorSize int, fn func(domain.Subscriber) error) error {
	if cursorSize <= 0 {
		cursorSize = 500
	}

	lastID := ""
	for {
		rows, err := r.db.QueryContext(ctx, `
			SELECT id, list_id, email, first_name, last_name, status, subscribed_at, unsubscribed_at
			FROM mailing_subscribers
			WHERE list_id = $1 AND status = $2 AND id > $3
			ORDER BY id
			LIMIT $4
		`, listID, domain.SubscriberConfirmed, lastID, cursorSize)
		if err != nil {
			return fmt.Errorf("stream subscribers: %w", err)
		}

		n := 0
		for rows.Next() {
			var s domain.Subscriber
			if err := rows.Scan(&s.ID, &s.ListID, &s.Email, &s.FirstName, &s.LastName, &s.Status, &s.SubscribedAt, &s.UnsubscribedAt); err != nil {
				rows.Close()
				return fmt.Errorf("scan subscriber: %w", err)
			}
			lastID = s.ID
			n++
			if err := fn(s); err != nil {
				rows.Close()
				return err
			}
		}
		closeErr := rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("stream subscribers: %w", err)
		}
		if closeErr != nil {
			return fmt.Errorf("stream subscribers: %w", closeErr)
		}
		if n < cursorSize {
			return nil
		}
	}
}
