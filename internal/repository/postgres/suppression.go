package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/sparkpost-monitor/internal/domain"
	store "github.com/ignite/sparkpost-monitor/internal/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL: the
// durable store the in-memory Suppression Store hydrates itself from.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) Get(ctx context.Context, email string) (*domain.Suppression, error) {
	s, err := scanSuppressionRow(r.db.QueryRowContext(ctx, `
		SELECT id, email, md5_hash, status, reason, source,
		       is_bounced, bounce_type, bounce_count, COALESCE(last_bounce_message,''),
		       COALESCE(dsn_code,''), COALESCE(dsn_diag,''), COALESCE(campaign_id,''), created_at
		FROM mailing_suppressions WHERE email = $1
	`, email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("suppression: get %s: %w", email, err)
	}
	return s, nil
}

// Suppress upserts a suppression entry, keyed by email. A bounce re-report
// for an already-suppressed email increments bounce_count rather than
// overwriting it, so repeated soft bounces accumulate toward escalation.
func (r *SuppressionRepo) Suppress(ctx context.Context, s *domain.Suppression) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	hash := s.MD5Hash
	if hash == "" {
		hash = store.MD5HashFromEmail(s.Email).ToHex()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_suppressions
			(id, email, md5_hash, status, reason, source,
			 is_bounced, bounce_type, bounce_count, last_bounce_message,
			 dsn_code, dsn_diag, campaign_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8,''), $9, NULLIF($10,''),
		        NULLIF($11,''), NULLIF($12,''), NULLIF($13,''), NOW())
		ON CONFLICT (email) DO UPDATE SET
			status = $4, reason = $5, source = $6,
			is_bounced = $7, bounce_type = NULLIF($8,''),
			bounce_count = mailing_suppressions.bounce_count + $9,
			last_bounce_message = COALESCE(NULLIF($10,''), mailing_suppressions.last_bounce_message),
			dsn_code = COALESCE(NULLIF($11,''), mailing_suppressions.dsn_code),
			dsn_diag = COALESCE(NULLIF($12,''), mailing_suppressions.dsn_diag)
	`, s.ID, s.Email, hash, s.Status, s.Reason, s.Source,
		s.Bounce.IsBounced, string(s.Bounce.BounceType), s.Bounce.BounceCount, s.Bounce.LastMessage,
		s.DSNCode, s.DSNDiag, s.CampaignID)
	if err != nil {
		return fmt.Errorf("suppression: suppress %s: %w", s.Email, err)
	}
	return nil
}

func (r *SuppressionRepo) Remove(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mailing_suppressions WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("suppression: remove %s: %w", email, err)
	}
	return nil
}

func (r *SuppressionRepo) List(ctx context.Context, f store.ListFilter) ([]domain.Suppression, int, error) {
	where := "WHERE ($1 = '' OR reason = $1) AND ($2 = '' OR email ILIKE '%' || $2 || '%')"

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mailing_suppressions `+where,
		string(f.Reason), f.Search,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("suppression: count: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
		if limit == 0 {
			limit = 1
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, md5_hash, status, reason, source,
		       is_bounced, bounce_type, bounce_count, COALESCE(last_bounce_message,''),
		       COALESCE(dsn_code,''), COALESCE(dsn_diag,''), COALESCE(campaign_id,''), created_at
		FROM mailing_suppressions `+where+`
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(f.Reason), f.Search, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("suppression: list: %w", err)
	}
	defer rows.Close()

	var out []domain.Suppression
	for rows.Next() {
		s, err := scanSuppressionRows(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("suppression: scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, total, nil
}

// AllActive loads every suppression row, the full set the in-memory
// Suppression Store hydrates its bloom filter and sorted hash array from.
func (r *SuppressionRepo) AllActive(ctx context.Context) ([]domain.Suppression, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, email, md5_hash, status, reason, source,
		       is_bounced, bounce_type, bounce_count, COALESCE(last_bounce_message,''),
		       COALESCE(dsn_code,''), COALESCE(dsn_diag,''), COALESCE(campaign_id,''), created_at
		FROM mailing_suppressions
	`)
	if err != nil {
		return nil, fmt.Errorf("suppression: all active: %w", err)
	}
	defer rows.Close()

	var out []domain.Suppression
	for rows.Next() {
		s, err := scanSuppressionRows(rows)
		if err != nil {
			return nil, fmt.Errorf("suppression: scan: %w", err)
		}
		out = append(out, *s)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSuppressionRow(row *sql.Row) (*domain.Suppression, error) {
	return scanSuppression(row)
}

func scanSuppressionRows(rows *sql.Rows) (*domain.Suppression, error) {
	return scanSuppression(rows)
}

func scanSuppression(sc scanner) (*domain.Suppression, error) {
	var s domain.Suppression
	var bounceType string
	if err := sc.Scan(
		&s.ID, &s.Email, &s.MD5Hash, &s.Status, &s.Reason, &s.Source,
		&s.Bounce.IsBounced, &bounceType, &s.Bounce.BounceCount, &s.Bounce.LastMessage,
		&s.DSNCode, &s.DSNDiag, &s.CampaignID, &s.CreatedAt,
	); err != nil {
		return nil, err
	}
	s.Bounce.BounceType = domain.BounceType(bounceType)
	return &s, nil
}
