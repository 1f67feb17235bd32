package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/service/campaign"
)

// CampaignRepo implements campaign.Repository against PostgreSQL.
type CampaignRepo struct{ db *sql.DB }

// NewCampaignRepo creates a Postgres-backed campaign repository.
func NewCampaignRepo(db *sql.DB) *CampaignRepo { return &CampaignRepo{db: db} }

func (r *CampaignRepo) Get(ctx context.Context, id string) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	var stats domain.CampaignStats
	err := r.db.QueryRowContext(ctx, `
		SELECT id, list_id, name, subject, from_name, from_email,
		       COALESCE(reply_to,''), COALESCE(html_content,''), COALESCE(preview_text,''),
		       status, total_recipients, sent_count, delivered_count, failed_count,
		       skipped_count, bounce_count, open_count, click_count,
		       complaint_count, unsubscribe_count, COALESCE(stats_error,''),
		       started_at, completed_at, created_at, updated_at
		FROM mailing_campaigns
		WHERE id = $1
	`, id).Scan(
		&c.ID, &c.ListID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail,
		&c.ReplyTo, &c.HTMLContent, &c.PreviewText,
		&c.Status, &stats.TotalRecipients, &stats.Sent, &stats.Delivered, &stats.Failed,
		&stats.Skipped, &stats.Bounced, &stats.Opened, &stats.Clicked,
		&stats.Complained, &stats.Unsubscribed, &stats.Error,
		&c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, campaign.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	c.Stats = stats
	return c, nil
}

func (r *CampaignRepo) List(ctx context.Context, f campaign.ListFilter) ([]domain.Campaign, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	countQ := `SELECT COUNT(*) FROM mailing_campaigns WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if f.Status != "" {
		countQ += fmt.Sprintf(" AND status = $%d", idx)
		args = append(args, f.Status)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count campaigns: %w", err)
	}

	q := `
		SELECT id, name, subject, from_name, from_email, status,
		       total_recipients, sent_count, delivered_count, open_count, click_count, created_at
		FROM mailing_campaigns WHERE 1=1`

	qArgs := []interface{}{}
	qIdx := 1
	if f.Status != "" {
		q += fmt.Sprintf(" AND status = $%d", qIdx)
		qArgs = append(qArgs, f.Status)
		qIdx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", qIdx, qIdx+1)
	qArgs = append(qArgs, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, qArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		var c domain.Campaign
		var stats domain.CampaignStats
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Subject, &c.FromName, &c.FromEmail, &c.Status,
			&stats.TotalRecipients, &stats.Sent, &stats.Delivered, &stats.Opened, &stats.Clicked, &c.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan campaign: %w", err)
		}
		c.Stats = stats
		out = append(out, c)
	}
	return out, total, nil
}

func (r *CampaignRepo) Create(ctx context.Context, c *domain.Campaign) (string, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_campaigns
			(id, list_id, name, subject, from_name, from_email,
			 html_content, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`, c.ID, c.ListID, c.Name, c.Subject,
		c.FromName, c.FromEmail, c.HTMLContent, c.Status)
	if err != nil {
		return "", fmt.Errorf("create campaign: %w", err)
	}
	return c.ID, nil
}

func (r *CampaignRepo) Update(ctx context.Context, id string, u campaign.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Name != nil {
		add("name", *u.Name)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.FromName != nil {
		add("from_name", *u.FromName)
	}
	if u.FromEmail != nil {
		add("from_email", *u.FromEmail)
	}
	if u.HTMLContent != nil {
		add("html_content", *u.HTMLContent)
	}
	if u.PreviewText != nil {
		add("preview_text", *u.PreviewText)
	}
	if u.ScheduledAt != nil {
		add("scheduled_at", *u.ScheduledAt)
	}

	if len(sets) == 0 {
		return nil
	}

	add("updated_at", "NOW()")
	q := fmt.Sprintf("UPDATE mailing_campaigns SET %s WHERE id = $%d",
		strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM mailing_campaigns
		WHERE id = $1 AND status IN ('draft','cancelled')
	`, id)
	if err != nil {
		return fmt.Errorf("delete campaign: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (r *CampaignRepo) UpdateStatus(ctx context.Context, id string, status domain.CampaignStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns SET status = $1, updated_at = NOW()
		WHERE id = $2
	`, status, id)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// RecordSendError rolls a campaign back to draft and records why
// materialization failed before any work record was created.
func (r *CampaignRepo) RecordSendError(ctx context.Context, id string, errMsg string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns
		SET status = $1, stats_error = $2, updated_at = NOW()
		WHERE id = $3
	`, domain.CampaignDraft, errMsg, id)
	if err != nil {
		return fmt.Errorf("record send error: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// SetTotalRecipients seeds stats.totalRecipients when the Materializer
// resolves the recipient count at the start of a send.
func (r *CampaignRepo) SetTotalRecipients(ctx context.Context, id string, total int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns SET total_recipients = $1, started_at = NOW(), updated_at = NOW()
		WHERE id = $2
	`, total, id)
	if err != nil {
		return fmt.Errorf("set total recipients: %w", err)
	}
	return nil
}

// MarkSent finalizes a campaign: transitions sending->sent, stamps
// completedAt, and persists the stats counters the Completion Monitor
// recomputed from the WRS. CAS-gated on status=sending so a second
// completion-monitor pass (periodic sweep racing a per-batch trigger)
// cannot double-finalize.
func (r *CampaignRepo) MarkSent(ctx context.Context, id string, stats domain.CampaignStats) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mailing_campaigns
		SET status = $1, completed_at = COALESCE(completed_at, NOW()),
		    sent_count = $2, delivered_count = $3, failed_count = $4,
		    skipped_count = $5, bounce_count = $6, updated_at = NOW()
		WHERE id = $7 AND status = $8
	`, domain.CampaignSent, stats.Sent, stats.Delivered, stats.Failed,
		stats.Skipped, stats.Bounced, id, domain.CampaignSending)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

// statColumns whitelists the counters IncrementStat may touch, so a column
// name can never reach the query string except through this fixed set.
var statColumns = map[string]bool{
	"sent_count": true, "failed_count": true, "skipped_count": true,
}

// IncrementStat atomically bumps a single dispatch-time counter column.
// column must be one of the Dispatcher's own counters (sent_count,
// failed_count, skipped_count); the external event-webhook path uses its
// own conditional-write logic instead of this method.
func (r *CampaignRepo) IncrementStat(ctx context.Context, id string, column string, delta int) error {
	if !statColumns[column] {
		return fmt.Errorf("increment stat: unknown column %q", column)
	}
	q := fmt.Sprintf(`UPDATE mailing_campaigns SET %s = %s + $1, updated_at = NOW() WHERE id = $2`, column, column)
	_, err := r.db.ExecContext(ctx, q, delta, id)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	return nil
}

// ListSending returns the ids of every campaign currently in the sending
// status, the candidate set the Completion Monitor's periodic sweep checks.
func (r *CampaignRepo) ListSending(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM mailing_campaigns WHERE status = $1`, domain.CampaignSending)
	if err != nil {
		return nil, fmt.Errorf("list sending campaigns: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan sending campaign id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
