package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/wrs"
)

// WorkRecordRepo implements wrs.Store against PostgreSQL. Every status
// transition is a single conditional UPDATE — `UPDATE ... WHERE status = ... AND
// locked_by = ...` — carried directly from the claim-by-row-lock pattern
// the send worker uses for batch rows, narrowed here to per-recipient scope.
type WorkRecordRepo struct{ db *sql.DB }

func NewWorkRecordRepo(db *sql.DB) *WorkRecordRepo { return &WorkRecordRepo{db: db} }

// UpsertPending bulk-inserts via a COPY into a temporary staging table
// followed by an INSERT ... ON CONFLICT DO NOTHING, the same COPY-for-speed
// approach the bulk campaign enqueuer uses, adapted here to tolerate
// duplicate fingerprints across re-materialization passes instead of
// assuming a clean insert.
func (r *WorkRecordRepo) UpsertPending(ctx context.Context, inputs []wrs.UpsertInput) (int, error) {
	if len(inputs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("wrs: begin upsert tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		CREATE TEMP TABLE work_record_staging (
			fingerprint TEXT, campaign_id TEXT, email TEXT, customer_id TEXT, body TEXT
		) ON COMMIT DROP
	`); err != nil {
		return 0, fmt.Errorf("wrs: create staging table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("work_record_staging",
		"fingerprint", "campaign_id", "email", "customer_id", "body"))
	if err != nil {
		return 0, fmt.Errorf("wrs: prepare copy: %w", err)
	}

	for _, in := range inputs {
		if _, err := stmt.ExecContext(ctx, in.Fingerprint, in.CampaignID, in.Email, in.CustomerID, in.Body); err != nil {
			stmt.Close()
			return 0, fmt.Errorf("wrs: copy row: %w", err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return 0, fmt.Errorf("wrs: flush copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return 0, fmt.Errorf("wrs: close copy: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO work_records (fingerprint, campaign_id, email, customer_id, body, status, attempts, created_at, updated_at)
		SELECT fingerprint, campaign_id, email, NULLIF(customer_id, ''), body, 'pending', 0, NOW(), NOW()
		FROM work_record_staging
		ON CONFLICT (fingerprint) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("wrs: upsert from staging: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("wrs: commit upsert: %w", err)
	}
	return int(n), nil
}

func (r *WorkRecordRepo) ClaimForProcessing(ctx context.Context, fingerprint, workerID string, lockTTL time.Duration) (*domain.WorkRecord, error) {
	row := &domain.WorkRecord{}
	err := r.db.QueryRowContext(ctx, `
		UPDATE work_records
		SET status = 'sending', locked_by = $1, locked_at = NOW(), updated_at = NOW()
		WHERE fingerprint = $2
		  AND (
		        status IN ('pending', 'failed')
		        OR (status = 'sending' AND locked_at < NOW() - ($3 || ' seconds')::interval)
		      )
		RETURNING fingerprint, campaign_id, email, COALESCE(customer_id,''), COALESCE(body,''), status, attempts,
		          COALESCE(locked_by,''), locked_at, COALESCE(external_message_id,''),
		          COALESCE(last_error,''), skipped_at, created_at, updated_at
	`, workerID, fingerprint, int(lockTTL.Seconds())).Scan(
		&row.Fingerprint, &row.CampaignID, &row.Email, &row.CustomerID, &row.Body, &row.Status, &row.Attempts,
		&row.LockedBy, &row.LockedAt, &row.ExternalMessageID,
		&row.LastError, &row.SkippedAt, &row.CreatedAt, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, wrs.ErrAlreadyClaimed
	}
	if err != nil {
		return nil, fmt.Errorf("wrs: claim %s: %w", fingerprint, err)
	}
	return row, nil
}

func (r *WorkRecordRepo) MarkSent(ctx context.Context, fingerprint, workerID, providerMessageID string) error {
	return r.casUpdate(ctx, fingerprint, workerID, `
		UPDATE work_records
		SET status = 'sent', external_message_id = $1, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE fingerprint = $2 AND locked_by = $3
	`, providerMessageID)
}

func (r *WorkRecordRepo) MarkFailed(ctx context.Context, fingerprint, workerID, errMessage string) error {
	return r.casUpdate(ctx, fingerprint, workerID, `
		UPDATE work_records
		SET status = 'failed', last_error = $1, locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE fingerprint = $2 AND locked_by = $3
	`, errMessage)
}

func (r *WorkRecordRepo) MarkSkipped(ctx context.Context, fingerprint, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_records
		SET status = 'skipped', last_error = $1, skipped_at = NOW(), updated_at = NOW()
		WHERE fingerprint = $2 AND status NOT IN ('sent', 'delivered')
	`, reason, fingerprint)
	if err != nil {
		return fmt.Errorf("wrs: mark skipped %s: %w", fingerprint, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return wrs.ErrAlreadyClaimed
	}
	return nil
}

func (r *WorkRecordRepo) Release(ctx context.Context, fingerprint, workerID, errMessage string) error {
	return r.casUpdate(ctx, fingerprint, workerID, `
		UPDATE work_records
		SET status = 'pending', attempts = attempts + 1, last_error = $1,
		    locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE fingerprint = $2 AND locked_by = $3
	`, errMessage)
}

// casUpdate executes one of the lockedBy-gated transitions and translates a
// zero-row update into ErrLockMismatch, matching the invariant that only the
// lock holder (or lock-expiry recovery) may move a record out of sending.
func (r *WorkRecordRepo) casUpdate(ctx context.Context, fingerprint, workerID, query, arg string) error {
	res, err := r.db.ExecContext(ctx, query, arg, fingerprint, workerID)
	if err != nil {
		return fmt.Errorf("wrs: cas update %s: %w", fingerprint, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return wrs.ErrLockMismatch
	}
	return nil
}

func (r *WorkRecordRepo) RecoverExpiredLocks(ctx context.Context, lockTTL time.Duration) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE work_records
		SET status = 'pending', locked_by = NULL, locked_at = NULL, updated_at = NOW()
		WHERE status = 'sending' AND locked_at < NOW() - ($1 || ' seconds')::interval
	`, int(lockTTL.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("wrs: recover expired locks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *WorkRecordRepo) GetCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM work_records WHERE campaign_id = $1 GROUP BY status
	`, campaignID)
	if err != nil {
		return domain.CampaignStats{}, fmt.Errorf("wrs: stats for %s: %w", campaignID, err)
	}
	defer rows.Close()

	var stats domain.CampaignStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.CampaignStats{}, fmt.Errorf("wrs: scan stats: %w", err)
		}
		switch domain.WorkRecordStatus(strings.ToLower(status)) {
		case domain.WorkSent:
			stats.Sent = count
		case domain.WorkDelivered:
			stats.Delivered = count
		case domain.WorkFailed:
			stats.Failed = count
		case domain.WorkBounced:
			stats.Bounced = count
		case domain.WorkSkipped:
			stats.Skipped = count
		}
	}
	return stats, nil
}
