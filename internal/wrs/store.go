// Package wrs defines the Work-Record Store contract: the durable,
// per-recipient ledger the Materializer seeds and the Dispatcher Worker
// claims from. It is the single source of truth for whether a given
// (campaign, recipient) pair has ever been sent to, independent of which
// batch job carried it.
package wrs

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// ErrAlreadyClaimed is returned by ClaimForProcessing when the record is
// not in a claimable state (already sending, or terminal).
var ErrAlreadyClaimed = errors.New("wrs: record not claimable")

// ErrLockMismatch is returned by the CAS-gated transitions when the caller
// does not hold the record's lock.
var ErrLockMismatch = errors.New("wrs: caller does not hold the record lock")

// UpsertInput is one row destined for the upsert-buffer the Materializer
// flushes in bulk.
type UpsertInput struct {
	Fingerprint string
	CampaignID  string
	Email       string
	CustomerID  string
	Body        string
}

// Store is the Work-Record Store's operation contract. Every mutating
// method is scoped to a single fingerprint so the Dispatcher can call them
// per-recipient inside a batch without taking a campaign-wide lock.
type Store interface {
	// UpsertPending bulk-inserts records in pending status, one per input,
	// skipping rows whose fingerprint already exists with a sent/delivered
	// status or that are already pending/failed (left untouched). Returns
	// the number of rows newly created.
	UpsertPending(ctx context.Context, inputs []UpsertInput) (created int, err error)

	// ClaimForProcessing atomically transitions a record from
	// pending/failed (or sending with an expired lock) to sending, gated
	// on the CAS condition described in the status ∈ {pending, failed} AND
	// (lockedAt is null OR lockedAt < now-lockTTL) invariant. Returns the
	// record as it stands after the claim (status sending, lock fields set),
	// not its pre-claim state, or ErrAlreadyClaimed if the CAS did not apply.
	ClaimForProcessing(ctx context.Context, fingerprint, workerID string, lockTTL time.Duration) (*domain.WorkRecord, error)

	// MarkSent transitions a claimed record to sent. CAS-gated on
	// lockedBy=workerID.
	MarkSent(ctx context.Context, fingerprint, workerID, providerMessageID string) error

	// MarkFailed transitions a claimed record to failed. CAS-gated on
	// lockedBy=workerID.
	MarkFailed(ctx context.Context, fingerprint, workerID, errMessage string) error

	// MarkSkipped transitions a record straight to skipped — used by the
	// Dispatcher's suppression late-check, which runs before any claim is
	// attempted.
	MarkSkipped(ctx context.Context, fingerprint, reason string) error

	// Release returns a claimed record to pending for a later retry,
	// incrementing attempts. CAS-gated on lockedBy=workerID.
	Release(ctx context.Context, fingerprint, workerID, errMessage string) error

	// RecoverExpiredLocks bulk-transitions any record in sending whose
	// lockedAt predates now-lockTTL back to pending, clearing the lock.
	// Returns the number of records recovered.
	RecoverExpiredLocks(ctx context.Context, lockTTL time.Duration) (int, error)

	// GetCampaignStats returns counts by status for one campaign, the input
	// to both the Campaign Registry's stats refresh and the Completion
	// Monitor's processed/total comparison.
	GetCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
}
