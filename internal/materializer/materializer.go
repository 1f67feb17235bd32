// Package materializer resolves a campaign's recipients, filters them
// against the Suppression Store, personalizes each message body, and seeds
// both the Work-Record Store and the Job Queue so the Dispatcher Worker has
// something to claim. It runs as a detached background task kicked off by
// campaign.Service.Send; the HTTP request that triggered the send never
// waits for it.
package materializer

import (
	"context"
	"fmt"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/fingerprint"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/wrs"
)

// enqueueWidth is the fixed batch size every queue job carries, independent
// of the adaptive enqueue-buffer threshold that controls how much resides
// in memory before a flush.
const enqueueWidth = 100

// batchParams are the adaptive cursor/upsert/enqueue sizes selected from
// recipient cardinality: small campaigns prioritize latency, large ones
// prioritize per-operation memory and steady throughput.
type batchParams struct {
	cursor      int
	upsertBatch int
	enqueueBuf  int
}

func paramsForCount(n int) batchParams {
	switch {
	case n < 5000:
		return batchParams{cursor: 500, upsertBatch: 1000, enqueueBuf: 5000}
	case n < 50000:
		return batchParams{cursor: 500, upsertBatch: 500, enqueueBuf: 3000}
	case n < 200000:
		return batchParams{cursor: 300, upsertBatch: 300, enqueueBuf: 2000}
	default:
		return batchParams{cursor: 100, upsertBatch: 100, enqueueBuf: 1000}
	}
}

// CampaignStore is the narrow slice of the Campaign Registry the
// Materializer needs: read the campaign being sent, seed its recipient
// count, and roll back on a fatal failure.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	SetTotalRecipients(ctx context.Context, id string, total int) error
	RecordSendError(ctx context.Context, id string, errMsg string) error
}

// RecipientSource streams the subscribers targeted by a campaign's list or
// segment. Ownership of the underlying customer store is external; this is
// just the read contract the Materializer depends on.
type RecipientSource interface {
	Count(ctx context.Context, listID string) (int, error)
	Stream(ctx context.Context, listID string, cursorSize int, fn func(domain.Subscriber) error) error
}

// SuppressionLookup is the Suppression Store's read contract, consulted as
// a pre-filter before a work record is ever created.
type SuppressionLookup interface {
	LookupSuppression(email string) domain.EmailStatus
}

// Enqueuer is the subset of the Job Queue the Materializer submits batches
// through.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) error
}

// Materializer implements campaign.Materializer.
type Materializer struct {
	campaigns    CampaignStore
	recipients   RecipientSource
	suppression  SuppressionLookup
	records      wrs.Store
	queue        Enqueuer
	tracker      tracker
	backpressure *Backpressure

	enqueueDelay time.Duration
}

// New creates a Materializer. trackingBaseURL and trackingSecret build and
// sign the unsubscribe/open/click links injected into every message body.
func New(campaigns CampaignStore, recipients RecipientSource, suppression SuppressionLookup, records wrs.Store, q Enqueuer, trackingBaseURL, trackingSecret string) *Materializer {
	return &Materializer{
		campaigns:    campaigns,
		recipients:   recipients,
		suppression:  suppression,
		records:      records,
		queue:        q,
		tracker:      tracker{baseURL: trackingBaseURL, secret: trackingSecret},
		enqueueDelay: 100 * time.Millisecond,
	}
}

// SetBackpressure attaches a queue-depth watchdog the enqueue loop consults
// before every chunk flush. Optional; materialization proceeds unthrottled
// without one.
func (m *Materializer) SetBackpressure(bp *Backpressure) { m.backpressure = bp }

// recipientDescriptor is what the enqueue-buffer actually holds: just
// enough to build a queue Job, since the personalized body itself is not
// carried in the job payload (the Dispatcher re-renders nothing; it sends
// whatever the WorkRecord represents has already been committed to).
type recipientDescriptor struct {
	email string
}

// Materialize resolves campaignId's recipients, filters and personalizes
// them, and seeds the Work-Record Store and Job Queue. Safe to re-run: work
// records and batch ids are both keyed by deterministic fingerprints, so a
// retried materialization converges rather than duplicates.
func (m *Materializer) Materialize(ctx context.Context, campaignID string) error {
	c, err := m.campaigns.Get(ctx, campaignID)
	if err != nil {
		return fmt.Errorf("materializer: load campaign: %w", err)
	}
	if c.ListID == nil || *c.ListID == "" {
		return fmt.Errorf("materializer: campaign %s has no recipient list", campaignID)
	}
	listID := *c.ListID

	total, err := m.recipients.Count(ctx, listID)
	if err != nil {
		return fmt.Errorf("materializer: count recipients: %w", err)
	}
	if total == 0 {
		return fmt.Errorf("materializer: list %s has no active recipients", listID)
	}
	if err := m.campaigns.SetTotalRecipients(ctx, campaignID, total); err != nil {
		return fmt.Errorf("materializer: seed total recipients: %w", err)
	}

	params := paramsForCount(total)

	upsertBuf := make([]wrs.UpsertInput, 0, params.upsertBatch)
	enqueueBuf := make([]recipientDescriptor, 0, params.enqueueBuf)
	seen := make(map[string]struct{}, params.cursor*2)
	chunkIndex := 0
	resolved := 0

	flushUpsert := func() error {
		if len(upsertBuf) == 0 {
			return nil
		}
		if _, err := m.records.UpsertPending(ctx, upsertBuf); err != nil {
			logger.Warn("materializer upsert flush failed", "campaign", campaignID, "count", len(upsertBuf), "error", err)
		}
		upsertBuf = upsertBuf[:0]
		return nil
	}

	flushEnqueue := func() error {
		for len(enqueueBuf) > 0 {
			if m.backpressure != nil {
				m.backpressure.Check(ctx)
				if err := m.backpressure.WaitUntilClear(ctx, 5*time.Second); err != nil {
					return err
				}
			}

			width := enqueueWidth
			if width > len(enqueueBuf) {
				width = len(enqueueBuf)
			}
			chunk := enqueueBuf[:width]
			enqueueBuf = enqueueBuf[width:]

			recipients := make([]string, len(chunk))
			for i, d := range chunk {
				recipients[i] = d.email
			}
			job := queue.Job{
				ID:         fingerprint.Batch(campaignID, chunkIndex),
				CampaignID: campaignID,
				ChunkIndex: chunkIndex,
				Recipients: recipients,
				EnqueuedAt: time.Now().Unix(),
			}
			chunkIndex++

			if err := m.enqueueWithRetry(ctx, job); err != nil {
				logger.Warn("materializer batch enqueue failed after retries", "campaign", campaignID, "job", job.ID, "error", err)
			}

			time.Sleep(m.enqueueDelay)
		}
		enqueueBuf = enqueueBuf[:0]
		return nil
	}

	streamErr := m.recipients.Stream(ctx, listID, params.cursor, func(sub domain.Subscriber) error {
		email := normalizeEmail(sub.Email)
		if email == "" {
			return nil
		}
		fp := fingerprint.Recipient(campaignID, email)
		if _, dup := seen[fp]; dup {
			return nil
		}
		seen[fp] = struct{}{}

		if m.suppression.LookupSuppression(email) != domain.EmailActive {
			return nil
		}

		body := RenderBody(c, sub, campaignID, sub.ID, email, m.tracker.baseURL, m.tracker.secret)

		upsertBuf = append(upsertBuf, wrs.UpsertInput{
			Fingerprint: fp,
			CampaignID:  campaignID,
			Email:       email,
			CustomerID:  sub.ID,
			Body:        body,
		})
		enqueueBuf = append(enqueueBuf, recipientDescriptor{email: email})
		resolved++

		if len(upsertBuf) >= params.upsertBatch {
			if err := flushUpsert(); err != nil {
				return err
			}
		}
		if len(enqueueBuf) >= params.enqueueBuf {
			if err := flushEnqueue(); err != nil {
				return err
			}
		}
		return nil
	})
	if streamErr != nil {
		return fmt.Errorf("materializer: stream recipients: %w", streamErr)
	}

	if err := flushUpsert(); err != nil {
		return err
	}
	if err := flushEnqueue(); err != nil {
		return err
	}

	logger.Info("materializer campaign materialized", "campaign", campaignID, "resolved", resolved, "total", total, "batches", chunkIndex)
	return nil
}

// enqueueWithRetry submits a batch up to 3 times with exponential backoff
// (2s, 4s, 8s). A batch that never enqueues is non-fatal to materialization
// overall; the Completion Monitor's processed-vs-total comparison surfaces
// the resulting gap.
func (m *Materializer) enqueueWithRetry(ctx context.Context, job queue.Job) error {
	backoffs := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	var lastErr error
	for attempt := 0; attempt < len(backoffs); attempt++ {
		if err := m.queue.Enqueue(ctx, job); err == nil || err == queue.ErrDuplicateJob {
			return nil
		} else {
			lastErr = err
		}
		if attempt < len(backoffs) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffs[attempt]):
			}
		}
	}
	return lastErr
}

func normalizeEmail(email string) string {
	return fingerprint.NormalizeEmail(email)
}
