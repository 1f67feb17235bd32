package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/fingerprint"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/providerclient"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/wrs"
)

// progressEvery and logEvery control how often a long batch reports back,
// mirroring send_worker.go's processItem progress cadence.
const (
	progressEvery = 10
	logEvery      = 25
	rateLimitWait = 60 * time.Second
)

// CampaignReader is the Campaign Registry's read contract the Dispatcher
// needs: sender identity and subject are shared by every recipient in a
// batch, so they are fetched once per job rather than once per recipient.
type CampaignReader interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
}

// SuppressionLookup is the Suppression Store's late-check contract,
// consulted again at send time in case a recipient was suppressed after
// materialization already created its work record.
type SuppressionLookup interface {
	LookupSuppression(email string) domain.EmailStatus
}

// ProviderSender is the Provider Client's send contract.
type ProviderSender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}

// RateLimiter is the per-recipient send-admission contract, gating the
// Provider Client at the configured requests-per-second plan before the
// circuit breaker ever sees a call.
type RateLimiter interface {
	Allow(ctx context.Context, n int) (allowed bool, wait time.Duration, err error)
}

// EventAppender is the Event Log's write contract.
type EventAppender interface {
	Append(ctx context.Context, e *domain.Event) error
}

// StatsIncrementer is the Campaign Registry's dispatch-time counter
// contract.
type StatsIncrementer interface {
	IncrementStat(ctx context.Context, campaignID, column string, delta int) error
}

// Handler implements the per-batch, per-recipient processing algorithm. It
// is the direct descendant of send_worker.go's processItem, generalized
// from a claimed batch-row to a claimed per-recipient WorkRecord nested
// inside a claimed batch job.
type Handler struct {
	campaigns   CampaignReader
	suppression SuppressionLookup
	records     wrs.Store
	provider    ProviderSender
	events      EventAppender
	stats       StatsIncrementer
	limiter     RateLimiter
	lockTTL     time.Duration
}

// NewHandler builds a batch handler. lockTTL is how long a WorkRecord claim
// is honored before the recovery sweep reclaims it. limiter may be nil, in
// which case sends are not rate-admission gated at the per-recipient level
// (the queue's own concurrency/claim-rate still bounds overall throughput).
func NewHandler(campaigns CampaignReader, suppression SuppressionLookup, records wrs.Store, provider ProviderSender, events EventAppender, stats StatsIncrementer, limiter RateLimiter, lockTTL time.Duration) *Handler {
	return &Handler{
		campaigns:   campaigns,
		suppression: suppression,
		records:     records,
		provider:    provider,
		events:      events,
		stats:       stats,
		limiter:     limiter,
		lockTTL:     lockTTL,
	}
}

// batchResult tallies what happened across a batch's recipients, and
// carries the error that should cause the whole batch job to be retried
// (nil if every recipient reached a terminal or otherwise-handled outcome).
type batchResult struct {
	sent, failed, skipped int
	retryErr              error
}

// ProcessJob works through job.Recipients in order, honoring the per-
// recipient claim/send/resolve algorithm. Ordering is sequential within one
// worker's batch; across concurrent workers and batches there is no
// ordering guarantee.
func (h *Handler) ProcessJob(ctx context.Context, workerID string, job queue.Job) batchResult {
	c, err := h.campaigns.Get(ctx, job.CampaignID)
	if err != nil {
		return batchResult{retryErr: err}
	}

	var result batchResult
	processed := 0

	for _, email := range job.Recipients {
		select {
		case <-ctx.Done():
			result.retryErr = ctx.Err()
			return result
		default:
		}

		fp := fingerprint.Recipient(job.CampaignID, email)

		if h.suppression.LookupSuppression(email) != domain.EmailActive {
			if err := h.records.MarkSkipped(ctx, fp, "suppressed"); err != nil {
				logger.Warn("dispatcher mark skipped failed", "worker", workerID, "fingerprint", fp, "error", err)
			}
			result.skipped++
			processed++
			h.reportProgress(workerID, job, processed)
			continue
		}

		record, err := h.records.ClaimForProcessing(ctx, fp, workerID, h.lockTTL)
		if errors.Is(err, wrs.ErrAlreadyClaimed) {
			// Claimed elsewhere, or already terminal; nothing to do.
			processed++
			h.reportProgress(workerID, job, processed)
			continue
		}
		if err != nil {
			logger.Warn("dispatcher claim work record failed", "worker", workerID, "fingerprint", fp, "error", err)
			processed++
			continue
		}
		if record == nil || record.IsTerminal() {
			processed++
			h.reportProgress(workerID, job, processed)
			continue
		}

		msg := &domain.EmailMessage{
			ID:          fp,
			CampaignID:  job.CampaignID,
			CustomerID:  record.CustomerID,
			Email:       email,
			FromName:    c.FromName,
			FromEmail:   c.FromEmail,
			ReplyTo:     c.ReplyTo,
			Subject:     c.Subject,
			HTMLContent: record.Body,
		}

		if err := h.awaitAdmission(ctx); err != nil {
			if relErr := h.records.Release(ctx, fp, workerID, err.Error()); relErr != nil {
				logger.Warn("dispatcher release work record failed", "worker", workerID, "fingerprint", fp, "error", relErr)
			}
			result.retryErr = err
			return result
		}

		sendRes, sendErr := h.provider.Send(ctx, msg)
		if sendErr == nil {
			if err := h.records.MarkSent(ctx, fp, workerID, sendRes.ProviderMessageID); err != nil {
				logger.Warn("dispatcher mark sent failed", "worker", workerID, "fingerprint", fp, "error", err)
			}
			h.appendEvent(ctx, job.CampaignID, record.CustomerID, email, domain.EventSent, sendRes.ProviderMessageID)
			h.incrementStat(ctx, job.CampaignID, "sent_count")
			result.sent++
			processed++
			h.reportProgress(workerID, job, processed)
			continue
		}

		kind := providerclient.Classify(sendErr)
		switch {
		case kind == providerclient.KindRateLimit:
			if err := h.records.Release(ctx, fp, workerID, sendErr.Error()); err != nil {
				logger.Warn("dispatcher release work record failed", "worker", workerID, "fingerprint", fp, "error", err)
			}
			logger.Warn("dispatcher rate limited, pausing before requeue", "worker", workerID, "job", job.ID, "wait", rateLimitWait.String())
			select {
			case <-ctx.Done():
			case <-time.After(rateLimitWait):
			}
			result.retryErr = sendErr
			return result

		case kind == providerclient.KindCircuitOpen || kind.Retryable():
			if err := h.records.Release(ctx, fp, workerID, sendErr.Error()); err != nil {
				logger.Warn("dispatcher release work record failed", "worker", workerID, "fingerprint", fp, "error", err)
			}
			result.retryErr = sendErr
			return result

		default:
			if err := h.records.MarkFailed(ctx, fp, workerID, sendErr.Error()); err != nil {
				logger.Warn("dispatcher mark failed failed", "worker", workerID, "fingerprint", fp, "error", err)
			}
			eventType := domain.EventFailed
			if kind == providerclient.KindInvalidEmail {
				eventType = domain.EventBounced
			}
			h.appendEvent(ctx, job.CampaignID, record.CustomerID, email, eventType, "")
			h.incrementStat(ctx, job.CampaignID, "failed_count")
			result.failed++
			processed++
			h.reportProgress(workerID, job, processed)
		}
	}

	return result
}

// awaitAdmission blocks until the rate limiter's plan admits one more send,
// honoring its reported wait duration rather than busy-polling. A nil
// limiter always admits immediately.
func (h *Handler) awaitAdmission(ctx context.Context) error {
	if h.limiter == nil {
		return nil
	}
	for {
		allowed, wait, err := h.limiter.Allow(ctx, 1)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (h *Handler) appendEvent(ctx context.Context, campaignID, customerID, email string, eventType domain.EventType, providerMessageID string) {
	ev := &domain.Event{
		CampaignID:        campaignID,
		CustomerID:        customerID,
		Email:             email,
		Type:              eventType,
		Source:            "dispatcher",
		ProviderMessageID: providerMessageID,
	}
	if err := h.events.Append(ctx, ev); err != nil {
		logger.Warn("dispatcher append event failed", "type", eventType, "campaign", campaignID, "error", err)
	}
}

func (h *Handler) incrementStat(ctx context.Context, campaignID, column string) {
	if err := h.stats.IncrementStat(ctx, campaignID, column, 1); err != nil {
		logger.Warn("dispatcher increment stat failed", "column", column, "campaign", campaignID, "error", err)
	}
}

func (h *Handler) reportProgress(workerID string, job queue.Job, processed int) {
	if processed%progressEvery == 0 {
		logger.Debug("dispatcher batch progress", "worker", workerID, "job", job.ID, "processed", processed, "total", len(job.Recipients))
	}
	if processed%logEvery == 0 {
		logger.Info("dispatcher batch progress", "worker", workerID, "job", job.ID, "processed", processed, "total", len(job.Recipients))
	}
}
