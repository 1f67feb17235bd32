// Package completion implements the Completion Monitor: the deferred check
// that decides when a sending campaign has actually finished and flips its
// status to sent. It is triggered after every batch job completes and,
// defensively, by a periodic sweep over all in-flight campaigns.
package completion

import (
	"context"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/pkg/distlock"
	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
)

// CampaignStore is the Campaign Registry contract the monitor needs: read a
// campaign's current status, and finalize it once processing is done.
type CampaignStore interface {
	Get(ctx context.Context, id string) (*domain.Campaign, error)
	MarkSent(ctx context.Context, id string, stats domain.CampaignStats) error
}

// RecordStats is the Work-Record Store's aggregate read contract.
type RecordStats interface {
	GetCampaignStats(ctx context.Context, campaignID string) (domain.CampaignStats, error)
}

// QueueInspector reports whether a campaign still has batches in flight.
type QueueInspector interface {
	HasPendingForCampaign(ctx context.Context, campaignID string) (bool, error)
}

// Monitor evaluates a single campaign against its Work-Record Store
// aggregate and the Job Queue to decide whether it can be finalized.
type Monitor struct {
	campaigns CampaignStore
	records   RecordStats
	queue     QueueInspector
}

// New builds a Completion Monitor.
func New(campaigns CampaignStore, records RecordStats, queue QueueInspector) *Monitor {
	return &Monitor{campaigns: campaigns, records: records, queue: queue}
}

// OnBatchComplete implements dispatcher.CompletionNotifier: a fire-and-check
// call made right after a batch job is marked complete. A failed check here
// is non-fatal; the periodic sweep will eventually catch any campaign this
// call missed.
func (m *Monitor) OnBatchComplete(ctx context.Context, campaignID string) {
	done, err := m.Check(ctx, campaignID)
	if err != nil {
		logger.Warn("completion check failed", "campaign", campaignID, "error", err)
		return
	}
	if done {
		logger.Info("completion campaign finalized as sent", "campaign", campaignID)
	}
}

// Check evaluates whether campaignID is done sending and, if so, finalizes
// it. Returns true if this call transitioned the campaign to sent.
func (m *Monitor) Check(ctx context.Context, campaignID string) (bool, error) {
	c, err := m.campaigns.Get(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if c.Status != domain.CampaignSending {
		return false, nil
	}

	stats, err := m.records.GetCampaignStats(ctx, campaignID)
	if err != nil {
		return false, err
	}
	processed := stats.Sent + stats.Delivered + stats.Failed + stats.Bounced + stats.Skipped
	if processed < c.Stats.TotalRecipients {
		return false, nil
	}

	pending, err := m.queue.HasPendingForCampaign(ctx, campaignID)
	if err != nil {
		return false, err
	}
	if pending {
		return false, nil
	}

	stats.TotalRecipients = c.Stats.TotalRecipients
	if err := m.campaigns.MarkSent(ctx, campaignID, stats); err != nil {
		return false, err
	}
	return true, nil
}

// Sweeper runs Check over every in-flight campaign on a fixed interval, a
// safety net for completions the per-batch trigger missed (a crashed
// worker, a dropped notification). Guarded by a distributed lock so only
// one process instance runs the sweep at a time.
type Sweeper struct {
	monitor  *Monitor
	inflight InFlightLister
	lock     distlock.DistLock
	interval time.Duration
}

// InFlightLister lists campaigns currently in the sending state, the
// candidate set the periodic sweep checks.
type InFlightLister interface {
	ListSending(ctx context.Context) ([]string, error)
}

// NewSweeper builds a periodic completion sweep. interval defaults to 60s
// when zero.
func NewSweeper(monitor *Monitor, inflight InFlightLister, lock distlock.DistLock, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Sweeper{monitor: monitor, inflight: inflight, lock: lock, interval: interval}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		logger.Warn("completion sweep lock acquire failed", "error", err)
		return
	}
	if !acquired {
		return
	}
	defer s.lock.Release(ctx)

	ids, err := s.inflight.ListSending(ctx)
	if err != nil {
		logger.Warn("completion sweep list sending campaigns failed", "error", err)
		return
	}

	for _, id := range ids {
		done, err := s.monitor.Check(ctx, id)
		if err != nil {
			logger.Warn("completion sweep campaign check failed", "campaign", id, "error", err)
			continue
		}
		if done {
			logger.Info("completion sweep campaign finalized as sent", "campaign", id)
		}
	}
}
