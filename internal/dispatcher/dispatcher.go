// Package dispatcher implements the Dispatcher Worker: it claims batch jobs
// off the Job Queue, processes each recipient's WorkRecord through the
// Provider Client, and keeps the Work-Record Store and Campaign Registry
// counters current. A pool of worker goroutines each claims a batch job,
// then claims every recipient's WorkRecord nested inside that batch claim.
package dispatcher

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/queue"
	"github.com/ignite/sparkpost-monitor/internal/wrs"
)

// QueueClient is the subset of the Job Queue the Dispatcher consumes.
type QueueClient interface {
	Claim(ctx context.Context, workerID string, timeout time.Duration) (*queue.Job, error)
	Complete(ctx context.Context, jobID string) error
	Retry(ctx context.Context, jobID string, lastErr error, backoff time.Duration) error
	Fail(ctx context.Context, jobID string, lastErr error) error
}

// CompletionNotifier is told about every batch completion so it can run the
// Completion Monitor's deferred check (§4.9) without the Dispatcher needing
// to know anything about campaign finalization itself.
type CompletionNotifier interface {
	OnBatchComplete(ctx context.Context, campaignID string)
}

// maxJobAttempts caps how many times a batch is retried before it is
// abandoned to the failed set; the Completion Monitor's processed-vs-total
// comparison is what ultimately surfaces any work records this leaves
// uncovered.
const maxJobAttempts = 8

// Stats are the Dispatcher's own process-lifetime counters, exposed through
// Pool.Snapshot.
type Stats struct {
	Sent    int64
	Failed  int64
	Skipped int64
	Retried int64
}

// Pool runs N worker goroutines pulling from the same Job Queue, mirroring
// SendWorkerPool.Start/Stop's lifecycle shape.
type Pool struct {
	handler      *Handler
	queue        QueueClient
	records      wrs.Store
	completion   CompletionNotifier
	numWorkers   int
	claimWait    time.Duration
	lockTTL      time.Duration
	recoverEvery time.Duration
	hostname     string

	stats  Stats
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool builds a Dispatcher worker pool. hostname identifies this
// process's claims in the WRS's lockedBy column.
func NewPool(handler *Handler, q QueueClient, records wrs.Store, completion CompletionNotifier, numWorkers int, lockTTL time.Duration, hostname string) *Pool {
	return &Pool{
		handler:      handler,
		queue:        q,
		records:      records,
		completion:   completion,
		numWorkers:   numWorkers,
		claimWait:    5 * time.Second,
		lockTTL:      lockTTL,
		recoverEvery: 60 * time.Second,
		hostname:     hostname,
	}
}

// Start launches the worker goroutines and the lock-recovery sweep. It
// returns immediately; call Stop to shut down gracefully.
func (p *Pool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go p.recoveryLoop(ctx)

	for i := 0; i < p.numWorkers; i++ {
		workerID := workerIDFor(p.hostname, i)
		p.wg.Add(1)
		go p.worker(ctx, workerID)
	}
}

// Stop signals every worker goroutine to exit and waits for them to drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Snapshot returns the pool's current counters.
func (p *Pool) Snapshot() Stats {
	return Stats{
		Sent:    atomic.LoadInt64(&p.stats.Sent),
		Failed:  atomic.LoadInt64(&p.stats.Failed),
		Skipped: atomic.LoadInt64(&p.stats.Skipped),
		Retried: atomic.LoadInt64(&p.stats.Retried),
	}
}

func (p *Pool) worker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(ctx, workerID, p.claimWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("dispatcher claim failed", "worker", workerID, "error", err)
			time.Sleep(time.Second)
			continue
		}
		if job == nil {
			continue
		}

		result := p.handler.ProcessJob(ctx, workerID, *job)
		atomic.AddInt64(&p.stats.Sent, int64(result.sent))
		atomic.AddInt64(&p.stats.Failed, int64(result.failed))
		atomic.AddInt64(&p.stats.Skipped, int64(result.skipped))

		if result.retryErr != nil {
			atomic.AddInt64(&p.stats.Retried, 1)
			if job.Attempts+1 >= maxJobAttempts {
				if err := p.queue.Fail(ctx, job.ID, result.retryErr); err != nil {
					logger.Warn("dispatcher fail job failed", "worker", workerID, "job", job.ID, "error", err)
				}
				logger.Warn("dispatcher batch abandoned", "worker", workerID, "job", job.ID, "attempts", job.Attempts+1, "error", result.retryErr)
			} else if err := p.queue.Retry(ctx, job.ID, result.retryErr, backoffFor(job.Attempts)); err != nil {
				logger.Warn("dispatcher retry job failed", "worker", workerID, "job", job.ID, "error", err)
			}
			continue
		}

		if err := p.queue.Complete(ctx, job.ID); err != nil {
			logger.Warn("dispatcher complete job failed", "worker", workerID, "job", job.ID, "error", err)
		}
		if p.completion != nil {
			p.completion.OnBatchComplete(ctx, job.CampaignID)
		}
	}
}

func (p *Pool) recoveryLoop(ctx context.Context) {
	defer p.wg.Done()
	p.recoverOnce(ctx)

	ticker := time.NewTicker(p.recoverEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.recoverOnce(ctx)
		}
	}
}

func (p *Pool) recoverOnce(ctx context.Context) {
	n, err := p.records.RecoverExpiredLocks(ctx, p.lockTTL)
	if err != nil {
		logger.Warn("dispatcher lock recovery sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.Info("dispatcher recovered expired-lock work records", "count", n)
	}
}

// backoffFor maps a job's prior attempt count to an exponential delay,
// doubling from 30s up to a 10-minute ceiling.
func backoffFor(attempts int) time.Duration {
	d := 30 * time.Second
	for i := 0; i < attempts && d < 10*time.Minute; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

func workerIDFor(hostname string, n int) string {
	return hostname + "-dispatcher-" + strconv.Itoa(n)
}
