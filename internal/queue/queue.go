package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrDuplicateJob is returned by Enqueue when a job with the same id is
// already pending, active, delayed, or within the completed-retention
// window.
var ErrDuplicateJob = errors.New("queue: duplicate job id")

// ErrPaused is returned by Claim when the queue has been paused.
var ErrPaused = errors.New("queue: paused")

// Job is one batch unit: a slice of recipients within a single campaign
// chunk, identified by the deterministic fingerprint.Batch id.
type Job struct {
	ID          string   `json:"id"`
	CampaignID  string   `json:"campaign_id"`
	ChunkIndex  int      `json:"chunk_index"`
	Recipients  []string `json:"recipients"`
	Attempts    int      `json:"attempts"`
	LastError   string   `json:"last_error,omitempty"`
	EnqueuedAt  int64    `json:"enqueued_at"`
}

// Counts reports the size of each queue state, matching the inspection
// surface the admin API exposes.
type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// retentionWindow is how long a completed or permanently-failed job id is
// kept around purely to reject a duplicate re-enqueue of the same batch.
const retentionWindow = 24 * time.Hour

// Queue is a Redis-backed, at-least-once FIFO job queue with per-job id
// deduplication, a delayed set for retry backoff, and pause/resume control.
// There is no job-queue library in the corpus, so job state is represented
// directly with go-redis primitives: a pending list, an active hash of
// claimed jobs, a delayed sorted set scored by retry-at timestamp, and
// TTL-backed completed/failed markers.
type Queue struct {
	redis *redis.Client
	name  string
}

func New(client *redis.Client, name string) *Queue {
	return &Queue{redis: client, name: name}
}

func (q *Queue) key(parts ...string) string {
	k := "queue:" + q.name
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// Enqueue admits a job if its id is not already known to the queue. The
// dedup key is set before the job becomes visible in the pending list so a
// concurrent double-enqueue of the same batch id can never result in two
// pending copies.
func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal job: %w", err)
	}

	set, err := q.redis.SetNX(ctx, q.key("dedup", job.ID), "1", 0).Result()
	if err != nil {
		return fmt.Errorf("queue: dedup check: %w", err)
	}
	if !set {
		return ErrDuplicateJob
	}

	pipe := q.redis.TxPipeline()
	pipe.Set(ctx, q.key("job", job.ID), payload, 0)
	pipe.RPush(ctx, q.key("pending"), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		q.redis.Del(ctx, q.key("dedup", job.ID))
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Claim pops the next pending job id and moves it into the active set,
// blocking up to timeout for one to become available. Returns nil, nil on
// timeout with no job available.
func (q *Queue) Claim(ctx context.Context, workerID string, timeout time.Duration) (*Job, error) {
	paused, err := q.redis.Exists(ctx, q.key("paused")).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: paused check: %w", err)
	}
	if paused == 1 {
		return nil, ErrPaused
	}

	result, err := q.redis.BLPop(ctx, timeout, q.key("pending")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}

	jobID := result[1]
	raw, err := q.redis.Get(ctx, q.key("job", jobID)).Result()
	if errors.Is(err, redis.Nil) {
		// Job payload expired or was purged concurrently; drop silently.
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: load claimed job: %w", err)
	}

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, fmt.Errorf("queue: unmarshal claimed job: %w", err)
	}

	if err := q.redis.HSet(ctx, q.key("active"), jobID, fmt.Sprintf("%s:%d", workerID, time.Now().Unix())).Err(); err != nil {
		return nil, fmt.Errorf("queue: mark active: %w", err)
	}

	return &job, nil
}

// Complete marks a job done: removed from active, retained briefly under a
// completed marker so a stray re-enqueue of the same id is rejected rather
// than reprocessed.
func (q *Queue) Complete(ctx context.Context, jobID string) error {
	pipe := q.redis.TxPipeline()
	pipe.HDel(ctx, q.key("active"), jobID)
	pipe.Set(ctx, q.key("completed", jobID), time.Now().Unix(), retentionWindow)
	pipe.Expire(ctx, q.key("dedup", jobID), retentionWindow)
	pipe.Incr(ctx, q.key("stats", "completed"))
	pipe.Del(ctx, q.key("job", jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// Retry releases a job back for a later attempt, scheduling it on the
// delayed set rather than immediately re-queuing so the exponential backoff
// between attempts is honored.
func (q *Queue) Retry(ctx context.Context, jobID string, lastErr error, backoff time.Duration) error {
	raw, err := q.redis.Get(ctx, q.key("job", jobID)).Result()
	if err != nil {
		return fmt.Errorf("queue: load job for retry: %w", err)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return fmt.Errorf("queue: unmarshal job for retry: %w", err)
	}
	job.Attempts++
	if lastErr != nil {
		job.LastError = lastErr.Error()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: marshal retried job: %w", err)
	}

	retryAt := time.Now().Add(backoff).Unix()

	pipe := q.redis.TxPipeline()
	pipe.HDel(ctx, q.key("active"), jobID)
	pipe.Set(ctx, q.key("job", jobID), payload, 0)
	pipe.ZAdd(ctx, q.key("delayed"), redis.Z{Score: float64(retryAt), Member: jobID})
	_, err = pipe.Exec(ctx)
	return err
}

// Fail marks a job permanently failed: removed from active, recorded under
// a failed marker with the same retention-for-dedup purpose as Complete.
func (q *Queue) Fail(ctx context.Context, jobID string, lastErr error) error {
	pipe := q.redis.TxPipeline()
	pipe.HDel(ctx, q.key("active"), jobID)
	pipe.Set(ctx, q.key("failed", jobID), errString(lastErr), retentionWindow)
	pipe.Expire(ctx, q.key("dedup", jobID), retentionWindow)
	pipe.Incr(ctx, q.key("stats", "failed"))
	pipe.Del(ctx, q.key("job", jobID))
	_, err := pipe.Exec(ctx)
	return err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// RecoverDue moves delayed jobs whose retry-at has elapsed back onto the
// pending list. Intended to run on a short ticker from the same process
// that runs the Completion Monitor's periodic sweep.
func (q *Queue) RecoverDue(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	ids, err := q.redis.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "0", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: scan delayed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		pipe := q.redis.TxPipeline()
		pipe.ZRem(ctx, q.key("delayed"), id)
		pipe.RPush(ctx, q.key("pending"), id)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("queue: requeue delayed job %s: %w", id, err)
		}
	}
	return len(ids), nil
}

// Pause stops Claim from returning new jobs. In-flight active jobs are
// unaffected.
func (q *Queue) Pause(ctx context.Context) error {
	return q.redis.Set(ctx, q.key("paused"), "1", 0).Err()
}

// Resume undoes Pause.
func (q *Queue) Resume(ctx context.Context) error {
	return q.redis.Del(ctx, q.key("paused")).Err()
}

// Clean discards all waiting and delayed jobs, used when an operator
// abandons a campaign's remaining batches. Active (claimed) jobs are left
// alone since a worker already holds them.
func (q *Queue) Clean(ctx context.Context) error {
	pipe := q.redis.TxPipeline()
	pipe.Del(ctx, q.key("pending"))
	pipe.Del(ctx, q.key("delayed"))
	_, err := pipe.Exec(ctx)
	return err
}

// Inspect reports the current size of every queue state.
func (q *Queue) Inspect(ctx context.Context) (Counts, error) {
	pipe := q.redis.Pipeline()
	pending := pipe.LLen(ctx, q.key("pending"))
	active := pipe.HLen(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	completed := pipe.Get(ctx, q.key("stats", "completed"))
	failed := pipe.Get(ctx, q.key("stats", "failed"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Counts{}, fmt.Errorf("queue: inspect: %w", err)
	}

	completedN, _ := completed.Int64()
	failedN, _ := failed.Int64()

	return Counts{
		Waiting:   pending.Val(),
		Active:    active.Val(),
		Delayed:   delayed.Val(),
		Completed: completedN,
		Failed:    failedN,
	}, nil
}

// HasPendingForCampaign reports whether any waiting, active, or delayed job
// still carries the given campaign id, using the deterministic
// batch_{campaignId}_{chunkIndex} id prefix rather than loading every job's
// payload. The Completion Monitor calls this before finalizing a campaign
// so a batch still in flight (or awaiting retry backoff) blocks completion.
func (q *Queue) HasPendingForCampaign(ctx context.Context, campaignID string) (bool, error) {
	prefix := "batch_" + campaignID + "_"

	pending, err := q.redis.LRange(ctx, q.key("pending"), 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("queue: scan pending: %w", err)
	}
	if anyHasPrefix(pending, prefix) {
		return true, nil
	}

	active, err := q.redis.HKeys(ctx, q.key("active")).Result()
	if err != nil {
		return false, fmt.Errorf("queue: scan active: %w", err)
	}
	if anyHasPrefix(active, prefix) {
		return true, nil
	}

	delayed, err := q.redis.ZRange(ctx, q.key("delayed"), 0, -1).Result()
	if err != nil {
		return false, fmt.Errorf("queue: scan delayed: %w", err)
	}
	return anyHasPrefix(delayed, prefix), nil
}

func anyHasPrefix(ids []string, prefix string) bool {
	for _, id := range ids {
		if strings.HasPrefix(id, prefix) {
			return true
		}
	}
	return false
}
