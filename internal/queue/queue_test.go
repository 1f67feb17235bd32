package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, "dispatch"), mr
}

func TestEnqueueClaimComplete(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: "batch_c1_0", CampaignID: "c1", ChunkIndex: 0, Recipients: []string{"a@x.com", "b@x.com"}}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	claimed, err := q.Claim(ctx, "worker-1", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != job.ID {
		t.Fatalf("expected to claim %s, got %+v", job.ID, claimed)
	}

	counts, err := q.Inspect(ctx)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if counts.Active != 1 {
		t.Fatalf("expected 1 active job, got %d", counts.Active)
	}

	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	counts, _ = q.Inspect(ctx)
	if counts.Active != 0 || counts.Completed != 1 {
		t.Fatalf("expected 0 active, 1 completed, got %+v", counts)
	}
}

func TestEnqueueDeduplicates(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: "batch_c1_0", CampaignID: "c1", ChunkIndex: 0}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, job); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}
}

func TestRetryGoesToDelayedThenRecovers(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: "batch_c1_1", CampaignID: "c1", ChunkIndex: 1}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1", 100*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := q.Retry(ctx, job.ID, errors.New("rate_limit"), 50*time.Millisecond); err != nil {
		t.Fatalf("retry: %v", err)
	}

	counts, _ := q.Inspect(ctx)
	if counts.Delayed != 1 || counts.Waiting != 0 {
		t.Fatalf("expected 1 delayed, 0 waiting, got %+v", counts)
	}

	mr.FastForward(100 * time.Millisecond)

	n, err := q.RecoverDue(ctx)
	if err != nil {
		t.Fatalf("recover due: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 job recovered, got %d", n)
	}

	counts, _ = q.Inspect(ctx)
	if counts.Waiting != 1 || counts.Delayed != 0 {
		t.Fatalf("expected 1 waiting after recovery, got %+v", counts)
	}
}

func TestPauseBlocksClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}

	_, err := q.Claim(ctx, "worker-1", 10*time.Millisecond)
	if !errors.Is(err, ErrPaused) {
		t.Fatalf("expected ErrPaused, got %v", err)
	}

	if err := q.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1", 10*time.Millisecond); err != nil {
		t.Fatalf("claim after resume: %v", err)
	}
}

func TestFailMarksPermanently(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	job := Job{ID: "batch_c1_2", CampaignID: "c1", ChunkIndex: 2}
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Claim(ctx, "worker-1", 100*time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := q.Fail(ctx, job.ID, errors.New("invalid_email")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	counts, _ := q.Inspect(ctx)
	if counts.Failed != 1 || counts.Active != 0 {
		t.Fatalf("expected 1 failed, 0 active, got %+v", counts)
	}
}

func TestCleanDiscardsWaitingAndDelayed(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, Job{ID: "batch_c1_3", CampaignID: "c1", ChunkIndex: 3}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Clean(ctx); err != nil {
		t.Fatalf("clean: %v", err)
	}
	counts, _ := q.Inspect(ctx)
	if counts.Waiting != 0 {
		t.Fatalf("expected waiting cleared, got %+v", counts)
	}
}
