package materializer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/queue"
)

// QueueInspector is the subset of the Job Queue the backpressure watchdog
// polls.
type QueueInspector interface {
	Inspect(ctx context.Context) (queue.Counts, error)
}

// Backpressure watches queue depth and pauses the Materializer's enqueue
// loop when the queue is overwhelmed, resuming once it has drained to half
// the configured ceiling. The pause/resume band (not a single threshold)
// avoids flapping a watchdog checked once per enqueue-chunk would otherwise
// cause near the boundary.
type Backpressure struct {
	q        QueueInspector
	maxDepth int64
	paused   atomic.Bool
}

// NewBackpressure creates a watchdog bound to maxDepth: pause when
// Waiting+Active reaches it, resume at half.
func NewBackpressure(q QueueInspector, maxDepth int64) *Backpressure {
	return &Backpressure{q: q, maxDepth: maxDepth}
}

// Check polls current queue depth and updates the paused flag. Intended to
// be called before every enqueue-chunk flush, a tertiary signal the
// Materializer consults alongside its own adaptive buffer sizing.
func (b *Backpressure) Check(ctx context.Context) {
	counts, err := b.q.Inspect(ctx)
	if err != nil {
		logger.Warn("materializer backpressure check failed", "error", err)
		return
	}
	depth := counts.Waiting + counts.Active

	switch {
	case depth >= b.maxDepth:
		if !b.paused.Swap(true) {
			logger.Warn("materializer backpressure pausing enqueue", "depth", depth, "ceiling", b.maxDepth)
		}
	case depth <= b.maxDepth/2:
		if b.paused.Swap(false) {
			logger.Info("materializer backpressure resuming enqueue", "depth", depth, "floor", b.maxDepth/2)
		}
	}
}

// IsPaused reports whether the watchdog currently wants the enqueue loop
// held back.
func (b *Backpressure) IsPaused() bool { return b.paused.Load() }

// WaitUntilClear blocks, polling every interval, until the watchdog is no
// longer paused or ctx is cancelled.
func (b *Backpressure) WaitUntilClear(ctx context.Context, interval time.Duration) error {
	if !b.IsPaused() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for b.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Check(ctx)
		}
	}
	return nil
}
