package writebehind

import (
	"context"
	"time"

	"ironcondor/internal/observability"
)

// drainable is the non-generic face of Queue[T] the Flusher needs, so
// one Flusher can own queues of different entity types.
type drainable interface {
	Drain(ctx context.Context, maxBatch int) (int, error)
	DrainAll(ctx context.Context, maxBatch int) error
}

// Flusher periodically drains a set of queues on a fixed interval and
// drains all of them once more on FlushAll at shutdown.
type Flusher struct {
	queues   []drainable
	interval time.Duration
	maxBatch int
}

// NewFlusher builds a Flusher over the given queues.
func NewFlusher(interval time.Duration, maxBatch int, queues ...drainable) *Flusher {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &Flusher{queues: queues, interval: interval, maxBatch: maxBatch}
}

// Run blocks, draining every queue on each tick, until ctx is
// cancelled. Callers typically run it in its own goroutine.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.flushOnce(ctx)
		}
	}
}

func (f *Flusher) flushOnce(ctx context.Context) {
	for _, q := range f.queues {
		if _, err := q.Drain(ctx, f.maxBatch); err != nil {
			observability.LogEvent(ctx, "error", "writebehind_flush_failed", map[string]any{"error": err})
		}
	}
}

// FlushAll drains every queue completely, for use at shutdown.
func (f *Flusher) FlushAll(ctx context.Context) error {
	for _, q := range f.queues {
		if err := q.DrainAll(ctx, f.maxBatch); err != nil {
			return err
		}
	}
	return nil
}
