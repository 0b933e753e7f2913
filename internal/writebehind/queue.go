// Package writebehind buffers high-volume writes (fills, audit events)
// behind a bounded in-memory queue so the hot path never blocks on
// storage I/O. Enqueue degrades gracefully: non-blocking push first,
// then a synchronous single-item write, then a dead-letter record.
package writebehind

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ironcondor/internal/domain"
	"ironcondor/internal/observability"
)

// Store is the backing persistence port a Queue drains into.
type Store[T any] interface {
	Save(ctx context.Context, item T) error
	BulkSave(ctx context.Context, items []T) error
}

// DeadLetterStore records batches that could not be persisted even via
// the synchronous fallback.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, entry domain.DeadLetterEntry) error
}

// Queue is a bounded channel-backed buffer for one entity type. Capacity
// is fixed at construction; Enqueue never blocks the caller.
type Queue[T any] struct {
	eventType   string
	ch          chan T
	store       Store[T]
	deadLetters DeadLetterStore
	seq         atomic.Int64
}

// New builds a Queue with the given capacity.
func New[T any](capacity int, eventType string, store Store[T], deadLetters DeadLetterStore) *Queue[T] {
	return &Queue[T]{
		eventType:   eventType,
		ch:          make(chan T, capacity),
		store:       store,
		deadLetters: deadLetters,
	}
}

// Enqueue tries a non-blocking push first. If the queue is full it
// falls back to a synchronous single-item save; if that also fails, it
// writes a dead-letter entry. Enqueue itself never returns an error to
// the caller other than a failed dead-letter write, since by that point
// there is nowhere else to put the item.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case q.ch <- item:
		return nil
	default:
	}

	if err := q.store.Save(ctx, item); err != nil {
		observability.LogEvent(ctx, "warn", "writebehind_queue_full_sync_write_failed", map[string]any{
			"event_type": q.eventType, "error": err,
		})
		return q.deadLetter(ctx, []T{item}, err)
	}
	return nil
}

// Drain pulls up to maxBatch queued items without blocking and calls
// BulkSave. A BulkSave failure sends the whole drained batch to the
// dead-letter store. Returns the number of items drained.
func (q *Queue[T]) Drain(ctx context.Context, maxBatch int) (int, error) {
	batch := make([]T, 0, maxBatch)
drain:
	for len(batch) < maxBatch {
		select {
		case item := <-q.ch:
			batch = append(batch, item)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return 0, nil
	}
	if err := q.store.BulkSave(ctx, batch); err != nil {
		observability.LogEvent(ctx, "error", "writebehind_bulk_save_failed", map[string]any{
			"event_type": q.eventType, "batch_size": len(batch), "error": err,
		})
		return len(batch), q.deadLetter(ctx, batch, err)
	}
	return len(batch), nil
}

// DrainAll repeatedly drains until the queue is empty, for use at
// shutdown.
func (q *Queue[T]) DrainAll(ctx context.Context, maxBatch int) error {
	for {
		n, err := q.Drain(ctx, maxBatch)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

// Len reports the number of items currently buffered, for diagnostics.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) deadLetter(ctx context.Context, items []T, cause error) error {
	seq := q.seq.Add(1)
	payload, marshalErr := json.Marshal(struct {
		Sequence int64 `json:"sequence"`
		Items    []T   `json:"items"`
	}{Sequence: seq, Items: items})
	if marshalErr != nil {
		payload = []byte(fmt.Sprintf(`{"sequence":%d,"marshal_error":%q}`, seq, marshalErr.Error()))
	}

	entry := domain.DeadLetterEntry{
		ID:         uuid.NewString(),
		EventType:  q.eventType,
		Sequence:   seq,
		Payload:    payload,
		Status:     domain.DeadLetterPending,
		RetryCount: 0,
		MaxRetries: 3,
		Error:      cause.Error(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.deadLetters.SaveDeadLetter(ctx, entry); err != nil {
		observability.LogEvent(ctx, "error", "writebehind_dead_letter_write_failed", map[string]any{
			"event_type": q.eventType, "sequence": seq, "error": err,
		})
		return err
	}
	return nil
}
