package domain

import "time"

// DeadLetterStatus is the lifecycle of a dead-lettered write-behind batch.
type DeadLetterStatus string

const (
	DeadLetterPending DeadLetterStatus = "PENDING"
	DeadLetterResolved DeadLetterStatus = "RESOLVED"
	DeadLetterAbandoned DeadLetterStatus = "ABANDONED"
)

// DeadLetterEntry records a write-behind batch that could not be
// persisted even after the synchronous fallback, for manual or
// scheduled replay. Sequence is strictly increasing per event type and
// is embedded in Payload so a replay can detect gaps.
type DeadLetterEntry struct {
	ID         string
	EventType  string
	Sequence   int64
	Payload    []byte
	Status     DeadLetterStatus
	RetryCount int
	MaxRetries int
	Error      string
	Stack      string
	CreatedAt  time.Time
}
