package domain

import "time"

// JournalStatus is the lifecycle of one leg's write-ahead journal entry.
// The totally-ordered transition chain is PENDING -> IN_PROGRESS ->
// {COMPLETED, FAILED}.
type JournalStatus string

const (
	JournalPending    JournalStatus = "PENDING"
	JournalInProgress JournalStatus = "IN_PROGRESS"
	JournalCompleted  JournalStatus = "COMPLETED"
	JournalFailed     JournalStatus = "FAILED"
)

// ExecutionOperation is the kind of multi-leg operation a journal group
// belongs to.
type ExecutionOperation string

const (
	OpEntry  ExecutionOperation = "ENTRY"
	OpExit   ExecutionOperation = "EXIT"
	OpAdjust ExecutionOperation = "ADJUST"
	OpMorph  ExecutionOperation = "MORPH"
)

// ExecutionJournalEntry is one leg of one multi-leg operation, written
// before the leg is routed (write-ahead).
type ExecutionJournalEntry struct {
	StrategyID       string
	ExecutionGroupID string
	Operation        ExecutionOperation
	LegIndex         int
	TotalLegs        int
	InstrumentToken  int64
	Side             Side
	Quantity         int64
	Status           JournalStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
	FailureReason    string
}
