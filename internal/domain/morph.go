package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MorphHistoryEntry is one edge in the morph lineage DAG: a parent
// strategy converted (in whole or in part) into a child strategy.
type MorphHistoryEntry struct {
	ParentStrategyID string
	ChildStrategyID  string
	ParentType       StrategyType
	ChildType        StrategyType
	ParentPnlAtMorph *decimal.Decimal
	Reason           string
	Timestamp        time.Time
}

// MorphPlanStatus tracks a persisted morph plan through execution.
type MorphPlanStatus string

const (
	MorphExecuting     MorphPlanStatus = "EXECUTING"
	MorphCompleted     MorphPlanStatus = "COMPLETED"
	MorphPartiallyDone MorphPlanStatus = "PARTIALLY_DONE"
)

// MorphPlanEntry is the persisted record of a morph plan's execution.
type MorphPlanEntry struct {
	ID         string
	SourceID   string
	Status     MorphPlanStatus
	Advisory   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
