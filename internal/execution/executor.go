// Package execution implements the Multi-Leg Executor (C8): a
// write-ahead-logged, optionally parallel placement of N-leg orders with
// partial-failure rollback, and a buy-first-then-sell mode for margin
// relief on spread entries.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

// Mode selects how a multi-leg group's legs are routed.
type Mode string

const (
	ModeSequential      Mode = "SEQUENTIAL"
	ModeParallel        Mode = "PARALLEL"
	ModeBuyFirstThenSell Mode = "BUY_FIRST_THEN_SELL"
)

// JournalStore is the write-ahead log port.
type JournalStore interface {
	Save(ctx context.Context, entry domain.ExecutionJournalEntry) error
	UpdateStatus(ctx context.Context, groupID string, legIndex int, status domain.JournalStatus, failureReason string) error
}

// RouteFunc places one order and reports acceptance. It mirrors
// router.Router.Route without importing the router package, avoiding an
// import cycle between execution and router.
type RouteFunc func(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, string)

// Request describes one multi-leg operation.
type Request struct {
	StrategyID string
	Operation  domain.ExecutionOperation
	Legs       []domain.OrderRequest
	Mode       Mode
	// FillTimeout bounds the buy-first-then-sell fill-await; ignored by
	// other modes.
	FillTimeout time.Duration
}

// LegOutcome is one leg's terminal result.
type LegOutcome struct {
	Index   int
	Request domain.OrderRequest
	Order   domain.Order
	Status  domain.JournalStatus
	Err     error
}

// Result is the terminal outcome of one multi-leg operation.
type Result struct {
	GroupID string
	Success bool
	Legs    []LegOutcome
}

// Executor runs multi-leg requests against the WAL protocol and the
// configured mode.
type Executor struct {
	journal JournalStore
	route   RouteFunc
	tracker *FillTracker
	bus     *eventbus.Bus
}

// New builds an Executor wired to its dependencies.
func New(journal JournalStore, route RouteFunc, tracker *FillTracker, bus *eventbus.Bus) *Executor {
	return &Executor{journal: journal, route: route, tracker: tracker, bus: bus}
}

// Execute runs req through the WAL protocol and its selected mode,
// publishing a terminal DecisionEvent before returning.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	groupID := uuid.NewString()
	total := len(req.Legs)

	now := time.Now().UTC()
	for i, leg := range req.Legs {
		entry := domain.ExecutionJournalEntry{
			StrategyID:       req.StrategyID,
			ExecutionGroupID: groupID,
			Operation:        req.Operation,
			LegIndex:         i,
			TotalLegs:        total,
			InstrumentToken:  leg.InstrumentToken,
			Side:             leg.Side,
			Quantity:         leg.Quantity,
			Status:           domain.JournalPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := e.journal.Save(ctx, entry); err != nil {
			observability.LogEvent(ctx, "error", "journal_write_ahead_failed", map[string]any{
				"execution_group_id": groupID,
				"leg_index":          i,
				"error":              err,
			})
		}
	}

	// Buy-first-then-sell decides its own rollback scope internally (it may
	// deliberately leave filled BUY legs open for manual handling), so the
	// generic post-hoc rollback below only applies to the other two modes.
	var outcomes []LegOutcome
	selfRollback := false
	switch req.Mode {
	case ModeSequential:
		outcomes = e.runSequential(ctx, groupID, req)
	case ModeBuyFirstThenSell:
		outcomes = e.runBuyFirstThenSell(ctx, groupID, req)
		selfRollback = true
	default:
		outcomes = e.runParallel(ctx, groupID, req.Legs)
	}

	success := true
	for _, o := range outcomes {
		if o.Status != domain.JournalCompleted {
			success = false
			break
		}
	}

	if !success && !selfRollback {
		e.rollback(ctx, groupID, outcomes)
	}

	e.bus.Publish(eventbus.NewDecisionEvent("MULTI_LEG_EXECUTION", req.StrategyID, map[string]any{
		"execution_group_id": groupID,
		"operation":          string(req.Operation),
		"success":            success,
		"leg_count":          total,
	}))

	return Result{GroupID: groupID, Success: success, Legs: outcomes}
}

func (e *Executor) routeLeg(ctx context.Context, groupID string, index int, leg domain.OrderRequest) LegOutcome {
	if err := e.journal.UpdateStatus(ctx, groupID, index, domain.JournalInProgress, ""); err != nil {
		observability.LogEvent(ctx, "error", "journal_status_update_failed", map[string]any{
			"execution_group_id": groupID, "leg_index": index, "error": err,
		})
	}

	order, accepted, reason := e.route(ctx, leg)
	if !accepted {
		e.journal.UpdateStatus(ctx, groupID, index, domain.JournalFailed, reason)
		return LegOutcome{Index: index, Request: leg, Status: domain.JournalFailed, Err: routeError(reason)}
	}

	e.journal.UpdateStatus(ctx, groupID, index, domain.JournalCompleted, "")
	return LegOutcome{Index: index, Request: leg, Order: order, Status: domain.JournalCompleted}
}

// runSequential iterates legs in order; on the first failure it marks
// every subsequent unstarted leg FAILED with a "skipped" reason and
// produces a skipped outcome for each, without routing them.
func (e *Executor) runSequential(ctx context.Context, groupID string, req Request) []LegOutcome {
	outcomes := make([]LegOutcome, 0, len(req.Legs))
	failed := false

	for i, leg := range req.Legs {
		if failed {
			const reason = "skipped due to prior leg failure"
			e.journal.UpdateStatus(ctx, groupID, i, domain.JournalFailed, reason)
			outcomes = append(outcomes, LegOutcome{Index: i, Request: leg, Status: domain.JournalFailed, Err: routeError(reason)})
			continue
		}
		outcome := e.routeLeg(ctx, groupID, i, leg)
		outcomes = append(outcomes, outcome)
		if outcome.Status != domain.JournalCompleted {
			failed = true
		}
	}
	return outcomes
}

// runParallel fans out every leg concurrently and awaits all results.
func (e *Executor) runParallel(ctx context.Context, groupID string, legs []domain.OrderRequest) []LegOutcome {
	outcomes := make([]LegOutcome, len(legs))
	var wg sync.WaitGroup
	for i, leg := range legs {
		i, leg := i, leg
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = e.routeLeg(ctx, groupID, i, leg)
		}()
	}
	wg.Wait()
	return outcomes
}

type routedErr string

func (e routedErr) Error() string { return string(e) }
func routeError(reason string) error {
	if reason == "" {
		return routedErr("rejected")
	}
	return routedErr(reason)
}
