package execution

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ironcondor/internal/domain"
	"ironcondor/internal/observability"
)

const defaultFillTimeout = 30 * time.Second

// runBuyFirstThenSell partitions legs by side. If either side is empty
// there is no margin benefit, so it falls back to parallel mode.
// Otherwise: register the fill-await for the BUY group BEFORE routing any
// BUY leg (avoids the race where a fill lands before we start
// listening); route BUYs in parallel; on any BUY routing failure, cancel
// the await, roll back routed BUYs, mark SELLs skipped, and fail. On
// routing success, wait for all BUY fills with the caller's timeout; on
// timeout or a BUY rejection, leave BUY positions open for manual
// handling and skip SELLs; on all BUY fills, route SELLs in parallel —
// a SELL routing failure rolls back only the SELL legs.
func (e *Executor) runBuyFirstThenSell(ctx context.Context, groupID string, req Request) []LegOutcome {
	var buyIdx, sellIdx []int
	for i, leg := range req.Legs {
		if leg.Side == domain.Buy {
			buyIdx = append(buyIdx, i)
		} else {
			sellIdx = append(sellIdx, i)
		}
	}
	if len(buyIdx) == 0 || len(sellIdx) == 0 {
		return e.runParallel(ctx, groupID, req.Legs)
	}

	outcomes := make([]LegOutcome, len(req.Legs))
	buyGroupID := "BUY-" + uuid.NewString()

	e.tracker.AwaitFills(buyGroupID, len(buyIdx))

	buyLegs := make([]domain.OrderRequest, len(buyIdx))
	for j, i := range buyIdx {
		leg := req.Legs[i]
		leg.CorrelationID = buyGroupID
		buyLegs[j] = leg
	}

	buyOutcomes := e.runParallelIndexed(ctx, groupID, buyIdx, buyLegs)
	for k, idx := range buyIdx {
		outcomes[idx] = buyOutcomes[k]
	}

	buyFailed := false
	for _, o := range buyOutcomes {
		if o.Status != domain.JournalCompleted {
			buyFailed = true
		}
	}
	if buyFailed {
		const reason = "skipped: a BUY leg failed to route"
		e.tracker.CancelAwait(buyGroupID)
		e.rollback(ctx, groupID, buyOutcomes)
		e.skipLegs(ctx, groupID, sellIdx, req.Legs, reason)
		for _, idx := range sellIdx {
			outcomes[idx] = LegOutcome{Index: idx, Request: req.Legs[idx], Status: domain.JournalFailed, Err: routeError(reason)}
		}
		return outcomes
	}

	timeout := req.FillTimeout
	if timeout <= 0 {
		timeout = defaultFillTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.tracker.Wait(waitCtx, buyGroupID); err != nil {
		observability.LogEvent(ctx, "warn", "buy_first_fill_wait_failed", map[string]any{
			"execution_group_id": groupID,
			"buy_group_id":       buyGroupID,
			"error":              err,
		})
		e.skipLegs(ctx, groupID, sellIdx, req.Legs, "skipped: BUY fill wait timed out or was rejected; BUY positions left open for manual handling")
		for _, idx := range sellIdx {
			outcomes[idx] = LegOutcome{Index: idx, Request: req.Legs[idx], Status: domain.JournalFailed,
				Err: routeError("skipped: BUY fill wait timed out or was rejected")}
		}
		return outcomes
	}

	sellLegs := make([]domain.OrderRequest, len(sellIdx))
	for j, i := range sellIdx {
		sellLegs[j] = req.Legs[i]
	}
	sellOutcomes := e.runParallelIndexed(ctx, groupID, sellIdx, sellLegs)
	for k, idx := range sellIdx {
		outcomes[idx] = sellOutcomes[k]
	}

	sellFailed := false
	for _, o := range sellOutcomes {
		if o.Status != domain.JournalCompleted {
			sellFailed = true
		}
	}
	if sellFailed {
		observability.LogEvent(ctx, "warn", "buy_first_sell_leg_failed", map[string]any{
			"execution_group_id": groupID,
			"note":               "BUY positions remain open; rolling back only routed SELL legs",
		})
		e.rollback(ctx, groupID, sellOutcomes)
	}

	return outcomes
}

// runParallelIndexed is runParallel but journals against the caller's
// original leg indices rather than 0..len(legs).
func (e *Executor) runParallelIndexed(ctx context.Context, groupID string, indices []int, legs []domain.OrderRequest) []LegOutcome {
	outcomes := make([]LegOutcome, len(legs))
	done := make(chan struct{}, len(legs))
	for k, leg := range legs {
		k, leg, idx := k, leg, indices[k]
		go func() {
			outcomes[k] = e.routeLeg(ctx, groupID, idx, leg)
			done <- struct{}{}
		}()
	}
	for range legs {
		<-done
	}
	return outcomes
}

func (e *Executor) skipLegs(ctx context.Context, groupID string, indices []int, legs []domain.OrderRequest, reason string) {
	for _, idx := range indices {
		e.journal.UpdateStatus(ctx, groupID, idx, domain.JournalFailed, reason)
	}
}
