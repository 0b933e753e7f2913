package morph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
	"ironcondor/internal/strategyengine"
)

// Store is the morph plan/history persistence port.
type Store interface {
	SavePlan(ctx context.Context, entry domain.MorphPlanEntry) error
	UpdatePlanStatus(ctx context.Context, id string, status domain.MorphPlanStatus, advisory string) error
	FindPlansByStatus(ctx context.Context, status domain.MorphPlanStatus) ([]domain.MorphPlanEntry, error)
	SaveHistory(ctx context.Context, entry domain.MorphHistoryEntry) error
}

// RouteFunc places one order and reports acceptance, mirroring
// router.Router.Route without importing internal/router.
type RouteFunc func(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, string)

// Config bounds and gates morph execution.
type Config struct {
	Enabled       bool
	MaxLegsToClose int
}

// Engine plans and executes morphs.
type Engine struct {
	store     Store
	lifecycle *strategyengine.Engine
	route     RouteFunc
	bus       *eventbus.Bus
	config    Config
}

// New builds an Engine.
func New(store Store, lifecycle *strategyengine.Engine, route RouteFunc, bus *eventbus.Bus, config Config) *Engine {
	return &Engine{store: store, lifecycle: lifecycle, route: route, bus: bus, config: config}
}

var (
	// ErrMorphingDisabled is returned when morphing is globally disabled.
	ErrMorphingDisabled = errors.New("morph: morphing is globally disabled")
	// ErrSourceNotEligible is returned when the source strategy is neither
	// ACTIVE nor PAUSED.
	ErrSourceNotEligible = errors.New("morph: source strategy must be ACTIVE or PAUSED")
	// ErrTooManyClosures is returned when a plan's close count exceeds the
	// configured limit.
	ErrTooManyClosures = errors.New("morph: plan exceeds configured close-count limit")
)

// Result is the terminal outcome of an Execute call.
type Result struct {
	PlanID       string
	NewStrategyIDs []string
	Success      bool
}

// Execute validates and runs plan against source, following the nine-step
// execution order from persisting the plan through marking it COMPLETED.
// Only a failure to persist the plan (step 1) stops the run; failures in
// steps 2-8 are logged and the run still marks the plan COMPLETED. A plan
// stays EXECUTING, for the startup recovery pass to find and mark
// PARTIALLY_DONE, only if the process stops before step 9 or step 9's
// status write fails.
func (e *Engine) Execute(ctx context.Context, source domain.Strategy, plan Plan) (Result, error) {
	if !e.config.Enabled {
		return Result{}, ErrMorphingDisabled
	}
	if source.Status != domain.StrategyActive && source.Status != domain.StrategyPaused {
		return Result{}, ErrSourceNotEligible
	}
	if e.config.MaxLegsToClose > 0 && len(plan.LegsToClose) > e.config.MaxLegsToClose {
		return Result{}, fmt.Errorf("%w: %d legs, limit %d", ErrTooManyClosures, len(plan.LegsToClose), e.config.MaxLegsToClose)
	}

	planID := uuid.NewString()

	// Step 1: persist EXECUTING.
	if err := e.store.SavePlan(ctx, domain.MorphPlanEntry{ID: planID, SourceID: source.ID, Status: domain.MorphExecuting, CreatedAt: time.Now().UTC()}); err != nil {
		return Result{}, fmt.Errorf("morph: persist plan: %w", err)
	}

	// Step 2: pause source.
	if _, err := e.lifecycle.Pause(source.ID); err != nil {
		observability.LogEvent(ctx, "error", "morph_pause_source_failed", map[string]any{"plan_id": planID, "error": err})
	}

	// Step 3: create new strategy instances.
	newIDs := make([]string, len(plan.Targets))
	for i, t := range plan.Targets {
		if t.NewStrategy == nil {
			continue
		}
		if _, err := e.lifecycle.Deploy(t.NewStrategy, t.Name, t.Type, nil); err != nil {
			observability.LogEvent(ctx, "error", "morph_deploy_target_failed", map[string]any{"plan_id": planID, "target_index": i, "error": err})
			continue
		}
		newIDs[i] = t.NewStrategy.ID()
	}

	// Step 4: route close orders.
	for _, p := range plan.LegsToClose {
		req := domain.OrderRequest{
			InstrumentToken: p.InstrumentToken,
			TradingSymbol:   p.TradingSymbol,
			Side:            p.CloseSide(),
			OrderType:       domain.OrderMarket,
			Quantity:        p.AbsQuantity(),
			StrategyID:      source.ID,
			CorrelationID:   "MORPH-CLOSE-" + planID,
		}
		if _, accepted, reason := e.route(ctx, req); !accepted {
			observability.LogEvent(ctx, "error", "morph_close_leg_failed", map[string]any{
				"plan_id": planID, "instrument_token": p.InstrumentToken, "reason": reason,
			})
		}
	}

	// Step 5: retarget reassigned positions.
	for _, r := range plan.LegsToReassign {
		targetID := newIDs[r.TargetIndex]
		if targetID == "" {
			continue
		}
		e.lifecycle.UnregisterPositionLink(r.Position.ID, source.ID)
		e.lifecycle.RegisterPositionLink(r.Position.ID, targetID)
	}

	// Step 6: route open orders.
	for _, o := range plan.LegsToOpen {
		targetID := newIDs[o.TargetIndex]
		req := o.Request
		req.StrategyID = targetID
		req.CorrelationID = "MORPH-OPEN-" + planID
		if _, accepted, reason := e.route(ctx, req); !accepted {
			observability.LogEvent(ctx, "error", "morph_open_leg_failed", map[string]any{
				"plan_id": planID, "target_index": o.TargetIndex, "reason": reason,
			})
		}
	}

	// Step 7: close source strategy. The source is PAUSED since step 2 and
	// the lifecycle closes only from ACTIVE, so it is resumed first.
	if _, err := e.lifecycle.Resume(source.ID); err != nil {
		observability.LogEvent(ctx, "error", "morph_resume_source_failed", map[string]any{"plan_id": planID, "error": err})
	} else if _, err := e.lifecycle.Close(source.ID); err != nil {
		observability.LogEvent(ctx, "error", "morph_close_source_failed", map[string]any{"plan_id": planID, "error": err})
	} else if _, err := e.lifecycle.CompleteExit(source.ID); err != nil {
		observability.LogEvent(ctx, "error", "morph_complete_exit_failed", map[string]any{"plan_id": planID, "error": err})
	}

	// Step 8: write lineage edges.
	sourcePnl := strategyPnl(source)
	for i, t := range plan.Targets {
		if newIDs[i] == "" {
			continue
		}
		e.store.SaveHistory(ctx, domain.MorphHistoryEntry{
			ParentStrategyID: source.ID,
			ChildStrategyID:  newIDs[i],
			ParentType:       source.Type,
			ChildType:        t.Type,
			ParentPnlAtMorph: sourcePnl,
			Reason:           fmt.Sprintf("morph:%s->%s", source.Type, t.Type),
			Timestamp:        time.Now().UTC(),
		})
	}

	// Step 9: mark COMPLETED.
	if err := e.store.UpdatePlanStatus(ctx, planID, domain.MorphCompleted, ""); err != nil {
		observability.LogEvent(ctx, "error", "morph_mark_completed_failed", map[string]any{"plan_id": planID, "error": err})
	}

	e.bus.Publish(eventbus.NewDecisionEvent("MORPH_EXECUTION", source.ID, map[string]any{
		"plan_id": planID, "targets": len(plan.Targets),
	}))

	out := make([]string, 0, len(newIDs))
	for _, id := range newIDs {
		if id != "" {
			out = append(out, id)
		}
	}
	return Result{PlanID: planID, NewStrategyIDs: out, Success: true}, nil
}

// strategyPnl sums the unrealized P&L across a strategy's positions,
// returning nil if none are marked yet so a morph with no priced
// positions doesn't record a false zero.
func strategyPnl(s domain.Strategy) *decimal.Decimal {
	var total decimal.Decimal
	marked := false
	for _, p := range s.Positions {
		if p.UnrealizedPnl != nil {
			total = total.Add(*p.UnrealizedPnl)
			marked = true
		}
	}
	if !marked {
		return nil
	}
	return &total
}

// RecoverAtStartup finds every plan still EXECUTING (left behind by a
// crash mid-execution) and marks it PARTIALLY_DONE with an advisory
// message. It never re-drives a plan automatically.
func (e *Engine) RecoverAtStartup(ctx context.Context) (int, error) {
	stuck, err := e.store.FindPlansByStatus(ctx, domain.MorphExecuting)
	if err != nil {
		return 0, err
	}
	for _, p := range stuck {
		if err := e.store.UpdatePlanStatus(ctx, p.ID, domain.MorphPartiallyDone, "recovered at startup: execution state unknown, verify manually"); err != nil {
			observability.LogEvent(ctx, "error", "morph_recovery_update_failed", map[string]any{"plan_id": p.ID, "error": err})
		}
	}
	return len(stuck), nil
}
