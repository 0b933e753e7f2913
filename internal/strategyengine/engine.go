// Package strategyengine implements the Strategy Engine (C9): a registry
// of live strategy instances, their lifecycle state machine, tick
// dispatch, and the position->strategy reverse index used to fan
// position updates out to every strategy that owns a leg of that
// position.
package strategyengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

// ErrIllegalTransition is returned when a lifecycle transition is
// attempted outside the CREATED->ARMED->ACTIVE->{PAUSED,CLOSING,CLOSED}
// graph.
var ErrIllegalTransition = errors.New("strategyengine: illegal lifecycle transition")

// MarketSnapshot is the per-tick context handed to every eligible
// strategy's Evaluate.
type MarketSnapshot struct {
	InstrumentToken int64
	SpotPrice       float64
	At              time.Time
}

// Strategy is the interface every deployed strategy instance implements.
// Evaluate is called once per eligible tick and may itself route
// multi-leg operations through whatever executor it was constructed with;
// the engine only guarantees isolation of its own panics/errors, not of
// anything Evaluate dispatches asynchronously.
type Strategy interface {
	ID() string
	Evaluate(ctx context.Context, snapshot MarketSnapshot) error
}

// instance wraps a registered strategy with the engine's own lifecycle
// and position-ownership bookkeeping, independent of whatever state the
// Strategy implementation keeps internally.
type instance struct {
	strategy      Strategy
	record        domain.Strategy
}

// Engine owns the strategy registry, the lifecycle state machine, and the
// position reverse index.
type Engine struct {
	bus *eventbus.Bus

	mu         sync.RWMutex
	strategies map[string]*instance

	indexMu sync.Mutex
	index   map[string]map[string]struct{} // positionId -> set of strategyId
}

// New builds an Engine publishing lifecycle/decision events on bus.
func New(bus *eventbus.Bus) *Engine {
	return &Engine{
		bus:        bus,
		strategies: make(map[string]*instance),
		index:      make(map[string]map[string]struct{}),
	}
}

// Deploy registers a new strategy in CREATED status.
func (e *Engine) Deploy(strategy Strategy, name string, typ domain.StrategyType, config map[string]any) (domain.Strategy, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := strategy.ID()
	if id == "" {
		return domain.Strategy{}, errors.New("strategyengine: strategy id must not be empty")
	}
	if _, exists := e.strategies[id]; exists {
		return domain.Strategy{}, fmt.Errorf("strategyengine: strategy %s already deployed", id)
	}

	rec := domain.Strategy{ID: id, Name: name, Type: typ, Status: domain.StrategyCreated, Config: config}
	e.strategies[id] = &instance{strategy: strategy, record: rec}
	return rec, nil
}

// Get returns a snapshot of a deployed strategy's record.
func (e *Engine) Get(id string) (domain.Strategy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	inst, ok := e.strategies[id]
	if !ok {
		return domain.Strategy{}, false
	}
	return inst.record, true
}

// ListAll returns every deployed strategy's current record.
func (e *Engine) ListAll() []domain.Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.Strategy, 0, len(e.strategies))
	for _, inst := range e.strategies {
		out = append(out, inst.record)
	}
	return out
}

func (e *Engine) transition(id string, action string, to domain.StrategyStatus, guard func(from domain.StrategyStatus) bool) (domain.Strategy, error) {
	e.mu.Lock()
	inst, ok := e.strategies[id]
	if !ok {
		e.mu.Unlock()
		return domain.Strategy{}, fmt.Errorf("strategyengine: strategy %s not found", id)
	}
	from := inst.record.Status
	if !guard(from) {
		e.mu.Unlock()
		return domain.Strategy{}, fmt.Errorf("%w: %s -> %s via %s", ErrIllegalTransition, from, to, action)
	}
	inst.record.Status = to
	rec := inst.record
	e.mu.Unlock()

	e.publishDecision(id, action, from, to)
	return rec, nil
}

// Arm transitions CREATED -> ARMED.
func (e *Engine) Arm(id string) (domain.Strategy, error) {
	return e.transition(id, "arm", domain.StrategyArmed, func(from domain.StrategyStatus) bool {
		return from == domain.StrategyCreated
	})
}

// ActivateOnEntryFills transitions ARMED -> ACTIVE.
func (e *Engine) ActivateOnEntryFills(id string) (domain.Strategy, error) {
	return e.transition(id, "entry-fills", domain.StrategyActive, func(from domain.StrategyStatus) bool {
		return from == domain.StrategyArmed
	})
}

// Pause transitions ARMED or ACTIVE -> PAUSED.
func (e *Engine) Pause(id string) (domain.Strategy, error) {
	return e.transition(id, "pause", domain.StrategyPaused, func(from domain.StrategyStatus) bool {
		return from == domain.StrategyArmed || from == domain.StrategyActive
	})
}

// Resume transitions PAUSED -> ACTIVE.
func (e *Engine) Resume(id string) (domain.Strategy, error) {
	return e.transition(id, "resume", domain.StrategyActive, func(from domain.StrategyStatus) bool {
		return from == domain.StrategyPaused
	})
}

// Close transitions ACTIVE -> CLOSING.
func (e *Engine) Close(id string) (domain.Strategy, error) {
	return e.transition(id, "close", domain.StrategyClosing, func(from domain.StrategyStatus) bool {
		return from == domain.StrategyActive
	})
}

// CompleteExit transitions CLOSING -> CLOSED.
func (e *Engine) CompleteExit(id string) (domain.Strategy, error) {
	return e.transition(id, "exit-complete", domain.StrategyClosed, func(from domain.StrategyStatus) bool {
		return from == domain.StrategyClosing
	})
}

// PauseAll pauses every strategy currently in ARMED or ACTIVE, leaving
// every other strategy untouched. Satisfies killswitch.StrategyPauser.
func (e *Engine) PauseAll() {
	e.mu.Lock()
	ids := make([]string, 0, len(e.strategies))
	for id, inst := range e.strategies {
		if inst.record.Status == domain.StrategyArmed || inst.record.Status == domain.StrategyActive {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		if _, err := e.Pause(id); err != nil {
			observability.LogEvent(context.Background(), "error", "pause_all_failed", map[string]any{
				"strategy_id": id, "error": err,
			})
		}
	}
}

// Undeploy removes a strategy from the registry. Permitted only when the
// strategy is CLOSED.
func (e *Engine) Undeploy(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	inst, ok := e.strategies[id]
	if !ok {
		return fmt.Errorf("strategyengine: strategy %s not found", id)
	}
	if inst.record.Status != domain.StrategyClosed {
		return fmt.Errorf("%w: undeploy requires CLOSED, strategy %s is %s", ErrIllegalTransition, id, inst.record.Status)
	}
	delete(e.strategies, id)
	return nil
}

// ForceAdjustment is valid only against an ACTIVE strategy. CLOSE_ALL
// transitions the strategy to CLOSING; any other action is dispatched to
// the strategy without a lifecycle change and is assumed handled
// out-of-band by its own Evaluate logic on the next tick.
func (e *Engine) ForceAdjustment(id string, action string) error {
	e.mu.RLock()
	inst, ok := e.strategies[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("strategyengine: strategy %s not found", id)
	}
	if inst.record.Status != domain.StrategyActive {
		return fmt.Errorf("%w: force-adjustment requires ACTIVE, strategy %s is %s", ErrIllegalTransition, id, inst.record.Status)
	}

	status := eventbus.AdjustmentDone
	if action == "CLOSE_ALL" {
		if _, err := e.Close(id); err != nil {
			status = eventbus.AdjustmentFailed
			e.bus.Publish(eventbus.AdjustmentEvent{StrategyID: id, Action: action, Status: status, At: time.Now().UTC()})
			return err
		}
	}
	e.bus.Publish(eventbus.AdjustmentEvent{StrategyID: id, Action: action, Status: status, At: time.Now().UTC()})
	return nil
}

// OnTick dispatches a TickEvent to every strategy whose status accepts
// ticks (ARMED or ACTIVE), building a MarketSnapshot and isolating
// per-strategy Evaluate panics/errors so one faulty strategy cannot halt
// dispatch for the rest.
func (e *Engine) OnTick(ctx context.Context, tick domain.Tick) {
	snapshot := MarketSnapshot{InstrumentToken: tick.InstrumentToken, SpotPrice: spotFloat(tick), At: tick.Timestamp}

	e.mu.RLock()
	eligible := make([]*instance, 0, len(e.strategies))
	for _, inst := range e.strategies {
		if inst.record.Status.AcceptsTicks() {
			eligible = append(eligible, inst)
		}
	}
	e.mu.RUnlock()

	for _, inst := range eligible {
		e.evaluateIsolated(ctx, inst, snapshot)
	}
}

func (e *Engine) evaluateIsolated(ctx context.Context, inst *instance, snapshot MarketSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogEvent(ctx, "error", "strategy_evaluate_panic", map[string]any{
				"strategy_id": inst.strategy.ID(), "panic": r,
			})
		}
	}()

	if err := inst.strategy.Evaluate(ctx, snapshot); err != nil {
		observability.LogEvent(ctx, "warn", "strategy_evaluate_error", map[string]any{
			"strategy_id": inst.strategy.ID(), "error": err,
		})
	}

	e.mu.Lock()
	inst.record.LastEvaluated = snapshot.At
	e.mu.Unlock()
}

func spotFloat(tick domain.Tick) float64 {
	f, _ := tick.LastPrice.Float64()
	return f
}

func (e *Engine) publishDecision(strategyID, action string, from, to domain.StrategyStatus) {
	e.bus.Publish(eventbus.StrategyEvent{StrategyID: strategyID, From: from, To: to, At: time.Now().UTC()})
	e.bus.Publish(eventbus.NewDecisionEvent("STRATEGY_LIFECYCLE", strategyID, map[string]any{
		"action": action, "from": string(from), "to": string(to),
	}))
}
