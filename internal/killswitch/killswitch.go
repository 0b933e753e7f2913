// Package killswitch implements the emergency stop (C7): pause every
// strategy, block new orders, and race cancels/closures against the
// broker directly, bypassing the order router and risk gate.
package killswitch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ironcondor/internal/broker"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

const (
	cancelRetries  = 3
	cancelRetryGap = 100 * time.Millisecond
	overallDeadline = 30 * time.Second
)

// RouterFlag is the subset of the Order Router the kill switch needs:
// just the reject-new-orders flag, never the Route pipeline itself.
type RouterFlag interface {
	ActivateKillSwitch()
	DeactivateKillSwitch()
}

// StrategyPauser pauses every eligible strategy. Implemented by the
// Strategy Engine.
type StrategyPauser interface {
	PauseAll()
}

// ItemError is one failed cancel or closure, collected into the result
// without aborting the overall run.
type ItemError struct {
	Identifier string
	Err        error
}

// Result is the outcome of one Activate call.
type Result struct {
	AlreadyActive bool
	CancelErrors  []ItemError
	CloseErrors   []ItemError
}

// Switch is the kill-switch orchestrator.
type Switch struct {
	router   RouterFlag
	strategy StrategyPauser
	gateway  broker.Gateway
	bus      *eventbus.Bus

	active atomic.Bool
}

// New wires the kill switch to its dependencies.
func New(router RouterFlag, strategy StrategyPauser, gateway broker.Gateway, bus *eventbus.Bus) *Switch {
	return &Switch{router: router, strategy: strategy, gateway: gateway, bus: bus}
}

// Active reports the current activation state.
func (s *Switch) Active() bool { return s.active.Load() }

// PauseAllStrategies is a separate, milder action that only pauses
// strategies, without touching orders or positions.
func (s *Switch) PauseAllStrategies() {
	s.strategy.PauseAll()
}

// Activate is idempotent: a second concurrent call observes AlreadyActive
// and performs no side effects. On first activation: pause all
// strategies, set the router's kill-switch flag, fan out cancellations
// for pendingOrders, then fan out closures for openPositions — both
// within an overall 30s deadline — and publish a CRITICAL RiskEvent.
func (s *Switch) Activate(ctx context.Context, pendingOrders []domain.Order, openPositions []domain.Position) Result {
	if !s.active.CompareAndSwap(false, true) {
		return Result{AlreadyActive: true}
	}

	s.strategy.PauseAll()
	s.router.ActivateKillSwitch()

	deadlineCtx, cancel := context.WithTimeout(ctx, overallDeadline)
	defer cancel()

	cancelErrors := s.cancelAll(deadlineCtx, pendingOrders)
	closeErrors := s.closeAll(deadlineCtx, openPositions)

	s.bus.Publish(eventbus.NewRiskEvent(eventbus.RiskCritical, "kill switch activated", map[string]any{
		"pending_orders": len(pendingOrders),
		"open_positions": len(openPositions),
		"cancel_errors":  len(cancelErrors),
		"close_errors":   len(closeErrors),
	}))

	return Result{CancelErrors: cancelErrors, CloseErrors: closeErrors}
}

// Deactivate clears both the activation flag and the router's flag.
func (s *Switch) Deactivate() {
	s.active.Store(false)
	s.router.DeactivateKillSwitch()
}

func (s *Switch) cancelAll(ctx context.Context, orders []domain.Order) []ItemError {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []ItemError

	for _, o := range orders {
		if o.BrokerOrderID == "" {
			continue
		}
		o := o
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.cancelWithRetry(ctx, o.BrokerOrderID); err != nil {
				mu.Lock()
				errs = append(errs, ItemError{Identifier: o.BrokerOrderID, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

func (s *Switch) cancelWithRetry(ctx context.Context, brokerOrderID string) error {
	var lastErr error
	for attempt := 0; attempt < cancelRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cancelRetryGap)
		}
		if err := s.gateway.CancelOrder(ctx, brokerOrderID); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (s *Switch) closeAll(ctx context.Context, positions []domain.Position) []ItemError {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var errs []ItemError

	for _, p := range positions {
		if p.IsClosed() {
			continue
		}
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.closeWithRetry(ctx, p); err != nil {
				mu.Lock()
				errs = append(errs, ItemError{Identifier: p.TradingSymbol, Err: err})
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errs
}

func (s *Switch) closeWithRetry(ctx context.Context, p domain.Position) error {
	req := domain.OrderRequest{
		InstrumentToken: p.InstrumentToken,
		TradingSymbol:   p.TradingSymbol,
		Exchange:        p.Exchange,
		Side:            p.CloseSide(),
		OrderType:       domain.OrderMarket,
		Quantity:        p.AbsQuantity(),
		CorrelationID:   "KILLSWITCH-" + p.TradingSymbol,
	}

	var lastErr error
	for attempt := 0; attempt < cancelRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(cancelRetryGap)
		}
		if _, err := s.gateway.PlaceOrder(ctx, req, req.CorrelationID); err != nil {
			lastErr = err
			observability.LogEvent(ctx, "error", "killswitch_close_attempt_failed", map[string]any{
				"trading_symbol": p.TradingSymbol,
				"attempt":        attempt + 1,
				"error":          err,
			})
			continue
		}
		return nil
	}
	return lastErr
}
