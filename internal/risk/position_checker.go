package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

// OrderCheckInput carries the values the PositionRiskChecker needs to
// validate one prospective order.
type OrderCheckInput struct {
	InstrumentToken int64
	TradingSymbol   string
	Quantity        int64
	Price           *decimal.Decimal // nil for market orders
}

// PositionRiskChecker enforces per-position size/value caps and,
// separately, tick-scoped loss/profit breaches against live positions. It
// maintains its own concurrent instrument->positions index, refreshed on
// every PositionEvent, so tick-scoped checks don't need a round-trip to
// the KV store.
type PositionRiskChecker struct {
	mu       sync.RWMutex
	limits   domain.RiskLimits
	byToken  map[int64][]domain.Position
}

// NewPositionRiskChecker creates a checker bound to the given limits.
func NewPositionRiskChecker(limits domain.RiskLimits) *PositionRiskChecker {
	return &PositionRiskChecker{limits: limits, byToken: make(map[int64][]domain.Position)}
}

// SetLimits replaces the active limits snapshot.
func (c *PositionRiskChecker) SetLimits(limits domain.RiskLimits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = limits
}

// OnPositionEvent refreshes the instrument index for one position.
func (c *PositionRiskChecker) OnPositionEvent(p domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	positions := c.byToken[p.InstrumentToken]
	replaced := false
	for i, existing := range positions {
		if existing.ID == p.ID {
			positions[i] = p
			replaced = true
			break
		}
	}
	if !replaced {
		positions = append(positions, p)
	}
	c.byToken[p.InstrumentToken] = positions
}

// CheckOrder validates one prospective order against POSITION_SIZE_EXCEEDED
// and POSITION_VALUE_EXCEEDED. Per the preserved open question,
// `quantity == maxLotsPerPosition` is NOT a breach (strict `>`).
func (c *PositionRiskChecker) CheckOrder(in OrderCheckInput) Violations {
	c.mu.RLock()
	limits := c.limits
	c.mu.RUnlock()

	var vs Violations
	if limits.MaxLotsPerPosition > 0 && in.Quantity > limits.MaxLotsPerPosition {
		vs = append(vs, Violation{
			Code:     CodePositionSizeExceeded,
			Message:  "order quantity exceeds max lots per position",
			Limit:    decimalInt(limits.MaxLotsPerPosition),
			Observed: decimalInt(in.Quantity),
		})
	}

	if limits.MaxPositionValue != nil && in.Price != nil {
		value := in.Price.Mul(decimal.NewFromInt(in.Quantity))
		if value.GreaterThan(*limits.MaxPositionValue) {
			vs = append(vs, Violation{
				Code:     CodePositionValueExceeded,
				Message:  "order value exceeds max position value",
				Limit:    limits.MaxPositionValue.String(),
				Observed: value.String(),
			})
		}
	}
	return vs
}

// CheckLivePositions scans the indexed positions for per-position loss or
// profit-target breaches, publishable independently of order placement
// (e.g. on a tick-driven re-check).
func (c *PositionRiskChecker) CheckLivePositions() Violations {
	c.mu.RLock()
	limits := c.limits
	snapshot := make([]domain.Position, 0)
	for _, positions := range c.byToken {
		snapshot = append(snapshot, positions...)
	}
	c.mu.RUnlock()

	var vs Violations
	for _, p := range snapshot {
		if p.UnrealizedPnl == nil {
			continue
		}
		if limits.MaxLossPerPosition != nil && p.UnrealizedPnl.LessThanOrEqual(limits.MaxLossPerPosition.Neg()) {
			vs = append(vs, Violation{
				Code:     CodePositionLossBreach,
				Message:  "position " + p.TradingSymbol + " breached max loss per position",
				Limit:    limits.MaxLossPerPosition.Neg().String(),
				Observed: p.UnrealizedPnl.String(),
			})
		}
		if limits.MaxProfitPerPosition != nil && p.UnrealizedPnl.GreaterThanOrEqual(*limits.MaxProfitPerPosition) {
			vs = append(vs, Violation{
				Code:     CodePositionProfitTarget,
				Message:  "position " + p.TradingSymbol + " reached profit target",
				Limit:    limits.MaxProfitPerPosition.String(),
				Observed: p.UnrealizedPnl.String(),
			})
		}
	}
	return vs
}

func decimalInt(v int64) string {
	return decimal.NewFromInt(v).String()
}
