package risk

import (
	"sync"

	"ironcondor/internal/domain"
)

// UnderlyingRiskChecker caps total open lots per underlying symbol
// (summed across all instruments whose trading symbol shares that
// underlying prefix), independent of per-position limits.
type UnderlyingRiskChecker struct {
	mu        sync.RWMutex
	limits    map[string]domain.UnderlyingRiskLimits
	positions map[int64]domain.Position // by instrument token
}

// NewUnderlyingRiskChecker creates an empty checker.
func NewUnderlyingRiskChecker() *UnderlyingRiskChecker {
	return &UnderlyingRiskChecker{
		limits:    make(map[string]domain.UnderlyingRiskLimits),
		positions: make(map[int64]domain.Position),
	}
}

// SetLimits replaces the full underlying-limits map.
func (c *UnderlyingRiskChecker) SetLimits(limits []domain.UnderlyingRiskLimits) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limits = make(map[string]domain.UnderlyingRiskLimits, len(limits))
	for _, l := range limits {
		c.limits[l.Underlying] = l
	}
}

// OnPositionEvent refreshes the position snapshot used for lot sums.
func (c *UnderlyingRiskChecker) OnPositionEvent(p domain.Position) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.IsClosed() {
		delete(c.positions, p.InstrumentToken)
		return
	}
	c.positions[p.InstrumentToken] = p
}

// CheckOrder rejects with UNDERLYING_LOT_LIMIT_EXCEEDED when the proposed
// order would push the underlying's summed absolute lots past its limit.
// Underlyings with no configured limit always pass.
func (c *UnderlyingRiskChecker) CheckOrder(tradingSymbol string, orderQuantity int64) Violations {
	underlying := UnderlyingOf(tradingSymbol)

	c.mu.RLock()
	limit, ok := c.limits[underlying]
	if !ok {
		c.mu.RUnlock()
		return nil
	}
	var sum int64
	for _, p := range c.positions {
		if UnderlyingOf(p.TradingSymbol) == underlying {
			sum += p.AbsQuantity()
		}
	}
	c.mu.RUnlock()

	total := sum + orderQuantity
	if total > limit.MaxLots {
		return Violations{{
			Code:     CodeUnderlyingLotLimit,
			Message:  "underlying " + underlying + " lot limit exceeded",
			Limit:    decimalInt(limit.MaxLots),
			Observed: decimalInt(total),
		}}
	}
	return nil
}
