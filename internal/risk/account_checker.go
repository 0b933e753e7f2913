package risk

import (
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
)

// AccountRiskChecker enforces account-wide limits: daily realized P&L,
// open-position count, and open-order count. Daily P&L is an
// add-and-swap accumulator (compare-and-swap loop), not a locked update;
// the "current date" check is a best-effort read — a spurious double
// reset at midnight is harmless.
type AccountRiskChecker struct {
	limits atomic.Pointer[domain.RiskLimits]
	pnl    atomic.Pointer[decimal.Decimal]
	dateOrdinal atomic.Int64 // days since epoch, for the once-per-day reset check

	bus *eventbus.Bus
}

// NewAccountRiskChecker creates a checker bound to the given limits and
// event bus (used to publish breach/warning RiskEvents).
func NewAccountRiskChecker(limits domain.RiskLimits, bus *eventbus.Bus) *AccountRiskChecker {
	c := &AccountRiskChecker{bus: bus}
	c.limits.Store(&limits)
	zero := decimal.Zero
	c.pnl.Store(&zero)
	c.dateOrdinal.Store(today())
	return c
}

func today() int64 { return time.Now().UTC().Unix() / 86400 }

// SetLimits replaces the active limits snapshot.
func (c *AccountRiskChecker) SetLimits(limits domain.RiskLimits) {
	c.limits.Store(&limits)
}

func (c *AccountRiskChecker) resetIfNewDay() {
	now := today()
	if c.dateOrdinal.Load() != now {
		c.dateOrdinal.Store(now)
		zero := decimal.Zero
		c.pnl.Store(&zero)
	}
}

// RecordRealisedPnl adds delta to today's realized P&L via a
// compare-and-swap retry loop. Concurrent callers never lose an update.
func (c *AccountRiskChecker) RecordRealisedPnl(delta decimal.Decimal) {
	c.resetIfNewDay()
	for {
		old := c.pnl.Load()
		next := old.Add(delta)
		if c.pnl.CompareAndSwap(old, &next) {
			return
		}
	}
}

// DailyRealisedPnl returns today's accumulated realized P&L.
func (c *AccountRiskChecker) DailyRealisedPnl() decimal.Decimal {
	c.resetIfNewDay()
	return *c.pnl.Load()
}

// AccountState carries the live counters needed for CheckAccount.
type AccountState struct {
	OpenPositions int
	OpenOrders    int
}

// CheckAccount validates open counts and the daily loss limit for order
// acceptance.
func (c *AccountRiskChecker) CheckAccount(state AccountState) Violations {
	c.resetIfNewDay()
	limits := *c.limits.Load()
	var vs Violations

	if limits.DailyLossLimit != nil {
		pnl := c.DailyRealisedPnl()
		if pnl.LessThanOrEqual(limits.DailyLossLimit.Neg()) {
			vs = append(vs, Violation{
				Code:     CodeDailyLossBreach,
				Message:  "daily realised loss limit breached",
				Limit:    limits.DailyLossLimit.Neg().String(),
				Observed: pnl.String(),
			})
		}
	}
	if limits.MaxOpenPositions > 0 && state.OpenPositions >= limits.MaxOpenPositions {
		vs = append(vs, Violation{
			Code:     CodeMaxOpenPositionsExceeded,
			Message:  "open position count at or above limit",
			Limit:    decimalInt(int64(limits.MaxOpenPositions)),
			Observed: decimalInt(int64(state.OpenPositions)),
		})
	}
	if limits.MaxOpenOrders > 0 && state.OpenOrders >= limits.MaxOpenOrders {
		vs = append(vs, Violation{
			Code:     CodeMaxOpenOrdersExceeded,
			Message:  "pending order count at or above limit",
			Limit:    decimalInt(int64(limits.MaxOpenOrders)),
			Observed: decimalInt(int64(state.OpenOrders)),
		})
	}
	return vs
}

// CheckAccountLimits is the periodic real-time monitor: it publishes a
// CRITICAL RiskEvent on breach and a WARNING at the configured
// warning-threshold fraction of the daily loss limit, without blocking
// order acceptance itself.
func (c *AccountRiskChecker) CheckAccountLimits() {
	limits := *c.limits.Load()
	if limits.DailyLossLimit == nil {
		return
	}
	pnl := c.DailyRealisedPnl()
	breach := limits.DailyLossLimit.Neg()
	if pnl.LessThanOrEqual(breach) {
		c.bus.Publish(eventbus.NewRiskEvent(eventbus.RiskCritical, "daily loss limit breached", map[string]any{
			"daily_pnl": pnl.String(),
			"limit":     breach.String(),
		}))
		return
	}
	if limits.DailyLossWarningThresh > 0 {
		warnLine := limits.DailyLossLimit.Mul(decimal.NewFromFloat(limits.DailyLossWarningThresh)).Neg()
		if pnl.LessThanOrEqual(warnLine) {
			c.bus.Publish(eventbus.NewRiskEvent(eventbus.RiskWarning, "daily loss approaching limit", map[string]any{
				"daily_pnl": pnl.String(),
				"warn_line": warnLine.String(),
			}))
		}
	}
}
