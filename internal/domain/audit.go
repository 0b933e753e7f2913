package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLimitSnapshot records one point-in-time version of the active
// risk limits, for audit trail when limits are changed at runtime.
type RiskLimitSnapshot struct {
	Limits     RiskLimits
	ChangedBy  string
	RecordedAt time.Time
}

// DailyPnlSnapshot is one day's realized/unrealized P&L, recorded once
// per trading day at the daily-reset boundary.
type DailyPnlSnapshot struct {
	Date          time.Time
	RealizedPnl   decimal.Decimal
	UnrealizedPnl decimal.Decimal
	RecordedAt    time.Time
}
