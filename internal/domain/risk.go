package domain

import "github.com/shopspring/decimal"

// RiskLimits is an immutable-at-a-time snapshot of account/position-level
// thresholds. A nil pointer field means the corresponding check is
// disabled.
type RiskLimits struct {
	DailyLossLimit           *decimal.Decimal
	DailyLossWarningThresh   float64 // fraction 0..1 of DailyLossLimit
	MaxMarginUtilization     float64
	MaxOpenPositions         int
	MaxOpenOrders            int
	MaxActiveStrategies      int
	MaxLossPerPosition       *decimal.Decimal
	MaxProfitPerPosition     *decimal.Decimal
	MaxLotsPerPosition       int64
	MaxPositionValue         *decimal.Decimal
	MaxLossPerStrategy       *decimal.Decimal
	MaxLegsPerStrategy       int
}

// UnderlyingRiskLimits caps exposure to one underlying symbol.
type UnderlyingRiskLimits struct {
	Underlying string
	MaxLots    int64
}
