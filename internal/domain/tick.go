// Package domain holds the value types shared across the trading pipeline:
// ticks, bars, orders, positions, strategies, journal entries and the risk
// and reconciliation snapshots that reference them. Types here are plain
// data — behavior lives in the packages that own each pipeline stage.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is an immutable snapshot from the broker feed.
type Tick struct {
	InstrumentToken int64
	LastPrice       decimal.Decimal
	Volume          int64
	Timestamp       time.Time
}

// Bar is one finalized OHLCV interval for an instrument.
//
// Invariant: Low <= Open,Close <= High; Volume is the sum of the
// contributing ticks' volumes.
type Bar struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	OpenTime  time.Time
	CloseTime time.Time
	Period    time.Duration
}
