package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an order or position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side — used to build rollback and
// kill-switch counter-orders.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the broker order type.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
	OrderSL     OrderType = "SL"
	OrderSLM    OrderType = "SL-M"
)

// OrderStatus is the lifecycle status of a placed order.
type OrderStatus string

const (
	OrderOpen             OrderStatus = "OPEN"
	OrderComplete         OrderStatus = "COMPLETE"
	OrderCancelled        OrderStatus = "CANCELLED"
	OrderRejected         OrderStatus = "REJECTED"
	OrderPartiallyFilled  OrderStatus = "PARTIALLY_FILLED"
)

// OrderRequest is a desired outgoing order, not yet accepted by the broker.
type OrderRequest struct {
	InstrumentToken int64
	TradingSymbol   string
	Exchange        string
	Side            Side
	OrderType       OrderType
	ProductCode     string
	Quantity        int64 // positive, pre-multiplied by lot size
	Price           *decimal.Decimal
	TriggerPrice    *decimal.Decimal
	StrategyID      string
	CorrelationID   string
}

// Order is a live order after broker acceptance.
type Order struct {
	BrokerOrderID    string
	Request          OrderRequest
	Status           OrderStatus
	FilledQuantity   int64
	AverageFillPrice decimal.Decimal
	PlacedAt         time.Time
	UpdatedAt        time.Time
}

// OrderFill is one incremental fill against an order.
type OrderFill struct {
	OrderID         string
	InstrumentToken int64
	Quantity        int64 // positive, incremental
	Price           decimal.Decimal
	FilledAt        time.Time
}

// VWAP computes the volume-weighted average price across fills, rounded to
// 2 decimal places half-up as required by spec.md's order invariant. The
// broker is the source of truth for Order.AverageFillPrice in the running
// fill path; this is the independent check used to audit that reported
// average against the incrementally journaled OrderFill ledger.
func VWAP(fills []OrderFill) decimal.Decimal {
	var notional, qty decimal.Decimal
	for _, f := range fills {
		notional = notional.Add(f.Price.Mul(decimal.NewFromInt(f.Quantity)))
		qty = qty.Add(decimal.NewFromInt(f.Quantity))
	}
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty).Round(2)
}

// FilledQuantity sums fill quantities — used to assert the filledQuantity
// invariant against a fill set independent of whatever the broker reported.
// Like VWAP, this audits Order.FilledQuantity rather than computing it in
// the live path.
func FilledQuantity(fills []OrderFill) int64 {
	var total int64
	for _, f := range fills {
		total += f.Quantity
	}
	return total
}
