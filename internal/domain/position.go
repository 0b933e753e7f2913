package domain

import "github.com/shopspring/decimal"

// Position is the net holding for one instrument within one strategy.
// Quantity is signed: positive = long, negative = short, 0 = closed.
type Position struct {
	ID              string
	InstrumentToken int64
	TradingSymbol   string
	Exchange        string
	Quantity        int64
	AveragePrice    decimal.Decimal
	UnrealizedPnl   *decimal.Decimal // nil pre-mark
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool { return p.Quantity > 0 }

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool { return p.Quantity < 0 }

// IsClosed reports whether the position carries no quantity.
func (p Position) IsClosed() bool { return p.Quantity == 0 }

// CloseSide returns the side of the order that would flatten this
// position: BUY to close a short, SELL to close a long.
func (p Position) CloseSide() Side {
	if p.IsShort() {
		return Buy
	}
	return Sell
}

// AbsQuantity returns |Quantity|.
func (p Position) AbsQuantity() int64 {
	if p.Quantity < 0 {
		return -p.Quantity
	}
	return p.Quantity
}
