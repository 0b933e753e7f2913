package domain

import "github.com/shopspring/decimal"

// MismatchType classifies how a broker position diverges from the local
// view during reconciliation.
type MismatchType string

const (
	QuantityMismatch MismatchType = "QUANTITY_MISMATCH"
	MissingLocal     MismatchType = "MISSING_LOCAL"
	MissingBroker    MismatchType = "MISSING_BROKER"
	PriceDrift       MismatchType = "PRICE_DRIFT"
)

// MismatchResolution is the action taken for a classified mismatch.
type MismatchResolution string

const (
	AutoSync   MismatchResolution = "AUTO_SYNC"
	AlertOnly  MismatchResolution = "ALERT_ONLY"
)

// PositionMismatch describes one divergence found during reconciliation.
type PositionMismatch struct {
	InstrumentToken int64
	Type            MismatchType
	Resolution      MismatchResolution
	BrokerQuantity  int64
	LocalQuantity   int64
	BrokerPrice     decimal.Decimal
	LocalPrice      decimal.Decimal
}
