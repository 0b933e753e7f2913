package eventbus

import (
	"time"

	"ironcondor/internal/domain"
)

// RiskLevel is the severity of a RiskEvent.
type RiskLevel string

const (
	RiskInfo     RiskLevel = "INFO"
	RiskWarning  RiskLevel = "WARNING"
	RiskCritical RiskLevel = "CRITICAL"
)

// TickEvent carries one broker tick through the pipeline.
type TickEvent struct {
	Tick domain.Tick
}

// IndicatorUpdateEvent is published when an instrument's bar completes and
// its indicator cache is refreshed.
type IndicatorUpdateEvent struct {
	InstrumentToken int64
	TradingSymbol   string
	Snapshot        map[string]float64
	At              time.Time
}

// OrderEventType enumerates order lifecycle transitions.
type OrderEventType string

const (
	OrderPlaced           OrderEventType = "PLACED"
	OrderFilled           OrderEventType = "FILLED"
	OrderPartiallyFilledE OrderEventType = "PARTIALLY_FILLED"
	OrderRejectedE        OrderEventType = "REJECTED"
	OrderCancelledE       OrderEventType = "CANCELLED"
)

// OrderEvent carries an order lifecycle transition.
type OrderEvent struct {
	Type           OrderEventType
	Order          domain.Order
	PreviousStatus domain.OrderStatus
	At             time.Time
}

// PositionEventType enumerates position lifecycle transitions.
type PositionEventType string

const (
	PositionOpened PositionEventType = "OPENED"
	PositionUpdate PositionEventType = "UPDATED"
	PositionClosed PositionEventType = "CLOSED"
)

// PositionEvent carries a position lifecycle transition.
type PositionEvent struct {
	Type         PositionEventType
	Position     domain.Position
	PreviousPnl  *float64
	At           time.Time
}

// StrategyEvent carries a strategy lifecycle transition.
type StrategyEvent struct {
	StrategyID string
	From       domain.StrategyStatus
	To         domain.StrategyStatus
	At         time.Time
}

// RiskEvent carries a risk-gate decision or kill-switch action.
// Detail is defensively copied at construction so publishers cannot
// mutate it after the event has been handed to subscribers.
type RiskEvent struct {
	Level   RiskLevel
	Message string
	Detail  map[string]any
	At      time.Time
}

// NewRiskEvent constructs a RiskEvent with a defensive copy of detail.
func NewRiskEvent(level RiskLevel, message string, detail map[string]any) RiskEvent {
	cp := make(map[string]any, len(detail))
	for k, v := range detail {
		cp[k] = v
	}
	return RiskEvent{Level: level, Message: message, Detail: cp, At: time.Now().UTC()}
}

// AdjustmentStatus is the outcome of a force-adjustment request.
type AdjustmentStatus string

const (
	AdjustmentPending AdjustmentStatus = "PENDING"
	AdjustmentDone    AdjustmentStatus = "DONE"
	AdjustmentFailed  AdjustmentStatus = "FAILED"
)

// AdjustmentEvent carries a force-adjustment request's outcome.
type AdjustmentEvent struct {
	StrategyID string
	Action     string
	Status     AdjustmentStatus
	At         time.Time
}

// NewAdjustmentEvent constructs an AdjustmentEvent defaulting to PENDING.
func NewAdjustmentEvent(strategyID, action string) AdjustmentEvent {
	return AdjustmentEvent{StrategyID: strategyID, Action: action, Status: AdjustmentPending, At: time.Now().UTC()}
}

// SessionEvent signals broker-session lifecycle changes.
type SessionEvent struct {
	Active bool
	Reason string
	At     time.Time
}

// MarketStatusEvent signals market open/close transitions.
type MarketStatusEvent struct {
	Open bool
	At   time.Time
}

// ReconciliationEvent carries the outcome of a reconciliation run.
type ReconciliationEvent struct {
	Mismatches []domain.PositionMismatch
	Trigger    string // "MANUAL", "SCHEDULED", "STARTUP"
	Manual     bool
	At         time.Time
}

// SystemEvent carries generic operational notices.
type SystemEvent struct {
	Message string
	At      time.Time
}

// DecisionEvent is an audit-only record of a decision taken anywhere in
// the pipeline (lifecycle change, multi-leg outcome, morph outcome).
type DecisionEvent struct {
	Category   string
	StrategyID string
	Context    map[string]any
	At         time.Time
}

// NewDecisionEvent constructs a DecisionEvent with a defensive copy of
// context.
func NewDecisionEvent(category, strategyID string, context map[string]any) DecisionEvent {
	cp := make(map[string]any, len(context))
	for k, v := range context {
		cp[k] = v
	}
	return DecisionEvent{Category: category, StrategyID: strategyID, Context: cp, At: time.Now().UTC()}
}
