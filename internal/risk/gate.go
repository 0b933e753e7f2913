package risk

import (
	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
)

// Gate composes the Position, Account, and Underlying checkers and
// evaluates all three for every request — it never short-circuits, so a
// rejected order's caller sees the complete set of breaches at once.
type Gate struct {
	Position   *PositionRiskChecker
	Account    *AccountRiskChecker
	Underlying *UnderlyingRiskChecker
	bus        *eventbus.Bus
}

// NewGate wires the three checkers and the event bus used to publish the
// single WARNING RiskEvent on rejection.
func NewGate(position *PositionRiskChecker, account *AccountRiskChecker, underlying *UnderlyingRiskChecker, bus *eventbus.Bus) *Gate {
	return &Gate{Position: position, Account: account, Underlying: underlying, bus: bus}
}

// Validate runs every checker against one prospective order and its
// current account state, aggregating all violations. On any violation it
// publishes one WARNING RiskEvent identifying the first violation.
func (g *Gate) Validate(req domain.OrderRequest, price *decimal.Decimal, account AccountState) Violations {
	var vs Violations
	vs = append(vs, g.Position.CheckOrder(OrderCheckInput{
		InstrumentToken: req.InstrumentToken,
		TradingSymbol:   req.TradingSymbol,
		Quantity:        req.Quantity,
		Price:           price,
	})...)
	vs = append(vs, g.Account.CheckAccount(account)...)
	vs = append(vs, g.Underlying.CheckOrder(req.TradingSymbol, req.Quantity)...)

	if len(vs) > 0 {
		first, _ := vs.First()
		g.bus.Publish(eventbus.NewRiskEvent(eventbus.RiskWarning, first.Error(), map[string]any{
			"instrument_token": req.InstrumentToken,
			"trading_symbol":   req.TradingSymbol,
			"violation_count":  len(vs),
		}))
	}
	return vs
}
