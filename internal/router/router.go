// Package router implements the Order Router (C5): the single
// authoritative egress for outgoing orders, gating every request through
// the risk gate before handing it to the broker gateway.
package router

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ironcondor/internal/broker"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
	"ironcondor/internal/risk"
)

// KVStore is the minimal persistence port the router needs: recording
// accepted orders for later KV/position queries.
type KVStore interface {
	SaveOrder(ctx context.Context, order domain.Order) error
}

// AccountStateFunc supplies the live account counters the risk gate's
// AccountRiskChecker needs at validation time.
type AccountStateFunc func() risk.AccountState

// PriceFunc resolves the current reference price for a position-value
// check; nil means "unknown" (treated like a market order).
type PriceFunc func(instrumentToken int64) *decimal.Decimal

// RouteResult is the outcome of one Route call.
type RouteResult struct {
	Accepted        bool
	RejectionReason string
	Order           domain.Order
}

// Router is the single authoritative egress for orders.
type Router struct {
	gateway     broker.Gateway
	gate        *risk.Gate
	bus         *eventbus.Bus
	kv          KVStore
	accountFunc AccountStateFunc
	priceFunc   PriceFunc

	killSwitchActive atomic.Bool
}

// New builds a Router wired to its dependencies.
func New(gateway broker.Gateway, gate *risk.Gate, bus *eventbus.Bus, kv KVStore, accountFunc AccountStateFunc, priceFunc PriceFunc) *Router {
	return &Router{gateway: gateway, gate: gate, bus: bus, kv: kv, accountFunc: accountFunc, priceFunc: priceFunc}
}

// ActivateKillSwitch flips the router's reject-new-orders flag.
func (r *Router) ActivateKillSwitch() { r.killSwitchActive.Store(true) }

// DeactivateKillSwitch clears the reject-new-orders flag.
func (r *Router) DeactivateKillSwitch() { r.killSwitchActive.Store(false) }

// KillSwitchActive reports the current flag state.
func (r *Router) KillSwitchActive() bool { return r.killSwitchActive.Load() }

// Route is the pipeline: kill-switch check, risk gate, tag generation,
// broker placement, KV record. isKillSwitchOrder bypasses step 1 for
// orders the kill switch itself issues directly — in practice the kill
// switch calls the gateway directly and never goes through Route, but
// the flag honors the bypass contract described in the spec.
func (r *Router) Route(ctx context.Context, req domain.OrderRequest, isKillSwitchOrder bool) RouteResult {
	if r.killSwitchActive.Load() && !isKillSwitchOrder {
		return RouteResult{Accepted: false, RejectionReason: "kill switch active"}
	}

	price := r.priceFunc(req.InstrumentToken)
	account := r.accountFunc()
	if violations := r.gate.Validate(req, price, account); !violations.IsEmpty() {
		first, _ := violations.First()
		return RouteResult{Accepted: false, RejectionReason: first.Error()}
	}

	tag := uuid.NewString()
	order, err := r.gateway.PlaceOrder(ctx, req, tag)
	if err != nil {
		observability.LogEvent(ctx, "error", "order_route_rejected", map[string]any{
			"instrument_token": req.InstrumentToken,
			"trading_symbol":   req.TradingSymbol,
			"error":            err,
		})
		return RouteResult{Accepted: false, RejectionReason: err.Error()}
	}

	if err := r.kv.SaveOrder(ctx, order); err != nil {
		observability.LogEvent(ctx, "error", "order_kv_save_failed", map[string]any{
			"broker_order_id": order.BrokerOrderID,
			"error":           err,
		})
	}

	r.bus.Publish(eventbus.OrderEvent{Type: eventbus.OrderPlaced, Order: order, At: order.PlacedAt})
	return RouteResult{Accepted: true, Order: order}
}
