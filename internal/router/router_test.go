package router

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"ironcondor/internal/broker"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/risk"
)

type fakeGateway struct {
	broker.Gateway
	placeErr error
	placed   []domain.OrderRequest
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest, tag string) (domain.Order, error) {
	if f.placeErr != nil {
		return domain.Order{}, f.placeErr
	}
	f.placed = append(f.placed, req)
	return domain.Order{BrokerOrderID: "BO-1", Request: req, Status: domain.OrderOpen}, nil
}

type fakeKV struct {
	saved []domain.Order
}

func (f *fakeKV) SaveOrder(ctx context.Context, order domain.Order) error {
	f.saved = append(f.saved, order)
	return nil
}

func newTestRouter(gw *fakeGateway, kv *fakeKV) *Router {
	bus := eventbus.New()
	position := risk.NewPositionRiskChecker(domain.RiskLimits{MaxLotsPerPosition: 1000})
	account := risk.NewAccountRiskChecker(domain.RiskLimits{}, bus)
	underlying := risk.NewUnderlyingRiskChecker()
	gate := risk.NewGate(position, account, underlying, bus)
	return New(gw, gate, bus, kv, func() risk.AccountState { return risk.AccountState{} }, func(int64) *decimal.Decimal { return nil })
}

func TestRouteRejectsWhenKillSwitchActive(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRouter(gw, &fakeKV{})
	r.ActivateKillSwitch()

	res := r.Route(context.Background(), domain.OrderRequest{Quantity: 1}, false)
	if res.Accepted {
		t.Fatal("expected rejection while kill switch is active")
	}
	if len(gw.placed) != 0 {
		t.Fatal("gateway must not be called when kill switch rejects upfront")
	}
}

func TestRouteBypassesKillSwitchForKillSwitchOrders(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRouter(gw, &fakeKV{})
	r.ActivateKillSwitch()

	res := r.Route(context.Background(), domain.OrderRequest{Quantity: 1}, true)
	if !res.Accepted {
		t.Fatalf("kill-switch-originated order must bypass the flag, got rejection: %s", res.RejectionReason)
	}
}

func TestRouteRejectsOnRiskViolation(t *testing.T) {
	gw := &fakeGateway{}
	r := newTestRouter(gw, &fakeKV{})

	res := r.Route(context.Background(), domain.OrderRequest{Quantity: 5000}, false)
	if res.Accepted {
		t.Fatal("expected rejection: quantity exceeds the test's 1000-lot limit")
	}
	if len(gw.placed) != 0 {
		t.Fatal("gateway must not be called for a rejected order")
	}
}

func TestRouteSavesAcceptedOrderToKV(t *testing.T) {
	gw := &fakeGateway{}
	kv := &fakeKV{}
	r := newTestRouter(gw, kv)

	res := r.Route(context.Background(), domain.OrderRequest{Quantity: 10}, false)
	if !res.Accepted {
		t.Fatalf("expected acceptance, got rejection: %s", res.RejectionReason)
	}
	if len(kv.saved) != 1 {
		t.Fatalf("expected 1 saved order, got %d", len(kv.saved))
	}
}

func TestRoutePropagatesGatewayError(t *testing.T) {
	gw := &fakeGateway{placeErr: errors.New("broker unavailable")}
	r := newTestRouter(gw, &fakeKV{})

	res := r.Route(context.Background(), domain.OrderRequest{Quantity: 10}, false)
	if res.Accepted {
		t.Fatal("expected rejection on gateway error")
	}
}
