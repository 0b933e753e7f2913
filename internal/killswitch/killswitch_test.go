package killswitch

import (
	"context"
	"sync"
	"testing"

	"ironcondor/internal/broker"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
)

type fakeRouterFlag struct {
	mu       sync.Mutex
	active   bool
}

func (f *fakeRouterFlag) ActivateKillSwitch()   { f.mu.Lock(); f.active = true; f.mu.Unlock() }
func (f *fakeRouterFlag) DeactivateKillSwitch() { f.mu.Lock(); f.active = false; f.mu.Unlock() }

type fakeStrategyPauser struct {
	mu     sync.Mutex
	called int
}

func (f *fakeStrategyPauser) PauseAll() { f.mu.Lock(); f.called++; f.mu.Unlock() }

type fakeGateway struct {
	broker.Gateway
	mu         sync.Mutex
	cancelled  []string
	placed     []domain.OrderRequest
}

func (f *fakeGateway) CancelOrder(ctx context.Context, brokerOrderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, brokerOrderID)
	return nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req domain.OrderRequest, tag string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return domain.Order{BrokerOrderID: "BO-CLOSE", Request: req, Status: domain.OrderComplete}, nil
}

func TestActivateCancelsPendingAndClosesPositions(t *testing.T) {
	router := &fakeRouterFlag{}
	pauser := &fakeStrategyPauser{}
	gw := &fakeGateway{}
	sw := New(router, pauser, gw, eventbus.New())

	orders := []domain.Order{
		{BrokerOrderID: "BO-1"}, {BrokerOrderID: "BO-2"}, {BrokerOrderID: "BO-3"},
	}
	positions := []domain.Position{
		{InstrumentToken: 1, TradingSymbol: "NIFTY24FEBCE", Quantity: 75},
		{InstrumentToken: 2, TradingSymbol: "NIFTY24FEBPE", Quantity: -75},
	}

	res := sw.Activate(context.Background(), orders, positions)
	if res.AlreadyActive {
		t.Fatal("first activation must not report already-active")
	}
	if len(gw.cancelled) != 3 {
		t.Fatalf("expected 3 cancels, got %d", len(gw.cancelled))
	}
	if len(gw.placed) != 2 {
		t.Fatalf("expected 2 counter-orders, got %d", len(gw.placed))
	}
	if pauser.called != 1 {
		t.Fatalf("expected PauseAll called once, got %d", pauser.called)
	}

	// BUY to close the short, SELL to close the long.
	for _, p := range gw.placed {
		switch p.TradingSymbol {
		case "NIFTY24FEBCE":
			if p.Side != domain.Sell {
				t.Errorf("long position must be closed with SELL, got %s", p.Side)
			}
		case "NIFTY24FEBPE":
			if p.Side != domain.Buy {
				t.Errorf("short position must be closed with BUY, got %s", p.Side)
			}
		}
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	router := &fakeRouterFlag{}
	pauser := &fakeStrategyPauser{}
	gw := &fakeGateway{}
	sw := New(router, pauser, gw, eventbus.New())

	first := sw.Activate(context.Background(), nil, nil)
	second := sw.Activate(context.Background(), nil, nil)

	if first.AlreadyActive {
		t.Fatal("first call must succeed")
	}
	if !second.AlreadyActive {
		t.Fatal("second concurrent call must report already-active")
	}
	if pauser.called != 1 {
		t.Fatalf("PauseAll must be called exactly once across both calls, got %d", pauser.called)
	}
}

func TestActivateConcurrentCallsYieldExactlyOneSuccess(t *testing.T) {
	router := &fakeRouterFlag{}
	pauser := &fakeStrategyPauser{}
	gw := &fakeGateway{}
	sw := New(router, pauser, gw, eventbus.New())

	const n = 10
	results := make([]Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = sw.Activate(context.Background(), nil, nil)
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, r := range results {
		if !r.AlreadyActive {
			successCount++
		}
	}
	if successCount != 1 {
		t.Fatalf("expected exactly 1 successful activation, got %d", successCount)
	}
}

func TestCancelSkipsOrdersWithoutBrokerID(t *testing.T) {
	router := &fakeRouterFlag{}
	pauser := &fakeStrategyPauser{}
	gw := &fakeGateway{}
	sw := New(router, pauser, gw, eventbus.New())

	sw.Activate(context.Background(), []domain.Order{{BrokerOrderID: ""}}, nil)
	if len(gw.cancelled) != 0 {
		t.Fatalf("expected 0 cancels for an order without a broker id, got %d", len(gw.cancelled))
	}
}
