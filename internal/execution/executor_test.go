package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
)

// fakeJournal records every Save in order and the latest status per
// (groupID, legIndex), set by Save and overwritten by UpdateStatus.
type fakeJournal struct {
	mu      sync.Mutex
	saved   []domain.ExecutionJournalEntry
	statuses map[string]domain.JournalStatus
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{statuses: make(map[string]domain.JournalStatus)}
}

func statusKey(groupID string, legIndex int) string {
	return groupID + "#" + string(rune('0'+legIndex))
}

func (j *fakeJournal) Save(ctx context.Context, entry domain.ExecutionJournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved = append(j.saved, entry)
	j.statuses[statusKey(entry.ExecutionGroupID, entry.LegIndex)] = entry.Status
	return nil
}

func (j *fakeJournal) UpdateStatus(ctx context.Context, groupID string, legIndex int, status domain.JournalStatus, reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.statuses[statusKey(groupID, legIndex)] = status
	return nil
}

func (j *fakeJournal) savedCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.saved)
}

// routedOrder records a routing decision for assertions.
type routedOrder struct {
	req      domain.OrderRequest
	accepted bool
}

// scriptedRouter returns canned (accepted, reason) answers per trading
// symbol and publishes a FILLED event on acceptance, unless configured
// not to (to simulate a pending/unfilled BUY).
type scriptedRouter struct {
	mu         sync.Mutex
	reject     map[string]string // tradingSymbol -> rejection reason
	routed     []routedOrder
	bus        *eventbus.Bus
	skipFillFor map[string]bool
}

func newScriptedRouter(bus *eventbus.Bus) *scriptedRouter {
	return &scriptedRouter{reject: make(map[string]string), bus: bus, skipFillFor: make(map[string]bool)}
}

func (r *scriptedRouter) route(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, string) {
	r.mu.Lock()
	reason, rejected := r.reject[req.TradingSymbol]
	skipFill := r.skipFillFor[req.TradingSymbol]
	r.mu.Unlock()

	if rejected {
		r.mu.Lock()
		r.routed = append(r.routed, routedOrder{req: req, accepted: false})
		r.mu.Unlock()
		return domain.Order{}, false, reason
	}

	order := domain.Order{BrokerOrderID: "BO-" + req.TradingSymbol, Request: req, Status: domain.OrderComplete}
	r.mu.Lock()
	r.routed = append(r.routed, routedOrder{req: req, accepted: true})
	r.mu.Unlock()

	if !skipFill && r.bus != nil {
		r.bus.Publish(eventbus.OrderEvent{Type: eventbus.OrderFilled, Order: order, At: time.Now()})
	}
	return order, true, ""
}

func leg(token int64, symbol string, side domain.Side, qty int64) domain.OrderRequest {
	return domain.OrderRequest{InstrumentToken: token, TradingSymbol: symbol, Side: side, Quantity: qty, StrategyID: "strat-1"}
}

func TestExecuteWritesJournalEntryForEveryLegBeforeRouting(t *testing.T) {
	bus := eventbus.New()
	journal := newFakeJournal()
	router := newScriptedRouter(bus)
	tracker := NewFillTracker(bus)
	routeChecked := func(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, string) {
		if n := journal.savedCount(); n != 2 {
			t.Errorf("leg %s routed with only %d of 2 write-ahead entries saved", req.TradingSymbol, n)
		}
		return router.route(ctx, req)
	}
	exec := New(journal, routeChecked, tracker, bus)

	req := Request{
		StrategyID: "strat-1",
		Operation:  domain.OpEntry,
		Mode:       ModeParallel,
		Legs: []domain.OrderRequest{
			leg(1, "NIFTY24FEBCE", domain.Buy, 75),
			leg(2, "NIFTY24FEBPE", domain.Sell, 75),
		},
	}

	res := exec.Execute(context.Background(), req)
	if !res.Success {
		t.Fatalf("expected success, got legs=%+v", res.Legs)
	}
	if journal.savedCount() != 2 {
		t.Fatalf("expected 2 write-ahead journal entries, got %d", journal.savedCount())
	}
	for _, entry := range journal.saved {
		if entry.Status != domain.JournalPending {
			t.Errorf("write-ahead entry for leg %d must be saved as PENDING, got %s", entry.LegIndex, entry.Status)
		}
	}
}

func TestSequentialModeSkipsRemainingLegsAfterFirstFailure(t *testing.T) {
	bus := eventbus.New()
	journal := newFakeJournal()
	router := newScriptedRouter(bus)
	router.reject["LEG-B"] = "margin insufficient"
	tracker := NewFillTracker(bus)
	exec := New(journal, router.route, tracker, bus)

	req := Request{
		StrategyID: "strat-1",
		Operation:  domain.OpEntry,
		Mode:       ModeSequential,
		Legs: []domain.OrderRequest{
			leg(1, "LEG-A", domain.Buy, 75),
			leg(2, "LEG-B", domain.Sell, 75),
			leg(3, "LEG-C", domain.Sell, 75),
		},
	}

	res := exec.Execute(context.Background(), req)
	if res.Success {
		t.Fatal("expected overall failure when a middle leg fails")
	}
	if len(res.Legs) != 3 {
		t.Fatalf("expected 3 leg outcomes, got %d", len(res.Legs))
	}
	if res.Legs[0].Status != domain.JournalCompleted {
		t.Errorf("leg 0 should have completed before the failure, got %s", res.Legs[0].Status)
	}
	if res.Legs[1].Status != domain.JournalFailed {
		t.Errorf("leg 1 should be FAILED (rejected), got %s", res.Legs[1].Status)
	}
	if res.Legs[2].Status != domain.JournalFailed {
		t.Errorf("leg 2 should be FAILED (skipped), got %s", res.Legs[2].Status)
	}

	routedSymbols := map[string]bool{}
	router.mu.Lock()
	for _, r := range router.routed {
		routedSymbols[r.req.TradingSymbol] = true
	}
	router.mu.Unlock()
	if routedSymbols["LEG-C"] {
		t.Error("leg 2 (LEG-C) must never be routed once a prior leg failed")
	}

	// Rollback must have routed an opposite-side order for the completed leg.
	foundRollback := false
	router.mu.Lock()
	for _, r := range router.routed {
		if r.req.TradingSymbol == "LEG-A" && r.req.Side == domain.Sell {
			foundRollback = true
		}
	}
	router.mu.Unlock()
	if !foundRollback {
		t.Error("expected a rollback order (opposite side) routed for the completed leg LEG-A")
	}
}

func TestParallelModeRoutesAllLegsConcurrently(t *testing.T) {
	bus := eventbus.New()
	journal := newFakeJournal()
	router := newScriptedRouter(bus)
	tracker := NewFillTracker(bus)
	exec := New(journal, router.route, tracker, bus)

	req := Request{
		StrategyID: "strat-1",
		Operation:  domain.OpEntry,
		Mode:       ModeParallel,
		Legs: []domain.OrderRequest{
			leg(1, "A", domain.Buy, 75),
			leg(2, "B", domain.Buy, 75),
			leg(3, "C", domain.Sell, 75),
			leg(4, "D", domain.Sell, 75),
		},
	}

	res := exec.Execute(context.Background(), req)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Legs)
	}
	for _, o := range res.Legs {
		if o.Status != domain.JournalCompleted {
			t.Errorf("leg %d expected COMPLETED, got %s", o.Index, o.Status)
		}
	}
}

func TestBuyFirstThenSellRegistersFillAwaitBeforeRoutingBuys(t *testing.T) {
	// A FILLED event published synchronously inside route() (i.e. the
	// instant the BUY is accepted) must still be observed by Wait, proving
	// AwaitFills was registered before routing began.
	bus := eventbus.New()
	journal := newFakeJournal()
	router := newScriptedRouter(bus)
	tracker := NewFillTracker(bus)
	exec := New(journal, router.route, tracker, bus)

	req := Request{
		StrategyID: "strat-1",
		Operation:  domain.OpEntry,
		Mode:       ModeBuyFirstThenSell,
		Legs: []domain.OrderRequest{
			leg(1, "BUY-LEG", domain.Buy, 75),
			leg(2, "SELL-LEG", domain.Sell, 75),
		},
	}

	res := exec.Execute(context.Background(), req)
	if !res.Success {
		t.Fatalf("expected success, got %+v", res.Legs)
	}
	for _, o := range res.Legs {
		if o.Status != domain.JournalCompleted {
			t.Errorf("leg %d expected COMPLETED, got %s", o.Index, o.Status)
		}
	}

	router.mu.Lock()
	defer router.mu.Unlock()
	if len(router.routed) != 2 {
		t.Fatalf("expected 2 routed legs, got %d", len(router.routed))
	}
	if router.routed[0].req.TradingSymbol != "BUY-LEG" {
		t.Errorf("expected BUY leg routed before SELL leg, routed order: %+v", router.routed)
	}
}

func TestBuyFirstThenSellSkipsSellsOnBuyFillTimeout(t *testing.T) {
	bus := eventbus.New()
	journal := newFakeJournal()
	router := newScriptedRouter(bus)
	router.skipFillFor["BUY-LEG"] = true // BUY routes successfully but never fills
	tracker := NewFillTracker(bus)
	exec := New(journal, router.route, tracker, bus)

	req := Request{
		StrategyID:  "strat-1",
		Operation:   domain.OpEntry,
		Mode:        ModeBuyFirstThenSell,
		FillTimeout: 50 * time.Millisecond,
		Legs: []domain.OrderRequest{
			leg(1, "BUY-LEG", domain.Buy, 75),
			leg(2, "SELL-LEG", domain.Sell, 75),
		},
	}

	res := exec.Execute(context.Background(), req)
	if res.Success {
		t.Fatal("expected overall failure when BUY fill times out")
	}

	router.mu.Lock()
	sellRouted := false
	for _, r := range router.routed {
		if r.req.TradingSymbol == "SELL-LEG" {
			sellRouted = true
		}
	}
	router.mu.Unlock()
	if sellRouted {
		t.Error("SELL leg must not be routed when the BUY fill wait times out")
	}

	// BUY leg itself must remain COMPLETED (left open for manual handling),
	// not rolled back.
	var buyOutcome LegOutcome
	for _, o := range res.Legs {
		if o.Request.TradingSymbol == "BUY-LEG" {
			buyOutcome = o
		}
	}
	if buyOutcome.Status != domain.JournalCompleted {
		t.Errorf("BUY leg should remain COMPLETED (left open) on fill timeout, got %s", buyOutcome.Status)
	}
}

func TestBuyFirstThenSellRollsBackOnlyBuysWhenABuyLegFailsToRoute(t *testing.T) {
	bus := eventbus.New()
	journal := newFakeJournal()
	router := newScriptedRouter(bus)
	router.reject["BUY-2"] = "rejected by broker"
	tracker := NewFillTracker(bus)
	exec := New(journal, router.route, tracker, bus)

	req := Request{
		StrategyID: "strat-1",
		Operation:  domain.OpEntry,
		Mode:       ModeBuyFirstThenSell,
		Legs: []domain.OrderRequest{
			leg(1, "BUY-1", domain.Buy, 75),
			leg(2, "BUY-2", domain.Buy, 75),
			leg(3, "SELL-1", domain.Sell, 75),
		},
	}

	res := exec.Execute(context.Background(), req)
	if res.Success {
		t.Fatal("expected overall failure when a BUY leg fails to route")
	}

	router.mu.Lock()
	defer router.mu.Unlock()
	sellRouted := false
	rollbackSeen := false
	for _, r := range router.routed {
		if r.req.TradingSymbol == "SELL-1" {
			sellRouted = true
		}
		if r.req.TradingSymbol == "BUY-1" && r.req.Side == domain.Sell {
			rollbackSeen = true
		}
	}
	if sellRouted {
		t.Error("SELL leg must never be routed when a BUY leg failed to route")
	}
	if !rollbackSeen {
		t.Error("expected the successfully-routed BUY-1 leg to be rolled back")
	}
}
