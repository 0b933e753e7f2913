package morph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/strategyengine"
)

func pos(id string, token int64, symbol string, qty int64) domain.Position {
	return domain.Position{ID: id, InstrumentToken: token, TradingSymbol: symbol, Quantity: qty, AveragePrice: decimal.NewFromInt(100)}
}

func TestPreviewClassifiesRetainedLegsAndClosesTheRest(t *testing.T) {
	source := domain.Strategy{
		ID:     "ic-1",
		Type:   domain.IronCondor,
		Status: domain.StrategyActive,
		Positions: []domain.Position{
			pos("p-sell-pe", 1, "NIFTY24FEB21000PE", -75), // short PE -> SELL_PE
			pos("p-buy-pe", 2, "NIFTY24FEB20800PE", 75),   // long PE -> BUY_PE
			pos("p-sell-ce", 3, "NIFTY24FEB22000CE", -75), // short CE -> SELL_CE
			pos("p-buy-ce", 4, "NIFTY24FEB22200CE", 75),   // long CE -> BUY_CE
		},
	}

	rule, err := ResolveSimpleRule(domain.IronCondor, domain.BullPutSpread)
	if err != nil {
		t.Fatalf("resolve rule: %v", err)
	}
	target, err := rule.AsTarget(nil, "Bull Put Spread 1")
	if err != nil {
		t.Fatalf("as target: %v", err)
	}

	plan := Preview(source, []Target{target})

	if len(plan.LegsToReassign) != 2 {
		t.Fatalf("expected 2 retained legs reassigned, got %d: %+v", len(plan.LegsToReassign), plan.LegsToReassign)
	}
	if len(plan.LegsToClose) != 2 {
		t.Fatalf("expected 2 legs closed, got %d: %+v", len(plan.LegsToClose), plan.LegsToClose)
	}

	for _, r := range plan.LegsToReassign {
		if r.Position.TradingSymbol != "NIFTY24FEB21000PE" && r.Position.TradingSymbol != "NIFTY24FEB20800PE" {
			t.Errorf("unexpected leg reassigned: %s", r.Position.TradingSymbol)
		}
	}
	for _, p := range plan.LegsToClose {
		if p.TradingSymbol != "NIFTY24FEB22000CE" && p.TradingSymbol != "NIFTY24FEB22200CE" {
			t.Errorf("unexpected leg closed: %s", p.TradingSymbol)
		}
	}
}

func TestPreviewIsIdempotentAndSideEffectFree(t *testing.T) {
	source := domain.Strategy{
		ID:   "ic-1",
		Type: domain.IronCondor,
		Positions: []domain.Position{
			pos("p1", 1, "NIFTY24FEB21000PE", -75),
		},
	}
	rule, _ := ResolveSimpleRule(domain.IronCondor, domain.BullPutSpread)
	target, _ := rule.AsTarget(nil, "t")

	plan1 := Preview(source, []Target{target})
	plan2 := Preview(source, []Target{target})

	if len(plan1.LegsToReassign) != len(plan2.LegsToReassign) {
		t.Fatal("expected repeated Preview calls to produce identical results")
	}
	// Source positions must be untouched.
	if source.Positions[0].Quantity != -75 {
		t.Fatal("Preview must not mutate the source strategy's positions")
	}
}

func TestResolveSimpleRuleRejectsUnsupportedPair(t *testing.T) {
	_, err := ResolveSimpleRule(domain.Scalping, domain.Straddle)
	var unsupported ErrUnsupportedConversion
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected ErrUnsupportedConversion, got %v", err)
	}
}

func TestSimpleRuleRequiringStrikeSelectionCannotBecomeATarget(t *testing.T) {
	rule, err := ResolveSimpleRule(domain.IronCondor, domain.IronButterfly)
	if err != nil {
		t.Fatalf("resolve rule: %v", err)
	}
	_, err = rule.AsTarget(nil, "t")
	var needsStrikes ErrRequiresStrikeSelection
	if !errors.As(err, &needsStrikes) {
		t.Fatalf("expected ErrRequiresStrikeSelection, got %v", err)
	}
}

// --- Execute ---

type fakeMorphStore struct {
	mu      sync.Mutex
	plans   map[string]domain.MorphPlanEntry
	history []domain.MorphHistoryEntry
}

func newFakeMorphStore() *fakeMorphStore {
	return &fakeMorphStore{plans: make(map[string]domain.MorphPlanEntry)}
}

func (s *fakeMorphStore) SavePlan(ctx context.Context, entry domain.MorphPlanEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[entry.ID] = entry
	return nil
}

func (s *fakeMorphStore) UpdatePlanStatus(ctx context.Context, id string, status domain.MorphPlanStatus, advisory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.plans[id]
	p.Status = status
	p.Advisory = advisory
	s.plans[id] = p
	return nil
}

func (s *fakeMorphStore) FindPlansByStatus(ctx context.Context, status domain.MorphPlanStatus) ([]domain.MorphPlanEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.MorphPlanEntry
	for _, p := range s.plans {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeMorphStore) SaveHistory(ctx context.Context, entry domain.MorphHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, entry)
	return nil
}

type fakeChildStrategy struct{ id string }

func (f fakeChildStrategy) ID() string { return f.id }
func (f fakeChildStrategy) Evaluate(ctx context.Context, snapshot strategyengine.MarketSnapshot) error {
	return nil
}

func alwaysAccept(ctx context.Context, req domain.OrderRequest) (domain.Order, bool, string) {
	return domain.Order{BrokerOrderID: "BO-" + req.TradingSymbol, Request: req, Status: domain.OrderComplete}, true, ""
}

func TestExecuteRunsFullNineStepSequenceAndCompletesThePlan(t *testing.T) {
	bus := eventbus.New()
	store := newFakeMorphStore()
	lifecycle := strategyengine.New(bus)

	source := &fakeChildStrategy{id: "ic-1"}
	lifecycle.Deploy(source, "Iron Condor 1", domain.IronCondor, nil)
	lifecycle.Arm("ic-1")
	lifecycle.ActivateOnEntryFills("ic-1")
	lifecycle.RegisterPositionLink("p-sell-pe", "ic-1")

	pePnl := decimal.NewFromInt(500)
	cePnl := decimal.NewFromInt(-200)
	peLeg := pos("p-sell-pe", 1, "NIFTY24FEB21000PE", -75)
	peLeg.UnrealizedPnl = &pePnl
	ceLeg := pos("p-sell-ce", 2, "NIFTY24FEB22000CE", -75)
	ceLeg.UnrealizedPnl = &cePnl

	sourceRecord := domain.Strategy{
		ID:        "ic-1",
		Type:      domain.IronCondor,
		Status:    domain.StrategyActive,
		Positions: []domain.Position{peLeg, ceLeg},
	}

	child := &fakeChildStrategy{id: "bps-1"}
	target := Target{Type: domain.BullPutSpread, RetainedLegs: []domain.LegClassification{domain.ClassifyLeg(domain.Sell, domain.Put)}, NewStrategy: child, Name: "Bull Put Spread 1"}
	plan := Preview(sourceRecord, []Target{target})

	engine := New(store, lifecycle, alwaysAccept, bus, Config{Enabled: true, MaxLegsToClose: 10})
	res, err := engine.Execute(context.Background(), sourceRecord, plan)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if len(res.NewStrategyIDs) != 1 || res.NewStrategyIDs[0] != "bps-1" {
		t.Fatalf("expected new strategy bps-1 deployed, got %v", res.NewStrategyIDs)
	}

	storedPlan := store.plans[res.PlanID]
	if storedPlan.Status != domain.MorphCompleted {
		t.Fatalf("expected plan COMPLETED, got %s", storedPlan.Status)
	}

	if len(store.history) != 1 || store.history[0].ChildStrategyID != "bps-1" {
		t.Fatalf("expected 1 lineage edge to bps-1, got %+v", store.history)
	}
	edge := store.history[0]
	if edge.ParentPnlAtMorph == nil || !edge.ParentPnlAtMorph.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("expected parent P&L at morph 300 (500-200), got %v", edge.ParentPnlAtMorph)
	}
	if edge.Reason == "" {
		t.Fatal("expected a non-empty morph reason")
	}

	sourceRec, _ := lifecycle.Get("ic-1")
	if sourceRec.Status != domain.StrategyClosed {
		t.Fatalf("expected source strategy CLOSED, got %s", sourceRec.Status)
	}

	childRec, _ := lifecycle.Get("bps-1")
	if childRec.Status != domain.StrategyCreated {
		t.Fatalf("expected new strategy deployed in CREATED, got %s", childRec.Status)
	}

	owners := lifecycle.OwnersOf("p-sell-pe")
	if len(owners) != 1 || owners[0] != "bps-1" {
		t.Fatalf("expected retained leg reassigned to bps-1, got %v", owners)
	}
}

func TestExecuteRejectsWhenMorphingDisabled(t *testing.T) {
	bus := eventbus.New()
	store := newFakeMorphStore()
	lifecycle := strategyengine.New(bus)
	engine := New(store, lifecycle, alwaysAccept, bus, Config{Enabled: false})

	_, err := engine.Execute(context.Background(), domain.Strategy{ID: "x", Status: domain.StrategyActive}, Plan{})
	if !errors.Is(err, ErrMorphingDisabled) {
		t.Fatalf("expected ErrMorphingDisabled, got %v", err)
	}
}

func TestExecuteRejectsIneligibleSourceStatus(t *testing.T) {
	bus := eventbus.New()
	store := newFakeMorphStore()
	lifecycle := strategyengine.New(bus)
	engine := New(store, lifecycle, alwaysAccept, bus, Config{Enabled: true})

	_, err := engine.Execute(context.Background(), domain.Strategy{ID: "x", Status: domain.StrategyCreated}, Plan{})
	if !errors.Is(err, ErrSourceNotEligible) {
		t.Fatalf("expected ErrSourceNotEligible, got %v", err)
	}
}

func TestExecuteRejectsPlanExceedingCloseLimit(t *testing.T) {
	bus := eventbus.New()
	store := newFakeMorphStore()
	lifecycle := strategyengine.New(bus)
	engine := New(store, lifecycle, alwaysAccept, bus, Config{Enabled: true, MaxLegsToClose: 1})

	plan := Plan{LegsToClose: []domain.Position{pos("p1", 1, "A", -75), pos("p2", 2, "B", -75)}}
	_, err := engine.Execute(context.Background(), domain.Strategy{ID: "x", Status: domain.StrategyActive}, plan)
	if !errors.Is(err, ErrTooManyClosures) {
		t.Fatalf("expected ErrTooManyClosures, got %v", err)
	}
}

func TestRecoverAtStartupMarksExecutingPlansPartiallyDone(t *testing.T) {
	bus := eventbus.New()
	store := newFakeMorphStore()
	store.plans["stuck-1"] = domain.MorphPlanEntry{ID: "stuck-1", Status: domain.MorphExecuting}
	store.plans["done-1"] = domain.MorphPlanEntry{ID: "done-1", Status: domain.MorphCompleted}

	lifecycle := strategyengine.New(bus)
	engine := New(store, lifecycle, alwaysAccept, bus, Config{Enabled: true})

	n, err := engine.RecoverAtStartup(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 plan recovered, got %d", n)
	}
	if store.plans["stuck-1"].Status != domain.MorphPartiallyDone {
		t.Fatalf("expected stuck-1 PARTIALLY_DONE, got %s", store.plans["stuck-1"].Status)
	}
	if store.plans["done-1"].Status != domain.MorphCompleted {
		t.Fatal("expected already-completed plans left untouched")
	}
}

// --- Lineage ---

type fakeLineageStore struct {
	edges []domain.MorphHistoryEntry
}

func (s *fakeLineageStore) FindHistoryByChild(ctx context.Context, childID string) (*domain.MorphHistoryEntry, error) {
	for _, e := range s.edges {
		if e.ChildStrategyID == childID {
			edge := e
			return &edge, nil
		}
	}
	return nil, nil
}

func (s *fakeLineageStore) FindHistoryByParent(ctx context.Context, parentID string) ([]domain.MorphHistoryEntry, error) {
	var out []domain.MorphHistoryEntry
	for _, e := range s.edges {
		if e.ParentStrategyID == parentID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestGetLineageTreeWalksAncestorsAndDescendants(t *testing.T) {
	pnl1 := decimal.NewFromInt(500)
	pnl2 := decimal.NewFromInt(-200)
	store := &fakeLineageStore{edges: []domain.MorphHistoryEntry{
		{ParentStrategyID: "root", ChildStrategyID: "mid", ParentPnlAtMorph: &pnl1},
		{ParentStrategyID: "mid", ChildStrategyID: "leaf", ParentPnlAtMorph: &pnl2},
		{ParentStrategyID: "mid", ChildStrategyID: "sibling"},
	}}

	tree, err := GetLineageTree(context.Background(), store, "leaf")
	if err != nil {
		t.Fatalf("get lineage tree: %v", err)
	}
	if len(tree.Ancestors) != 2 {
		t.Fatalf("expected 2 ancestor edges (leaf<-mid, mid<-root), got %d", len(tree.Ancestors))
	}
	if tree.Ancestors[0].ParentStrategyID != "mid" {
		t.Fatalf("expected nearest ancestor first, got %+v", tree.Ancestors[0])
	}

	descTree, err := GetLineageTree(context.Background(), store, "root")
	if err != nil {
		t.Fatalf("get lineage tree: %v", err)
	}
	if len(descTree.Descendants) != 3 {
		t.Fatalf("expected 3 descendant edges (mid, leaf, sibling), got %d", len(descTree.Descendants))
	}

	pnl, err := GetCumulativePnl(context.Background(), store, "leaf")
	if err != nil {
		t.Fatalf("get cumulative pnl: %v", err)
	}
	if !pnl.Equal(pnl1.Add(pnl2)) {
		t.Fatalf("expected cumulative pnl %s, got %s", pnl1.Add(pnl2), pnl)
	}
}
