package strategyengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
)

type fakeStrategy struct {
	id       string
	mu       sync.Mutex
	calls    int
	err      error
	panicOn  bool
}

func (f *fakeStrategy) ID() string { return f.id }

func (f *fakeStrategy) Evaluate(ctx context.Context, snapshot MarketSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.panicOn {
		panic("boom")
	}
	return f.err
}

func (f *fakeStrategy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func tick(token int64) domain.Tick {
	return domain.Tick{InstrumentToken: token, LastPrice: decimal.NewFromInt(100), Timestamp: time.Now()}
}

func TestLifecycleFollowsDeclaredGraph(t *testing.T) {
	eng := New(eventbus.New())
	strat := &fakeStrategy{id: "s1"}
	rec, err := eng.Deploy(strat, "Iron Condor 1", domain.IronCondor, nil)
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if rec.Status != domain.StrategyCreated {
		t.Fatalf("expected CREATED, got %s", rec.Status)
	}

	if _, err := eng.Arm("s1"); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if _, err := eng.ActivateOnEntryFills("s1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := eng.Pause("s1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := eng.Resume("s1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if _, err := eng.Close("s1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := eng.CompleteExit("s1"); err != nil {
		t.Fatalf("complete-exit: %v", err)
	}

	got, _ := eng.Get("s1")
	if got.Status != domain.StrategyClosed {
		t.Fatalf("expected CLOSED, got %s", got.Status)
	}
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	eng := New(eventbus.New())
	strat := &fakeStrategy{id: "s1"}
	eng.Deploy(strat, "n", domain.IronCondor, nil)

	if _, err := eng.ActivateOnEntryFills("s1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal-transition error activating a CREATED strategy, got %v", err)
	}
	if _, err := eng.Close("s1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal-transition error closing a CREATED strategy, got %v", err)
	}

	if err := eng.Undeploy("s1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal-transition error undeploying a non-CLOSED strategy, got %v", err)
	}
}

func TestPauseAllPausesOnlyArmedAndActiveStrategies(t *testing.T) {
	eng := New(eventbus.New())

	s1, s2, s3 := &fakeStrategy{id: "s1"}, &fakeStrategy{id: "s2"}, &fakeStrategy{id: "s3"}
	eng.Deploy(s1, "n1", domain.IronCondor, nil)
	eng.Deploy(s2, "n2", domain.IronCondor, nil)
	eng.Deploy(s3, "n3", domain.IronCondor, nil)

	eng.Arm("s1")
	eng.Arm("s2")
	eng.ActivateOnEntryFills("s2")
	// s3 left in CREATED.

	eng.PauseAll()

	r1, _ := eng.Get("s1")
	r2, _ := eng.Get("s2")
	r3, _ := eng.Get("s3")
	if r1.Status != domain.StrategyPaused {
		t.Errorf("expected s1 PAUSED, got %s", r1.Status)
	}
	if r2.Status != domain.StrategyPaused {
		t.Errorf("expected s2 PAUSED, got %s", r2.Status)
	}
	if r3.Status != domain.StrategyCreated {
		t.Errorf("expected s3 left untouched in CREATED, got %s", r3.Status)
	}
}

func TestForceAdjustmentRequiresActive(t *testing.T) {
	eng := New(eventbus.New())
	strat := &fakeStrategy{id: "s1"}
	eng.Deploy(strat, "n", domain.IronCondor, nil)
	eng.Arm("s1")

	if err := eng.ForceAdjustment("s1", "CLOSE_ALL"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected illegal-transition error force-adjusting an ARMED strategy, got %v", err)
	}

	eng.ActivateOnEntryFills("s1")
	if err := eng.ForceAdjustment("s1", "CLOSE_ALL"); err != nil {
		t.Fatalf("force-adjustment on ACTIVE strategy should succeed, got %v", err)
	}
	rec, _ := eng.Get("s1")
	if rec.Status != domain.StrategyClosing {
		t.Fatalf("CLOSE_ALL should transition to CLOSING, got %s", rec.Status)
	}
}

func TestOnTickDispatchesOnlyToArmedOrActiveStrategies(t *testing.T) {
	eng := New(eventbus.New())

	armed := &fakeStrategy{id: "armed"}
	active := &fakeStrategy{id: "active"}
	created := &fakeStrategy{id: "created"}
	paused := &fakeStrategy{id: "paused"}

	eng.Deploy(armed, "n", domain.IronCondor, nil)
	eng.Deploy(active, "n", domain.IronCondor, nil)
	eng.Deploy(created, "n", domain.IronCondor, nil)
	eng.Deploy(paused, "n", domain.IronCondor, nil)

	eng.Arm("armed")
	eng.Arm("active")
	eng.ActivateOnEntryFills("active")
	eng.Arm("paused")
	eng.Pause("paused")

	eng.OnTick(context.Background(), tick(1))

	if armed.callCount() != 1 {
		t.Errorf("expected ARMED strategy evaluated once, got %d", armed.callCount())
	}
	if active.callCount() != 1 {
		t.Errorf("expected ACTIVE strategy evaluated once, got %d", active.callCount())
	}
	if created.callCount() != 0 {
		t.Errorf("expected CREATED strategy not evaluated, got %d", created.callCount())
	}
	if paused.callCount() != 0 {
		t.Errorf("expected PAUSED strategy not evaluated, got %d", paused.callCount())
	}
}

func TestOnTickIsolatesPanickingStrategy(t *testing.T) {
	eng := New(eventbus.New())

	broken := &fakeStrategy{id: "broken", panicOn: true}
	fine := &fakeStrategy{id: "fine"}
	eng.Deploy(broken, "n", domain.IronCondor, nil)
	eng.Deploy(fine, "n", domain.IronCondor, nil)
	eng.Arm("broken")
	eng.Arm("fine")

	eng.OnTick(context.Background(), tick(1))

	if fine.callCount() != 1 {
		t.Fatalf("a panicking strategy must not prevent others from being evaluated, got %d calls", fine.callCount())
	}
}

func TestReverseIndexFansPositionUpdatesToOwners(t *testing.T) {
	eng := New(eventbus.New())
	strat := &fakeStrategy{id: "s1"}
	eng.Deploy(strat, "n", domain.IronCondor, nil)

	eng.RegisterPositionLink("pos-1", "s1")
	eng.RegisterPositionLink("pos-1", "s1") // idempotent

	pos := domain.Position{ID: "pos-1", InstrumentToken: 42, Quantity: 75}
	eng.OnPositionEvent(context.Background(), eventbus.PositionEvent{Type: eventbus.PositionOpened, Position: pos})

	rec, _ := eng.Get("s1")
	if len(rec.Positions) != 1 || rec.Positions[0].ID != "pos-1" {
		t.Fatalf("expected strategy to own pos-1, got %+v", rec.Positions)
	}

	eng.UnregisterPositionLink("pos-1", "s1")
	eng.UnregisterPositionLink("pos-1", "s1") // tolerates missing link

	updated := pos
	updated.Quantity = 0
	eng.OnPositionEvent(context.Background(), eventbus.PositionEvent{Type: eventbus.PositionClosed, Position: updated})

	rec2, _ := eng.Get("s1")
	if len(rec2.Positions) != 1 || rec2.Positions[0].Quantity != 75 {
		t.Fatalf("update for an unindexed position must be silently dropped, got %+v", rec2.Positions)
	}
}

func TestPopulatePositionIndexClearsAndRebuilds(t *testing.T) {
	eng := New(eventbus.New())
	eng.RegisterPositionLink("stale", "s0")

	eng.PopulatePositionIndex([]PositionLink{
		{PositionID: "pos-1", StrategyID: "s1"},
		{PositionID: "pos-1", StrategyID: "s2"},
	})

	if owners := eng.OwnersOf("stale"); len(owners) != 0 {
		t.Fatalf("expected stale link cleared, got %v", owners)
	}
	owners := eng.OwnersOf("pos-1")
	if len(owners) != 2 {
		t.Fatalf("expected 2 owners for pos-1, got %v", owners)
	}
}

func TestUndeployRequiresClosed(t *testing.T) {
	eng := New(eventbus.New())
	strat := &fakeStrategy{id: "s1"}
	eng.Deploy(strat, "n", domain.IronCondor, nil)
	eng.Arm("s1")
	eng.ActivateOnEntryFills("s1")
	eng.Close("s1")
	eng.CompleteExit("s1")

	if err := eng.Undeploy("s1"); err != nil {
		t.Fatalf("undeploy of CLOSED strategy should succeed, got %v", err)
	}
	if _, ok := eng.Get("s1"); ok {
		t.Fatal("expected strategy removed from registry after undeploy")
	}
}
