package margin

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"ironcondor/internal/broker"
	"ironcondor/internal/eventbus"
)

type fakeGateway struct {
	broker.Gateway
	margins broker.Margins
	err     error
}

func (f *fakeGateway) GetMargins(ctx context.Context) (broker.Margins, error) {
	return f.margins, f.err
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestRefreshComputesUtilizationAndCaches(t *testing.T) {
	gw := &fakeGateway{margins: broker.Margins{Used: d("60000"), Available: d("40000"), Cash: d("100000")}}
	mon := NewMonitor(gw, eventbus.New(), d("0.9"))

	snap, err := mon.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if !snap.Utilization.Equal(d("0.6")) {
		t.Fatalf("expected utilization 0.6, got %s", snap.Utilization)
	}

	cached := mon.Cached()
	if !cached.Utilization.Equal(d("0.6")) {
		t.Fatalf("expected cached snapshot to match refreshed value, got %s", cached.Utilization)
	}
}

func TestRefreshPublishesWarningAboveThreshold(t *testing.T) {
	gw := &fakeGateway{margins: broker.Margins{Used: d("95000"), Available: d("5000")}}
	bus := eventbus.New()

	var captured []eventbus.RiskEvent
	bus.Subscribe(eventbus.RiskEvent{}, eventbus.PriorityDefault, func(event any) error {
		captured = append(captured, event.(eventbus.RiskEvent))
		return nil
	})

	mon := NewMonitor(gw, bus, d("0.9"))
	if _, err := mon.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if len(captured) != 1 {
		t.Fatalf("expected 1 RiskEvent published, got %d", len(captured))
	}
	if captured[0].Level != eventbus.RiskWarning {
		t.Fatalf("expected WARNING level, got %s", captured[0].Level)
	}
}

func TestRefreshSkipsThresholdCheckWhenDisabled(t *testing.T) {
	gw := &fakeGateway{margins: broker.Margins{Used: d("99000"), Available: d("1000")}}
	bus := eventbus.New()

	var captured []eventbus.RiskEvent
	bus.Subscribe(eventbus.RiskEvent{}, eventbus.PriorityDefault, func(event any) error {
		captured = append(captured, event.(eventbus.RiskEvent))
		return nil
	})

	mon := NewMonitor(gw, bus, decimal.Zero)
	if _, err := mon.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(captured) != 0 {
		t.Fatalf("expected no RiskEvent when threshold disabled, got %d", len(captured))
	}
}

func TestUtilizationIsZeroWhenNoMarginData(t *testing.T) {
	got := utilizationOf(broker.Margins{})
	if !got.IsZero() {
		t.Fatalf("expected zero utilization with no margin data, got %s", got)
	}
}
