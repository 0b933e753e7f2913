// Package margin implements the Margin Service (C10): a cached snapshot
// of broker margin usage and a threshold monitor that raises a RiskEvent
// when utilization crosses the configured limit.
package margin

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ironcondor/internal/broker"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

// Snapshot is the last margin read, plus its utilization ratio.
type Snapshot struct {
	Margins     broker.Margins
	Utilization decimal.Decimal // used / (used + available); zero if both are zero
	FetchedAt   time.Time
}

// Monitor polls broker.Gateway.GetMargins on demand, caches the result,
// and flags when utilization crosses maxMarginUtilization.
type Monitor struct {
	gateway     broker.Gateway
	bus         *eventbus.Bus
	maxUtilization decimal.Decimal // 0 disables the threshold check

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewMonitor builds a Monitor. maxUtilization of zero disables the
// threshold check (null in spec.md's configuration vocabulary).
func NewMonitor(gateway broker.Gateway, bus *eventbus.Bus, maxUtilization decimal.Decimal) *Monitor {
	return &Monitor{gateway: gateway, bus: bus, maxUtilization: maxUtilization}
}

// Refresh fetches margins from the broker, updates the cached snapshot,
// and publishes a WARNING RiskEvent if utilization exceeds the configured
// threshold.
func (m *Monitor) Refresh(ctx context.Context) (Snapshot, error) {
	margins, err := m.gateway.GetMargins(ctx)
	if err != nil {
		observability.LogEvent(ctx, "error", "margin_refresh_failed", map[string]any{"error": err})
		return Snapshot{}, err
	}

	snap := Snapshot{Margins: margins, Utilization: utilizationOf(margins), FetchedAt: time.Now().UTC()}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()

	if !m.maxUtilization.IsZero() && snap.Utilization.GreaterThan(m.maxUtilization) {
		m.bus.Publish(eventbus.NewRiskEvent(eventbus.RiskWarning, "margin utilization threshold exceeded", map[string]any{
			"utilization": snap.Utilization.String(),
			"limit":       m.maxUtilization.String(),
		}))
	}

	return snap, nil
}

// Cached returns the last fetched snapshot without hitting the broker.
func (m *Monitor) Cached() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

func utilizationOf(margins broker.Margins) decimal.Decimal {
	total := margins.Used.Add(margins.Available)
	if total.IsZero() {
		return decimal.Zero
	}
	return margins.Used.Div(total).Round(4)
}
