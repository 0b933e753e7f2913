// Package barseries maintains the per-instrument bounded ring of finalized
// OHLCV bars plus the bar currently being accumulated from live ticks.
package barseries

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

// PendingBar is the bar currently being accumulated from ticks. A
// PendingBar with a zero OpenTime has not yet seen its first tick.
type PendingBar struct {
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	OpenTime  time.Time
	CloseTime time.Time
}

func (p PendingBar) hasData() bool { return !p.OpenTime.IsZero() }

// toBar finalizes the PendingBar into a domain.Bar, recording its
// open/close times in the configured market zone. Comparisons and
// durations elsewhere operate on the underlying instant, which a zone
// conversion never changes.
func (p PendingBar) toBar(period time.Duration, zone *time.Location) domain.Bar {
	return domain.Bar{
		Open:      p.Open,
		High:      p.High,
		Low:       p.Low,
		Close:     p.Close,
		Volume:    p.Volume,
		OpenTime:  p.OpenTime.In(zone),
		CloseTime: p.CloseTime.In(zone),
		Period:    period,
	}
}

// Manager is one instrument's bar series: a bounded ring of finalized bars
// plus the PendingBar currently accumulating. Writers are tick ingestion
// and historical seeding; readers are indicator recompute and snapshot
// queries. The read lock is held for the duration of an indicator
// recompute so the series cannot change mid-calculation.
type Manager struct {
	InstrumentToken int64
	TradingSymbol   string
	BarDuration     time.Duration
	MaxBars         int
	Zone            *time.Location

	mu      sync.RWMutex
	bars    []domain.Bar // ring, oldest first, length <= MaxBars
	pending PendingBar
}

// NewManager creates a Manager for one instrument. maxBars must be > 0.
// zone is the market time zone finalized bars record their open/close
// times in; a nil zone defaults to UTC.
func NewManager(instrumentToken int64, tradingSymbol string, barDuration time.Duration, maxBars int, zone *time.Location) *Manager {
	if maxBars <= 0 {
		maxBars = 1
	}
	if zone == nil {
		zone = time.UTC
	}
	return &Manager{
		InstrumentToken: instrumentToken,
		TradingSymbol:   tradingSymbol,
		BarDuration:     barDuration,
		MaxBars:         maxBars,
		Zone:            zone,
		bars:            make([]domain.Bar, 0, maxBars),
	}
}

// ProcessTick folds one tick into the PendingBar. If the PendingBar
// already holds data and the tick falls on or past the bar boundary, the
// PendingBar is finalized into the ring (evicting the oldest bar if full)
// before this tick starts the next PendingBar. Returns true iff a bar was
// finalized by this call.
func (m *Manager) ProcessTick(price decimal.Decimal, volume int64, ts time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	completed := false
	if m.pending.hasData() && ts.Sub(m.pending.OpenTime) >= m.BarDuration {
		m.appendBar(m.pending.toBar(m.BarDuration, m.Zone))
		m.pending = PendingBar{}
		completed = true
	}

	if !m.pending.hasData() {
		m.pending = PendingBar{
			Open: price, High: price, Low: price, Close: price,
			Volume: volume, OpenTime: ts, CloseTime: ts,
		}
		return completed
	}

	if price.GreaterThan(m.pending.High) {
		m.pending.High = price
	}
	if price.LessThan(m.pending.Low) {
		m.pending.Low = price
	}
	m.pending.Close = price
	m.pending.CloseTime = ts
	m.pending.Volume += volume
	return completed
}

// PushHistoricalBar appends a pre-finalized bar directly to the ring,
// bypassing the PendingBar path, evicting the oldest bar if the ring is
// full. Used to seed a series from broker historical-data on startup.
func (m *Manager) PushHistoricalBar(bar domain.Bar) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendBar(bar)
}

func (m *Manager) appendBar(bar domain.Bar) {
	if len(m.bars) >= m.MaxBars {
		copy(m.bars, m.bars[1:])
		m.bars = m.bars[:len(m.bars)-1]
	}
	m.bars = append(m.bars, bar)
}

// Bars returns a copy of the finalized bar ring, oldest first.
func (m *Manager) Bars() []domain.Bar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Bar, len(m.bars))
	copy(out, m.bars)
	return out
}

// Pending returns the current PendingBar snapshot.
func (m *Manager) Pending() PendingBar {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending
}

// Len returns the number of finalized bars currently held.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bars)
}

// Last returns the most recently finalized bar, if any.
func (m *Manager) Last() (domain.Bar, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.bars) == 0 {
		return domain.Bar{}, false
	}
	return m.bars[len(m.bars)-1], true
}

// WithReadLock runs fn with the series read lock held, so the series
// cannot mutate mid-calculation. fn receives the finalized bar ring
// directly (not a copy) and must not retain or mutate the slice.
func (m *Manager) WithReadLock(fn func(bars []domain.Bar, pending PendingBar)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(m.bars, m.pending)
}
