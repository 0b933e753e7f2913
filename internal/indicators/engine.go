package indicators

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"ironcondor/internal/barseries"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

// InstrumentConfig is one instrument's indicator configuration.
type InstrumentConfig struct {
	InstrumentToken int64
	TradingSymbol   string
	BarDuration     time.Duration
	MaxBars         int
	Indicators      []Definition
}

// cacheKey identifies one (instrument, indicator-key) cell.
type cacheKey struct {
	instrumentToken int64
	key             string
}

// Engine owns the bar series store plus the indicator cache for every
// tracked instrument, and recomputes the cache whenever a bar completes.
type Engine struct {
	series *barseries.Store
	bus    *eventbus.Bus

	mu         sync.RWMutex
	defs       map[int64][]Definition
	symbols    map[int64]string
	activeOnly map[int64]struct{} // lazy-calc gate; empty means "all active"

	cacheMu sync.RWMutex
	cache   map[cacheKey]decimal.Decimal
}

// NewEngine creates an Engine bound to a bar series store and event bus.
func NewEngine(series *barseries.Store, bus *eventbus.Bus) *Engine {
	return &Engine{
		series:     series,
		bus:        bus,
		defs:       make(map[int64][]Definition),
		symbols:    make(map[int64]string),
		activeOnly: make(map[int64]struct{}),
		cache:      make(map[cacheKey]decimal.Decimal),
	}
}

// Track registers an instrument's bar series and indicator definitions.
func (e *Engine) Track(cfg InstrumentConfig) {
	e.series.Register(cfg.InstrumentToken, cfg.TradingSymbol, cfg.BarDuration, cfg.MaxBars)

	e.mu.Lock()
	e.defs[cfg.InstrumentToken] = cfg.Indicators
	e.symbols[cfg.InstrumentToken] = cfg.TradingSymbol
	e.mu.Unlock()
}

// SetActiveInstruments restricts recomputation to the given instrument
// tokens. An empty set disables the gate (every tracked instrument
// recomputes).
func (e *Engine) SetActiveInstruments(tokens []int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activeOnly = make(map[int64]struct{}, len(tokens))
	for _, t := range tokens {
		e.activeOnly[t] = struct{}{}
	}
}

func (e *Engine) isGated(token int64) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if len(e.activeOnly) == 0 {
		return false
	}
	_, ok := e.activeOnly[token]
	return !ok
}

// OnTick handles one tick: untracked instruments are ignored with no
// work. On a completed bar, recomputes the gated indicator set and
// publishes IndicatorUpdateEvent if the resulting snapshot is non-empty.
func (e *Engine) OnTick(tick domain.Tick) {
	mgr, ok := e.series.Get(tick.InstrumentToken)
	if !ok {
		return
	}
	completed := mgr.ProcessTick(tick.LastPrice, tick.Volume, tick.Timestamp)
	if !completed {
		return
	}
	if e.isGated(tick.InstrumentToken) {
		return
	}
	e.recompute(tick.InstrumentToken, mgr)
}

func (e *Engine) recompute(token int64, mgr *barseries.Manager) {
	e.mu.RLock()
	defs := append([]Definition(nil), e.defs[token]...)
	symbol := e.symbols[token]
	e.mu.RUnlock()

	snapshot := make(map[string]float64)
	mgr.WithReadLock(func(bars []domain.Bar, _ barseries.PendingBar) {
		for _, def := range defs {
			res, err := computeResult(def, bars)
			if err != nil {
				observability.LogEvent(nil, "debug", "indicator_insufficient_data", map[string]any{
					"instrument_token": token,
					"indicator":        string(def.Type),
					"error":            err,
				})
				continue
			}
			for key, val := range res {
				e.cacheMu.Lock()
				e.cache[cacheKey{instrumentToken: token, key: key}] = val
				e.cacheMu.Unlock()
				f, _ := val.Float64()
				snapshot[key] = f
			}
		}
	})

	if len(snapshot) == 0 {
		return
	}
	e.bus.Publish(eventbus.IndicatorUpdateEvent{
		InstrumentToken: token,
		TradingSymbol:   symbol,
		Snapshot:        snapshot,
		At:              time.Now().UTC(),
	})
}

// Value returns the cached value for one (instrument, cache-key) cell.
func (e *Engine) Value(token int64, key string) (decimal.Decimal, bool) {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	v, ok := e.cache[cacheKey{instrumentToken: token, key: key}]
	return v, ok
}

// Snapshot returns every cached value for one instrument.
func (e *Engine) Snapshot(token int64) map[string]decimal.Decimal {
	e.cacheMu.RLock()
	defer e.cacheMu.RUnlock()
	out := make(map[string]decimal.Decimal)
	for k, v := range e.cache {
		if k.instrumentToken == token {
			out[k.key] = v
		}
	}
	return out
}
