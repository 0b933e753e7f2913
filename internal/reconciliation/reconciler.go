// Package reconciliation implements the Reconciliation Service (C11): a
// periodic, market-hours-gated diff of broker-reported positions against
// the local KV store, with classified mismatches and an AUTO_SYNC/
// ALERT_ONLY resolution policy.
package reconciliation

import (
	"context"

	"github.com/shopspring/decimal"

	"ironcondor/internal/broker"
	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

// priceDriftThreshold is the fractional divergence above which a matched
// pair's price difference is classified PRICE_DRIFT.
var priceDriftThreshold = decimal.NewFromFloat(0.02)

// PositionStore is the local position store this service diffs broker
// positions against. Defined locally (mirroring router.KVStore) to avoid
// an import cycle with internal/storage.
type PositionStore interface {
	FindAllPositions(ctx context.Context) ([]domain.Position, error)
	SavePosition(ctx context.Context, p domain.Position) error
	DeletePosition(ctx context.Context, instrumentToken int64) error
}

// MarketClock reports whether the market session is currently open; the
// reconciliation job only runs its scheduled trigger while true (manual
// and startup triggers ignore it).
type MarketClock interface {
	IsMarketOpen() bool
}

// Trigger is the reason a reconciliation run was invoked.
type Trigger string

const (
	TriggerManual    Trigger = "MANUAL"
	TriggerScheduled Trigger = "SCHEDULED"
	TriggerStartup   Trigger = "STARTUP"
)

// Result is the outcome of one reconciliation run.
type Result struct {
	Trigger    Trigger
	Mismatches []domain.PositionMismatch
	Skipped    bool // true when a SCHEDULED run was gated by a closed market
}

// Service runs reconciliation against a broker gateway and a local store.
type Service struct {
	gateway broker.Gateway
	store   PositionStore
	clock   MarketClock
	bus     *eventbus.Bus
}

// New builds a Service.
func New(gateway broker.Gateway, store PositionStore, clock MarketClock, bus *eventbus.Bus) *Service {
	return &Service{gateway: gateway, store: store, clock: clock, bus: bus}
}

// Run executes one reconciliation pass. SCHEDULED runs are gated on the
// market being open; MANUAL and STARTUP runs always proceed.
func (s *Service) Run(ctx context.Context, trigger Trigger) (Result, error) {
	if trigger == TriggerScheduled && s.clock != nil && !s.clock.IsMarketOpen() {
		return Result{Trigger: trigger, Skipped: true}, nil
	}

	brokerPositions, err := s.gateway.GetPositions(ctx)
	if err != nil {
		observability.LogEvent(ctx, "error", "reconciliation_fetch_broker_failed", map[string]any{"error": err, "trigger": trigger})
		return Result{}, err
	}
	localPositions, err := s.store.FindAllPositions(ctx)
	if err != nil {
		observability.LogEvent(ctx, "error", "reconciliation_fetch_local_failed", map[string]any{"error": err, "trigger": trigger})
		return Result{}, err
	}

	brokerByToken := make(map[int64]domain.Position)
	for _, positions := range brokerPositions {
		for _, p := range positions {
			if p.Quantity == 0 {
				continue
			}
			brokerByToken[p.InstrumentToken] = p
		}
	}
	localByToken := make(map[int64]domain.Position, len(localPositions))
	for _, p := range localPositions {
		localByToken[p.InstrumentToken] = p
	}

	var mismatches []domain.PositionMismatch
	for token, bp := range brokerByToken {
		lp, ok := localByToken[token]
		if !ok {
			mismatches = append(mismatches, s.resolveMissingLocal(ctx, bp))
			continue
		}
		if m, found := classifyPair(bp, lp); found {
			mismatches = append(mismatches, s.resolve(ctx, m, bp))
		}
	}
	for token, lp := range localByToken {
		if _, ok := brokerByToken[token]; !ok {
			mismatches = append(mismatches, s.resolveMissingBroker(ctx, lp))
		}
	}

	s.bus.Publish(eventbus.ReconciliationEvent{Mismatches: mismatches, Trigger: string(trigger), Manual: trigger == TriggerManual})
	for _, m := range mismatches {
		s.notify(m)
	}

	return Result{Trigger: trigger, Mismatches: mismatches}, nil
}

// classifyPair compares a matched broker/local pair, returning the
// mismatch (quantity takes precedence over price) if one exists.
func classifyPair(bp, lp domain.Position) (domain.PositionMismatch, bool) {
	base := domain.PositionMismatch{
		InstrumentToken: bp.InstrumentToken,
		BrokerQuantity:  bp.Quantity,
		LocalQuantity:   lp.Quantity,
		BrokerPrice:     bp.AveragePrice,
		LocalPrice:      lp.AveragePrice,
	}
	if bp.Quantity != lp.Quantity {
		base.Type = domain.QuantityMismatch
		base.Resolution = domain.AutoSync
		return base, true
	}
	if lp.AveragePrice.IsZero() {
		return domain.PositionMismatch{}, false
	}
	drift := bp.AveragePrice.Sub(lp.AveragePrice).Abs().Div(lp.AveragePrice)
	if drift.GreaterThan(priceDriftThreshold) {
		base.Type = domain.PriceDrift
		base.Resolution = domain.AlertOnly
		return base, true
	}
	return domain.PositionMismatch{}, false
}

func (s *Service) resolveMissingLocal(ctx context.Context, bp domain.Position) domain.PositionMismatch {
	m := domain.PositionMismatch{
		InstrumentToken: bp.InstrumentToken,
		Type:            domain.MissingLocal,
		Resolution:      domain.AutoSync,
		BrokerQuantity:  bp.Quantity,
		BrokerPrice:     bp.AveragePrice,
	}
	if err := s.store.SavePosition(ctx, bp); err != nil {
		observability.LogEvent(ctx, "error", "reconciliation_auto_sync_save_failed", map[string]any{
			"instrument_token": bp.InstrumentToken, "error": err,
		})
	}
	return m
}

func (s *Service) resolveMissingBroker(ctx context.Context, lp domain.Position) domain.PositionMismatch {
	m := domain.PositionMismatch{
		InstrumentToken: lp.InstrumentToken,
		Type:            domain.MissingBroker,
		Resolution:      domain.AutoSync,
		LocalQuantity:   lp.Quantity,
		LocalPrice:      lp.AveragePrice,
	}
	if err := s.store.DeletePosition(ctx, lp.InstrumentToken); err != nil {
		observability.LogEvent(ctx, "error", "reconciliation_auto_sync_delete_failed", map[string]any{
			"instrument_token": lp.InstrumentToken, "error": err,
		})
	}
	return m
}

// resolve applies AUTO_SYNC (replace local with broker's snapshot) for
// QUANTITY_MISMATCH; PRICE_DRIFT is ALERT_ONLY and never mutates state.
func (s *Service) resolve(ctx context.Context, m domain.PositionMismatch, bp domain.Position) domain.PositionMismatch {
	if m.Resolution != domain.AutoSync {
		return m
	}
	if err := s.store.SavePosition(ctx, bp); err != nil {
		observability.LogEvent(ctx, "error", "reconciliation_auto_sync_save_failed", map[string]any{
			"instrument_token": bp.InstrumentToken, "error": err,
		})
	}
	return m
}

func (s *Service) notify(m domain.PositionMismatch) {
	level := eventbus.RiskInfo
	switch m.Type {
	case domain.MissingBroker:
		level = eventbus.RiskCritical
	case domain.QuantityMismatch, domain.MissingLocal:
		level = eventbus.RiskWarning
	}
	s.bus.Publish(eventbus.NewRiskEvent(level, "position reconciliation mismatch: "+string(m.Type), map[string]any{
		"instrument_token": m.InstrumentToken,
		"resolution":       string(m.Resolution),
	}))
}
