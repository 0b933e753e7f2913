package execution

import (
	"context"

	"ironcondor/internal/domain"
	"ironcondor/internal/observability"
)

// rollback routes an opposite-side order for every leg whose outcome
// completed, using the same instrument/quantity/price and a correlation
// id of "ROLLBACK-"+originalTag. Rollback failures are logged but never
// halt the unwinding of the remaining legs.
func (e *Executor) rollback(ctx context.Context, groupID string, outcomes []LegOutcome) {
	for _, o := range outcomes {
		if o.Status != domain.JournalCompleted {
			continue
		}
		originalTag := o.Order.BrokerOrderID
		if originalTag == "" {
			originalTag = o.Request.CorrelationID
		}
		counter := domain.OrderRequest{
			InstrumentToken: o.Request.InstrumentToken,
			TradingSymbol:   o.Request.TradingSymbol,
			Exchange:        o.Request.Exchange,
			Side:            o.Request.Side.Opposite(),
			OrderType:       domain.OrderMarket,
			ProductCode:     o.Request.ProductCode,
			Quantity:        o.Request.Quantity,
			Price:           o.Request.Price,
			StrategyID:      o.Request.StrategyID,
			CorrelationID:   "ROLLBACK-" + originalTag,
		}
		if _, accepted, reason := e.route(ctx, counter); !accepted {
			observability.LogEvent(ctx, "error", "rollback_order_failed", map[string]any{
				"execution_group_id": groupID,
				"leg_index":          o.Index,
				"reason":             reason,
			})
		}
	}
}
