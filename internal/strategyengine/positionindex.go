package strategyengine

import (
	"context"

	"ironcondor/internal/domain"
	"ironcondor/internal/eventbus"
	"ironcondor/internal/observability"
)

// RegisterPositionLink adds positionID to strategyID's owned set. Calling
// it again for the same pair is a no-op.
func (e *Engine) RegisterPositionLink(positionID, strategyID string) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	owners, ok := e.index[positionID]
	if !ok {
		owners = make(map[string]struct{})
		e.index[positionID] = owners
	}
	owners[strategyID] = struct{}{}
}

// UnregisterPositionLink removes one (positionID, strategyID) link.
// Missing links are tolerated.
func (e *Engine) UnregisterPositionLink(positionID, strategyID string) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	owners, ok := e.index[positionID]
	if !ok {
		return
	}
	delete(owners, strategyID)
	if len(owners) == 0 {
		delete(e.index, positionID)
	}
}

// PositionLink pairs a position with one of its owning strategies, used
// to rebuild the reverse index at startup.
type PositionLink struct {
	PositionID string
	StrategyID string
}

// PopulatePositionIndex clears the reverse index and rebuilds it from
// links, used once at startup after recovering positions/strategies from
// durable storage.
func (e *Engine) PopulatePositionIndex(links []PositionLink) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	e.index = make(map[string]map[string]struct{}, len(links))
	for _, l := range links {
		owners, ok := e.index[l.PositionID]
		if !ok {
			owners = make(map[string]struct{})
			e.index[l.PositionID] = owners
		}
		owners[l.StrategyID] = struct{}{}
	}
}

// OwnersOf returns the strategy ids linked to positionID.
func (e *Engine) OwnersOf(positionID string) []string {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()
	owners, ok := e.index[positionID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(owners))
	for id := range owners {
		out = append(out, id)
	}
	return out
}

// OnPositionEvent fans a position update out to every owning strategy's
// record, updating its owned-positions snapshot in place. An update for a
// position with no registered owners is silently dropped.
func (e *Engine) OnPositionEvent(ctx context.Context, evt eventbus.PositionEvent) {
	owners := e.OwnersOf(evt.Position.ID)
	if len(owners) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, strategyID := range owners {
		inst, ok := e.strategies[strategyID]
		if !ok {
			continue
		}
		inst.record.Positions = upsertPosition(inst.record.Positions, evt.Position)
	}

	if evt.Type == eventbus.PositionClosed {
		observability.LogEvent(ctx, "debug", "strategy_position_closed", map[string]any{
			"position_id": evt.Position.ID,
		})
	}
}

func upsertPosition(positions []domain.Position, updated domain.Position) []domain.Position {
	for i, p := range positions {
		if p.ID == updated.ID {
			positions[i] = updated
			return positions
		}
	}
	return append(positions, updated)
}
