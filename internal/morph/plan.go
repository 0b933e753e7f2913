// Package morph implements the Morph Engine (C12): planning and execution
// of converting one live strategy's legs into one or more new strategies,
// with lineage tracking across conversions.
package morph

import (
	"strings"

	"ironcondor/internal/domain"
	"ironcondor/internal/strategyengine"
)

// Target describes one destination strategy of a morph: its type, the
// classifications of legs it retains from the source, and any brand new
// legs it should open. NewStrategy is the concrete strategy instance the
// caller wants deployed for this target once the plan executes.
type Target struct {
	Type         domain.StrategyType
	RetainedLegs []domain.LegClassification
	NewLegs      []domain.OrderRequest
	NewStrategy  strategyengine.Strategy
	Name         string
}

// Reassignment is one retained leg moving from the source strategy to one
// of the plan's targets.
type Reassignment struct {
	Position    domain.Position
	TargetIndex int
}

// Open is one new leg to route for a target, once the target strategy
// exists.
type Open struct {
	TargetIndex int
	Request     domain.OrderRequest
}

// Plan is the ordered set of actions a morph execution will take,
// produced by Preview and replayed (unchanged) by Execute.
type Plan struct {
	SourceID   string
	Targets    []Target
	LegsToClose    []domain.Position
	LegsToReassign []Reassignment
	LegsToOpen     []Open
}

// optionTypeOf extracts CE/PE from a trading symbol's trailing two
// characters, mirroring risk.UnderlyingOf's leading-run extraction for
// the symbol's other end.
func optionTypeOf(tradingSymbol string) domain.OptionType {
	upper := strings.ToUpper(tradingSymbol)
	if strings.HasSuffix(upper, "PE") {
		return domain.Put
	}
	return domain.Call
}

func classificationOf(p domain.Position) domain.LegClassification {
	side := domain.Sell
	if p.IsLong() {
		side = domain.Buy
	}
	return domain.ClassifyLeg(side, optionTypeOf(p.TradingSymbol))
}

// retainerOf returns the index of the first target that retains
// classification, or -1 if no target retains it.
func retainerOf(targets []Target, classification domain.LegClassification) int {
	for i, t := range targets {
		for _, c := range t.RetainedLegs {
			if c == classification {
				return i
			}
		}
	}
	return -1
}

// Preview builds a Plan for converting source into targets. It is
// idempotent and side-effect-free: it never mutates positions, strategies,
// or persisted state.
func Preview(source domain.Strategy, targets []Target) Plan {
	plan := Plan{SourceID: source.ID, Targets: targets}

	for _, p := range source.Positions {
		if p.IsClosed() {
			continue
		}
		classification := classificationOf(p)
		if idx := retainerOf(targets, classification); idx >= 0 {
			plan.LegsToReassign = append(plan.LegsToReassign, Reassignment{Position: p, TargetIndex: idx})
			continue
		}
		plan.LegsToClose = append(plan.LegsToClose, p)
	}

	for i, t := range targets {
		for _, leg := range t.NewLegs {
			plan.LegsToOpen = append(plan.LegsToOpen, Open{TargetIndex: i, Request: leg})
		}
	}

	return plan
}
