package morph

import (
	"fmt"

	"ironcondor/internal/domain"
	"ironcondor/internal/strategyengine"
)

// SimpleRule is a fixed (sourceType, targetType) conversion sketch: which
// leg classifications the target retains, and whether the conversion
// needs strike selection the resolver cannot do on its own (in which case
// it cannot be auto-converted into a full Target with concrete new legs).
type SimpleRule struct {
	SourceType              domain.StrategyType
	TargetType              domain.StrategyType
	RetainedLegs            []domain.LegClassification
	RequiresStrikeSelection bool
}

type ruleKey struct {
	source domain.StrategyType
	target domain.StrategyType
}

var simpleRules = map[ruleKey]SimpleRule{
	{domain.IronCondor, domain.BullPutSpread}: {
		SourceType:   domain.IronCondor,
		TargetType:   domain.BullPutSpread,
		RetainedLegs: []domain.LegClassification{domain.ClassifyLeg(domain.Sell, domain.Put), domain.ClassifyLeg(domain.Buy, domain.Put)},
	},
	{domain.IronCondor, domain.BearCallSpread}: {
		SourceType:   domain.IronCondor,
		TargetType:   domain.BearCallSpread,
		RetainedLegs: []domain.LegClassification{domain.ClassifyLeg(domain.Sell, domain.Call), domain.ClassifyLeg(domain.Buy, domain.Call)},
	},
	{domain.IronCondor, domain.IronButterfly}: {
		SourceType:              domain.IronCondor,
		TargetType:              domain.IronButterfly,
		RequiresStrikeSelection: true,
	},
	{domain.IronButterfly, domain.Straddle}: {
		SourceType:   domain.IronButterfly,
		TargetType:   domain.Straddle,
		RetainedLegs: []domain.LegClassification{domain.ClassifyLeg(domain.Sell, domain.Call), domain.ClassifyLeg(domain.Sell, domain.Put)},
	},
	{domain.Strangle, domain.Straddle}: {
		SourceType:              domain.Strangle,
		TargetType:              domain.Straddle,
		RequiresStrikeSelection: true,
	},
}

// ErrUnsupportedConversion is returned by ResolveSimpleRule for
// (source, target) pairs with no configured rule.
type ErrUnsupportedConversion struct {
	Source domain.StrategyType
	Target domain.StrategyType
}

func (e ErrUnsupportedConversion) Error() string {
	return fmt.Sprintf("morph: no simple rule from %s to %s", e.Source, e.Target)
}

// ErrRequiresStrikeSelection is returned by AsTarget when a resolved rule
// needs strike selection the resolver cannot perform, so it cannot be
// auto-converted into a full Target.
type ErrRequiresStrikeSelection struct {
	Source domain.StrategyType
	Target domain.StrategyType
}

func (e ErrRequiresStrikeSelection) Error() string {
	return fmt.Sprintf("morph: %s to %s requires strike selection and cannot be auto-converted", e.Source, e.Target)
}

// ResolveSimpleRule looks up the fixed conversion sketch for
// (source, target). Unsupported pairs return ErrUnsupportedConversion.
func ResolveSimpleRule(source, target domain.StrategyType) (SimpleRule, error) {
	rule, ok := simpleRules[ruleKey{source, target}]
	if !ok {
		return SimpleRule{}, ErrUnsupportedConversion{Source: source, Target: target}
	}
	return rule, nil
}

// AsTarget converts a resolved SimpleRule into a Target with no new legs
// (pure leg-retention conversions). Rules that require strike selection
// cannot produce a Target this way.
func (r SimpleRule) AsTarget(newStrategy strategyengine.Strategy, name string) (Target, error) {
	if r.RequiresStrikeSelection {
		return Target{}, ErrRequiresStrikeSelection{Source: r.SourceType, Target: r.TargetType}
	}
	return Target{Type: r.TargetType, RetainedLegs: r.RetainedLegs, NewStrategy: newStrategy, Name: name}, nil
}
