package morph

import (
	"context"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

// LineageStore is the read side of the morph history DAG: looking a
// strategy up by either end of a parent->child edge.
type LineageStore interface {
	FindHistoryByChild(ctx context.Context, childID string) (*domain.MorphHistoryEntry, error)
	FindHistoryByParent(ctx context.Context, parentID string) ([]domain.MorphHistoryEntry, error)
}

// LineageTree is the ancestor chain and descendant tree around one
// strategy id.
type LineageTree struct {
	StrategyID  string
	Ancestors   []domain.MorphHistoryEntry // nearest ancestor first
	Descendants []domain.MorphHistoryEntry // pre-order
}

// GetLineageTree walks child->parent one edge at a time for ancestors
// (stopping at the first strategy with no recorded parent), and
// recursively expands children for descendants.
func GetLineageTree(ctx context.Context, store LineageStore, strategyID string) (LineageTree, error) {
	tree := LineageTree{StrategyID: strategyID}

	current := strategyID
	for {
		edge, err := store.FindHistoryByChild(ctx, current)
		if err != nil {
			return LineageTree{}, err
		}
		if edge == nil {
			break
		}
		tree.Ancestors = append(tree.Ancestors, *edge)
		current = edge.ParentStrategyID
	}

	descendants, err := collectDescendants(ctx, store, strategyID)
	if err != nil {
		return LineageTree{}, err
	}
	tree.Descendants = descendants

	return tree, nil
}

func collectDescendants(ctx context.Context, store LineageStore, strategyID string) ([]domain.MorphHistoryEntry, error) {
	children, err := store.FindHistoryByParent(ctx, strategyID)
	if err != nil {
		return nil, err
	}
	var out []domain.MorphHistoryEntry
	for _, edge := range children {
		out = append(out, edge)
		grandchildren, err := collectDescendants(ctx, store, edge.ChildStrategyID)
		if err != nil {
			return nil, err
		}
		out = append(out, grandchildren...)
	}
	return out, nil
}

// GetCumulativePnl sums parentPnlAtMorph across every ancestor edge,
// skipping edges with no recorded P&L (null stops contributing, not the
// walk).
func GetCumulativePnl(ctx context.Context, store LineageStore, strategyID string) (decimal.Decimal, error) {
	total := decimal.Zero
	current := strategyID
	for {
		edge, err := store.FindHistoryByChild(ctx, current)
		if err != nil {
			return decimal.Zero, err
		}
		if edge == nil {
			break
		}
		if edge.ParentPnlAtMorph != nil {
			total = total.Add(*edge.ParentPnlAtMorph)
		}
		current = edge.ParentStrategyID
	}
	return total, nil
}
