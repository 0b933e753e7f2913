// Package risk implements the multi-level pre-trade risk gate: a
// position checker, an account checker, and a per-underlying checker,
// aggregated so that a caller always sees every breach at once.
package risk

import (
	"fmt"
	"strings"
)

// Code is a machine-readable identifier for a specific risk breach.
type Code string

const (
	CodePositionSizeExceeded     Code = "POSITION_SIZE_EXCEEDED"
	CodePositionValueExceeded    Code = "POSITION_VALUE_EXCEEDED"
	CodePositionLossBreach       Code = "POSITION_LOSS_BREACH"
	CodePositionProfitTarget     Code = "POSITION_PROFIT_TARGET"
	CodeDailyLossBreach          Code = "DAILY_LOSS_BREACH"
	CodeMaxOpenPositionsExceeded Code = "MAX_OPEN_POSITIONS_EXCEEDED"
	CodeMaxOpenOrdersExceeded    Code = "MAX_OPEN_ORDERS_EXCEEDED"
	CodeUnderlyingLotLimit       Code = "UNDERLYING_LOT_LIMIT_EXCEEDED"
)

// Violation describes a single breach.
type Violation struct {
	Code     Code
	Message  string
	Limit    string
	Observed string
}

func (v Violation) Error() string {
	return fmt.Sprintf("risk violation [%s]: %s (limit=%s, observed=%s)", v.Code, v.Message, v.Limit, v.Observed)
}

// Violations is a slice of Violation that also satisfies error. The Risk
// Gate never short-circuits: every checker's breaches are appended here
// so the caller sees the full failure picture.
type Violations []Violation

func (vs Violations) Error() string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.Error()
	}
	return strings.Join(msgs, " | ")
}

// IsEmpty reports whether there are no violations.
func (vs Violations) IsEmpty() bool { return len(vs) == 0 }

// First returns the first violation, used as the primary rejection
// message; ok is false when vs is empty.
func (vs Violations) First() (Violation, bool) {
	if len(vs) == 0 {
		return Violation{}, false
	}
	return vs[0], true
}
