// Package indicators computes cached technical-indicator values from each
// instrument's bar series, publishing a snapshot whenever a bar completes.
package indicators

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Type identifies a supported indicator family.
type Type string

const (
	RSI        Type = "RSI"
	EMA        Type = "EMA"
	SMA        Type = "SMA"
	MACD       Type = "MACD"
	BOLLINGER  Type = "BOLLINGER"
	SUPERTREND Type = "SUPERTREND"
	VWAP       Type = "VWAP"
	ATR        Type = "ATR"
	STOCHASTIC Type = "STOCHASTIC"
	LTP        Type = "LTP"
)

// Definition is one configured indicator on one instrument: a type tag and
// its scalar parameters.
type Definition struct {
	Type   Type
	Params map[string]float64
}

// Metadata describes an indicator family for UI enumeration.
type Metadata struct {
	Type         Type
	DisplayName  string
	OutputFields []string // empty for single-output indicators
	DefaultParam map[string]float64
}

// Catalog enumerates every supported indicator family with its defaults,
// for UI display.
func Catalog() []Metadata {
	return []Metadata{
		{Type: RSI, DisplayName: "Relative Strength Index", DefaultParam: map[string]float64{"period": 14}},
		{Type: EMA, DisplayName: "Exponential Moving Average", DefaultParam: map[string]float64{"period": 21}},
		{Type: SMA, DisplayName: "Simple Moving Average", DefaultParam: map[string]float64{"period": 20}},
		{Type: MACD, DisplayName: "MACD", OutputFields: []string{"value", "signal"},
			DefaultParam: map[string]float64{"fast": 12, "slow": 26, "signal": 9}},
		{Type: BOLLINGER, DisplayName: "Bollinger Bands", OutputFields: []string{"upper", "middle", "lower"},
			DefaultParam: map[string]float64{"period": 20, "stddev": 2.0}},
		{Type: SUPERTREND, DisplayName: "Supertrend", OutputFields: []string{"value", "upper", "lower"},
			DefaultParam: map[string]float64{"period": 10, "multiplier": 3.0}},
		{Type: VWAP, DisplayName: "Volume Weighted Average Price", DefaultParam: map[string]float64{}},
		{Type: ATR, DisplayName: "Average True Range", DefaultParam: map[string]float64{"period": 14}},
		{Type: STOCHASTIC, DisplayName: "Stochastic Oscillator", OutputFields: []string{"k", "d"},
			DefaultParam: map[string]float64{"period": 14}},
		{Type: LTP, DisplayName: "Last Traded Price", DefaultParam: map[string]float64{}},
	}
}

// withDefaults fills a missing "period"-like param with its documented
// default for the given indicator type.
func withDefaults(def Definition) Definition {
	p := make(map[string]float64, len(def.Params))
	for k, v := range def.Params {
		p[k] = v
	}
	set := func(key string, val float64) {
		if _, ok := p[key]; !ok {
			p[key] = val
		}
	}
	switch def.Type {
	case RSI:
		set("period", 14)
	case EMA:
		set("period", 21)
	case SMA:
		set("period", 20)
	case MACD:
		set("fast", 12)
		set("slow", 26)
		set("signal", 9)
	case BOLLINGER:
		set("period", 20)
		set("stddev", 2.0)
	case SUPERTREND:
		set("period", 10)
		set("multiplier", 3.0)
	case ATR:
		set("period", 14)
	case STOCHASTIC:
		set("period", 14)
	}
	return Definition{Type: def.Type, Params: p}
}

// insufficientDataErr marks a compute failure caused by too few bars for
// the requested period, logged at debug and otherwise ignored.
type insufficientDataErr struct {
	need, have int
}

func (e insufficientDataErr) Error() string {
	return fmt.Sprintf("insufficient bars: need %d, have %d", e.need, e.have)
}

// result is the set of cache-key -> rounded decimal values produced for
// one indicator on one compute pass.
type result map[string]decimal.Decimal

func round4(d decimal.Decimal) decimal.Decimal {
	return d.Round(4)
}
