package indicators

import (
	"math"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

// computeResult evaluates def against bars (oldest first). Returns
// insufficientDataErr if bars does not hold enough history for def's
// period; otherwise returns the rounded cache-key -> value map.
func computeResult(def Definition, bars []domain.Bar) (result, error) {
	def = withDefaults(def)
	switch def.Type {
	case LTP:
		return computeLTP(bars)
	case SMA:
		return computeSMA(bars, int(def.Params["period"]))
	case EMA:
		return computeEMA(bars, int(def.Params["period"]))
	case RSI:
		return computeRSI(bars, int(def.Params["period"]))
	case MACD:
		return computeMACD(bars, int(def.Params["fast"]), int(def.Params["slow"]), int(def.Params["signal"]))
	case BOLLINGER:
		return computeBollinger(bars, int(def.Params["period"]), def.Params["stddev"])
	case ATR:
		return computeATR(bars, int(def.Params["period"]))
	case SUPERTREND:
		return computeSupertrend(bars, int(def.Params["period"]), def.Params["multiplier"])
	case STOCHASTIC:
		return computeStochastic(bars, int(def.Params["period"]))
	case VWAP:
		return computeVWAP(bars)
	default:
		return nil, insufficientDataErr{}
	}
}

func closes(bars []domain.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func computeLTP(bars []domain.Bar) (result, error) {
	if len(bars) == 0 {
		return nil, insufficientDataErr{need: 1, have: 0}
	}
	return result{"LTP": round4(bars[len(bars)-1].Close)}, nil
}

func sma(vals []decimal.Decimal, period int) (decimal.Decimal, error) {
	if len(vals) < period {
		return decimal.Zero, insufficientDataErr{need: period, have: len(vals)}
	}
	window := vals[len(vals)-period:]
	sum := decimal.Zero
	for _, v := range window {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

func computeSMA(bars []domain.Bar, period int) (result, error) {
	v, err := sma(closes(bars), period)
	if err != nil {
		return nil, err
	}
	return result{keyFor(SMA, period): round4(v)}, nil
}

// emaSeries returns the full EMA series aligned to vals, seeded by the SMA
// of the first `period` values.
func emaSeries(vals []decimal.Decimal, period int) ([]decimal.Decimal, error) {
	if len(vals) < period {
		return nil, insufficientDataErr{need: period, have: len(vals)}
	}
	k := 2.0 / float64(period+1)
	kDec := decimal.NewFromFloat(k)
	seed, _ := sma(vals[:period], period)

	out := make([]decimal.Decimal, 0, len(vals)-period+1)
	out = append(out, seed)
	prev := seed
	for _, v := range vals[period:] {
		next := v.Sub(prev).Mul(kDec).Add(prev)
		out = append(out, next)
		prev = next
	}
	return out, nil
}

func computeEMA(bars []domain.Bar, period int) (result, error) {
	series, err := emaSeries(closes(bars), period)
	if err != nil {
		return nil, err
	}
	return result{keyFor(EMA, period): round4(series[len(series)-1])}, nil
}

func computeRSI(bars []domain.Bar, period int) (result, error) {
	vals := closes(bars)
	if len(vals) < period+1 {
		return nil, insufficientDataErr{need: period + 1, have: len(vals)}
	}
	var gainSum, lossSum float64
	for i := len(vals) - period; i < len(vals); i++ {
		delta, _ := vals[i].Sub(vals[i-1]).Float64()
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)

	var rsi float64
	if avgLoss == 0 {
		rsi = 100
	} else {
		rs := avgGain / avgLoss
		rsi = 100 - (100 / (1 + rs))
	}
	return result{keyFor(RSI, period): round4(decimal.NewFromFloat(rsi))}, nil
}

func computeMACD(bars []domain.Bar, fast, slow, signalPeriod int) (result, error) {
	vals := closes(bars)
	fastSeries, err := emaSeries(vals, fast)
	if err != nil {
		return nil, err
	}
	slowSeries, err := emaSeries(vals, slow)
	if err != nil {
		return nil, err
	}

	// Align series: fastSeries starts at index `fast-1` of vals, slowSeries
	// at `slow-1`. MACD line begins once both are available.
	offset := (slow - 1) - (fast - 1)
	if offset < 0 || offset >= len(fastSeries) {
		return nil, insufficientDataErr{need: slow, have: len(vals)}
	}
	macdLine := make([]decimal.Decimal, 0, len(slowSeries))
	for i := range slowSeries {
		fi := i + offset
		if fi >= len(fastSeries) {
			break
		}
		macdLine = append(macdLine, fastSeries[fi].Sub(slowSeries[i]))
	}
	signalSeries, err := emaSeries(macdLine, signalPeriod)
	if err != nil {
		return nil, err
	}

	return result{
		keyForField(MACD, fast, "value"):  round4(macdLine[len(macdLine)-1]),
		keyForField(MACD, fast, "signal"): round4(signalSeries[len(signalSeries)-1]),
	}, nil
}

func computeBollinger(bars []domain.Bar, period int, stddev float64) (result, error) {
	vals := closes(bars)
	mid, err := sma(vals, period)
	if err != nil {
		return nil, err
	}
	window := vals[len(vals)-period:]
	var sumSq float64
	midF, _ := mid.Float64()
	for _, v := range window {
		f, _ := v.Float64()
		sumSq += (f - midF) * (f - midF)
	}
	sd := math.Sqrt(sumSq / float64(period))
	band := decimal.NewFromFloat(sd * stddev)

	return result{
		keyForField(BOLLINGER, period, "upper"):  round4(mid.Add(band)),
		keyForField(BOLLINGER, period, "middle"): round4(mid),
		keyForField(BOLLINGER, period, "lower"):  round4(mid.Sub(band)),
	}, nil
}

func trueRanges(bars []domain.Bar) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(bars))
	for i, b := range bars {
		hl := b.High.Sub(b.Low)
		if i == 0 {
			out = append(out, hl)
			continue
		}
		prevClose := bars[i-1].Close
		hc := b.High.Sub(prevClose).Abs()
		lc := b.Low.Sub(prevClose).Abs()
		tr := hl
		if hc.GreaterThan(tr) {
			tr = hc
		}
		if lc.GreaterThan(tr) {
			tr = lc
		}
		out = append(out, tr)
	}
	return out
}

func computeATR(bars []domain.Bar, period int) (result, error) {
	if len(bars) < period {
		return nil, insufficientDataErr{need: period, have: len(bars)}
	}
	tr := trueRanges(bars)
	v, err := sma(tr, period)
	if err != nil {
		return nil, err
	}
	return result{keyFor(ATR, period): round4(v)}, nil
}

func computeSupertrend(bars []domain.Bar, period int, multiplier float64) (result, error) {
	if len(bars) < period {
		return nil, insufficientDataErr{need: period, have: len(bars)}
	}
	atrRes, err := computeATR(bars, period)
	if err != nil {
		return nil, err
	}
	atr := atrRes[keyFor(ATR, period)]
	last := bars[len(bars)-1]
	mid := last.High.Add(last.Low).Div(decimal.NewFromInt(2))
	band := atr.Mul(decimal.NewFromFloat(multiplier))
	upper := mid.Add(band)
	lower := mid.Sub(band)

	value := lower
	if last.Close.LessThan(mid) {
		value = upper
	}
	return result{
		keyForField(SUPERTREND, period, "value"): round4(value),
		keyForField(SUPERTREND, period, "upper"): round4(upper),
		keyForField(SUPERTREND, period, "lower"): round4(lower),
	}, nil
}

func computeStochastic(bars []domain.Bar, period int) (result, error) {
	if len(bars) < period {
		return nil, insufficientDataErr{need: period, have: len(bars)}
	}
	window := bars[len(bars)-period:]
	highest, lowest := window[0].High, window[0].Low
	for _, b := range window[1:] {
		if b.High.GreaterThan(highest) {
			highest = b.High
		}
		if b.Low.LessThan(lowest) {
			lowest = b.Low
		}
	}
	rangeVal := highest.Sub(lowest)
	last := window[len(window)-1].Close

	var k decimal.Decimal
	if rangeVal.IsZero() {
		k = decimal.NewFromInt(50)
	} else {
		k = last.Sub(lowest).Div(rangeVal).Mul(decimal.NewFromInt(100))
	}
	// %D is reported as %K itself, not as a 3-period SMA of %K: the
	// single-pass cache update keeps no %K history to smooth over.
	d := k
	return result{
		keyForField(STOCHASTIC, period, "k"): round4(k),
		keyForField(STOCHASTIC, period, "d"): round4(d),
	}, nil
}

func computeVWAP(bars []domain.Bar) (result, error) {
	if len(bars) == 0 {
		return nil, insufficientDataErr{need: 1, have: 0}
	}
	var num, den decimal.Decimal
	for _, b := range bars {
		typical := b.High.Add(b.Low).Add(b.Close).Div(decimal.NewFromInt(3))
		vol := decimal.NewFromInt(b.Volume)
		num = num.Add(typical.Mul(vol))
		den = den.Add(vol)
	}
	if den.IsZero() {
		return nil, insufficientDataErr{need: 1, have: 0}
	}
	return result{"VWAP": round4(num.Div(den))}, nil
}

func keyFor(t Type, period int) string {
	return string(t) + ":" + decimal.NewFromInt(int64(period)).String()
}

// keyForField builds a multi-output cache key, TYPE:period:field, so two
// instances of the same indicator family with different periods don't
// collide on one instrument's cache.
func keyForField(t Type, period int, field string) string {
	return keyFor(t, period) + ":" + field
}
