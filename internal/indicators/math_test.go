package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ironcondor/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func barsFromCloses(closes []string) []domain.Bar {
	out := make([]domain.Bar, len(closes))
	base := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	for i, c := range closes {
		v := d(c)
		out[i] = domain.Bar{
			Open: v, High: v, Low: v, Close: v,
			Volume: 100, OpenTime: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return out
}

func TestComputeSMAMatchesArithmeticMean(t *testing.T) {
	bars := barsFromCloses([]string{"10", "11", "12", "13", "14"})
	res, err := computeResult(Definition{Type: SMA, Params: map[string]float64{"period": 5}}, bars)
	if err != nil {
		t.Fatalf("computeResult: %v", err)
	}
	got := res[keyFor(SMA, 5)]
	if !got.Equal(d("12")) {
		t.Fatalf("SMA = %v, want 12", got)
	}
}

func TestComputeSMAInsufficientBars(t *testing.T) {
	bars := barsFromCloses([]string{"10", "11"})
	_, err := computeResult(Definition{Type: SMA, Params: map[string]float64{"period": 5}}, bars)
	if err == nil {
		t.Fatal("expected insufficient-data error")
	}
}

func TestComputeRSIAllGainsIsHundred(t *testing.T) {
	bars := barsFromCloses([]string{"10", "11", "12", "13", "14", "15"})
	res, err := computeResult(Definition{Type: RSI, Params: map[string]float64{"period": 5}}, bars)
	if err != nil {
		t.Fatalf("computeResult: %v", err)
	}
	if !res[keyFor(RSI, 5)].Equal(d("100")) {
		t.Fatalf("RSI = %v, want 100", res[keyFor(RSI, 5)])
	}
}

func TestComputeLTPIsLastClose(t *testing.T) {
	bars := barsFromCloses([]string{"10", "20", "30"})
	res, err := computeResult(Definition{Type: LTP}, bars)
	if err != nil {
		t.Fatalf("computeResult: %v", err)
	}
	if !res["LTP"].Equal(d("30")) {
		t.Fatalf("LTP = %v, want 30", res["LTP"])
	}
}

func TestComputeBollingerBandsStraddleMiddle(t *testing.T) {
	bars := barsFromCloses([]string{"10", "10", "10", "10"})
	res, err := computeResult(Definition{Type: BOLLINGER, Params: map[string]float64{"period": 4, "stddev": 2}}, bars)
	if err != nil {
		t.Fatalf("computeResult: %v", err)
	}
	upper, middle, lower := keyForField(BOLLINGER, 4, "upper"), keyForField(BOLLINGER, 4, "middle"), keyForField(BOLLINGER, 4, "lower")
	if !res[upper].Equal(res[middle]) || !res[lower].Equal(res[middle]) {
		t.Fatalf("zero-variance series must collapse all bands to the middle: %+v", res)
	}
}

func TestRound4HalfUp(t *testing.T) {
	got := round4(d("1.23455"))
	if !got.Equal(d("1.2346")) {
		t.Fatalf("round4(1.23455) = %v, want 1.2346", got)
	}
}
