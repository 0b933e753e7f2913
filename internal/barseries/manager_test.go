package barseries

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

func TestProcessTickAggregatesWithinOneBar(t *testing.T) {
	base := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	m := NewManager(12345, "NIFTY24JUL20000CE", 60*time.Second, 100, time.UTC)

	tests := []struct {
		offset  time.Duration
		price   string
		volume  int64
		wantFin bool
	}{
		{0, "100", 100, false},
		{30 * time.Second, "110", 200, false},
		{59 * time.Second, "105", 150, false},
		{60 * time.Second, "108", 80, true},
	}

	for _, tc := range tests {
		got := m.ProcessTick(d(tc.price), tc.volume, base.Add(tc.offset))
		if got != tc.wantFin {
			t.Fatalf("ProcessTick(offset=%v) completed = %v, want %v", tc.offset, got, tc.wantFin)
		}
	}

	bars := m.Bars()
	if len(bars) != 1 {
		t.Fatalf("len(bars) = %d, want 1", len(bars))
	}
	b := bars[0]
	if !b.Open.Equal(d("100")) || !b.High.Equal(d("110")) || !b.Low.Equal(d("100")) || !b.Close.Equal(d("105")) {
		t.Fatalf("bar = %+v, want O=100 H=110 L=100 C=105", b)
	}
	if b.Volume != 450 {
		t.Fatalf("volume = %d, want 450", b.Volume)
	}

	pending := m.Pending()
	if !pending.Open.Equal(d("108")) || pending.Volume != 80 {
		t.Fatalf("pending after boundary tick = %+v, want open=108 volume=80", pending)
	}
}

func TestProcessTickEvictsOldestWhenRingFull(t *testing.T) {
	base := time.Date(2026, 7, 30, 9, 15, 0, 0, time.UTC)
	m := NewManager(1, "TEST", time.Second, 2, time.UTC)

	for i := 0; i < 5; i++ {
		m.ProcessTick(d("100"), 1, base.Add(time.Duration(i)*2*time.Second))
	}

	if got := m.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2 (capacity-bounded ring)", got)
	}
}

func TestPushHistoricalBarBypassesPendingBar(t *testing.T) {
	m := NewManager(1, "TEST", time.Minute, 10, time.UTC)
	m.ProcessTick(d("50"), 10, time.Now())

	hist := m.Bars()
	if len(hist) != 0 {
		t.Fatalf("expected no finalized bars before historical push, got %d", len(hist))
	}

	m.PushHistoricalBar(domain.Bar{Open: d("90"), High: d("95"), Low: d("89"), Close: d("93")})
	if got := m.Len(); got != 1 {
		t.Fatalf("Len() after historical push = %d, want 1", got)
	}

	pending := m.Pending()
	if !pending.Open.Equal(d("50")) {
		t.Fatalf("historical push must not disturb the in-flight PendingBar, got open=%v", pending.Open)
	}
}
