package market

import (
	"math"
	"testing"
	"time"
)

func TestHistoryAppendBounded(t *testing.T) {
	h := NewHistory(3)
	for i := 1; i <= 5; i++ {
		h.Append("DNASTSLA", float64(i), float64(i*10))
	}
	prices, volumes := h.Snapshot("DNASTSLA")
	if len(prices) != 3 || prices[0] != 3 || prices[2] != 5 {
		t.Fatalf("unexpected prices %+v", prices)
	}
	if len(volumes) != 3 || volumes[0] != 30 {
		t.Fatalf("unexpected volumes %+v", volumes)
	}
}

func TestHistoryIgnoresNonPositivePrice(t *testing.T) {
	h := NewHistory(5)
	h.Append("X", 0, 100)
	h.Append("", 10, 100)
	if h.Len("X") != 0 || h.Len("") != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestHistoryIgnoresNonFinite(t *testing.T) {
	h := NewHistory(5)
	h.Append("X", 10, 1)
	h.Append("X", math.NaN(), 1)
	h.Append("X", math.Inf(1), 1)
	h.Append("X", 11, math.NaN())
	h.Append("X", 12, math.Inf(-1))
	prices, _ := h.Snapshot("X")
	if len(prices) != 1 || prices[0] != 10 {
		t.Fatalf("non-finite points stored: %+v", prices)
	}
}

func TestHistorySnapshotIsCopy(t *testing.T) {
	h := NewHistory(5)
	h.Append("X", 10, 1)
	prices, _ := h.Snapshot("X")
	prices[0] = 99
	again, _ := h.Snapshot("X")
	if again[0] != 10 {
		t.Fatalf("snapshot leaked internal slice")
	}
}

func TestInstrumentMatches(t *testing.T) {
	inst := Instrument{Symbol: "TSLA", DayCode: "RBAQTSLA", NightCode: "DNASTSLA"}
	cases := map[string]bool{
		"RBAQTSLA": true,
		"dnastsla": true,
		"TSLA":     true,
		"DNASAAPL": false,
		"":         false,
		" TSLA ":   true,
	}
	for code, want := range cases {
		if got := inst.Matches(code); got != want {
			t.Fatalf("Matches(%q) = %v, want %v", code, got, want)
		}
	}
	if codes := inst.Codes(); len(codes) != 2 {
		t.Fatalf("expected two codes, got %+v", codes)
	}
}

func TestInstrumentApply(t *testing.T) {
	var inst Instrument
	now := time.Now()
	inst.Apply(MarketEvent{Price: 10, High: 12, Low: 9, HasRange: true, Volume: 100, Time: now})
	inst.Apply(MarketEvent{Price: 11, Time: now})
	if inst.LastPrice != 11 || inst.High != 12 || inst.Low != 9 || inst.Volume != 100 {
		t.Fatalf("unexpected instrument %+v", inst)
	}
}

func TestQuoteEventMidPrice(t *testing.T) {
	q := Quote{Code: "DNASTSLA", Symbol: "TSLA", Bid: 99, Ask: 101, TotalBidVolume: 5, TotalAskVolume: 7}
	ev := q.Event(time.Now())
	if ev.Price != 100 || ev.Volume != 12 || ev.Source != SourceQuote {
		t.Fatalf("unexpected quote event %+v", ev)
	}
	if ev.HasRange {
		t.Fatalf("quote events carry no range")
	}
}
