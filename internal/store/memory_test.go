package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

func TestMemoryInstruments(t *testing.T) {
	m := NewMemory(0)
	inst := m.AddInstrument(market.Instrument{Symbol: "TSLA", DayCode: "RBAQTSLA", NightCode: "DNASTSLA"})
	if inst.ID != 1 {
		t.Fatalf("expected id 1, got %d", inst.ID)
	}
	ctx := context.Background()
	if err := m.UpsertPriceVolume(ctx, "RBAQTSLA", 250, 255, 245, 1000); err != nil {
		t.Fatalf("UpsertPriceVolume returned error: %v", err)
	}
	got, err := m.FindByCode(ctx, "dnastsla")
	if err != nil {
		t.Fatalf("FindByCode returned error: %v", err)
	}
	if got.LastPrice != 250 || got.High != 255 || got.Volume != 1000 {
		t.Fatalf("unexpected instrument %+v", got)
	}
	if _, err := m.FindByCode(ctx, "DNASAAPL"); !errors.Is(err, market.ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
	if err := m.UpsertPriceVolume(ctx, "DNASAAPL", 1, 0, 0, 0); !errors.Is(err, market.ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
}

func TestMemoryStrategies(t *testing.T) {
	m := NewMemory(0)
	m.AddStrategy(strategy.Strategy{ID: 5, Status: strategy.StatusActive})
	m.AddStrategy(strategy.Strategy{Status: strategy.StatusPaused})
	m.AddStrategy(strategy.Strategy{ID: 2, Status: strategy.StatusActive})

	active, _ := m.ListActive(context.Background())
	if len(active) != 2 || active[0].ID != 2 || active[1].ID != 5 {
		t.Fatalf("unexpected active strategies %+v", active)
	}
	at := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	if err := m.TouchLastExecuted(context.Background(), 5, at); err != nil {
		t.Fatalf("TouchLastExecuted returned error: %v", err)
	}
	s, _ := m.Strategy(5)
	if s.LastExecutedAt == nil || !s.LastExecutedAt.Equal(at) {
		t.Fatalf("last executed not stamped: %+v", s)
	}
	if err := m.TouchLastExecuted(context.Background(), 99, at); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestMemorySignals(t *testing.T) {
	m := NewMemory(2)
	ctx := context.Background()
	sig := signal.Signal{ID: "a", Type: signal.Buy, Confidence: 0.75}
	if err := m.Save(ctx, sig); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if err := m.Save(ctx, sig); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := m.Save(ctx, signal.Signal{ID: "b", Type: signal.Hold}); err == nil {
		t.Fatal("expected HOLD to be refused")
	}
	if err := m.MarkExecuted(ctx, "a", time.Now()); err != nil {
		t.Fatalf("MarkExecuted returned error: %v", err)
	}
	snapshot := m.Signals()
	if len(snapshot) != 1 || !snapshot[0].Executed || snapshot[0].ExecutedAt == nil {
		t.Fatalf("unexpected signals %+v", snapshot)
	}
}
