package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

type stubSource struct {
	events map[string]market.MarketEvent
	errs   map[string]error
}

func (s stubSource) Snapshot(_ context.Context, inst market.Instrument) (market.MarketEvent, error) {
	if err, ok := s.errs[inst.Symbol]; ok {
		return market.MarketEvent{}, err
	}
	if ev, ok := s.events[inst.Symbol]; ok {
		return ev, nil
	}
	return market.MarketEvent{}, market.ErrNoSnapshot
}

func TestPollerPollSkipsFailures(t *testing.T) {
	src := stubSource{
		events: map[string]market.MarketEvent{"TSLA": {Price: 250, Volume: 1000}},
		errs:   map[string]error{"AAPL": errors.New("503")},
	}
	instruments := []market.Instrument{
		{Symbol: "AAPL", NightCode: "DNASAAPL"},
		{Symbol: "MSFT", NightCode: "DNASMSFT"},
		{Symbol: "TSLA", NightCode: "DNASTSLA"},
	}
	p := NewPoller(src, instruments, time.Minute, zerolog.Nop())
	out := make(chan market.MarketEvent, 4)
	if err := p.Poll(context.Background(), out); err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected one event, got %d", len(out))
	}
	ev := <-out
	if ev.Source != market.SourceSnapshot || ev.Code != "DNASTSLA" || ev.Symbol != "TSLA" || ev.Time.IsZero() {
		t.Fatalf("unexpected snapshot event %+v", ev)
	}
}

func TestPollerRunEmitsUntilCanceled(t *testing.T) {
	src := stubSource{events: map[string]market.MarketEvent{"TSLA": {Price: 250}}}
	p := NewPoller(src, []market.Instrument{{Symbol: "TSLA"}}, 10*time.Millisecond, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan market.MarketEvent, 1)
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, out) }()

	for i := 0; i < 2; i++ {
		select {
		case ev := <-out:
			if ev.Code != "TSLA" {
				t.Fatalf("expected symbol fallback code, got %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for snapshot")
		}
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
