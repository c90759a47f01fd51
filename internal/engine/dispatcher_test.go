package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/events"
	"github.com/suman-kim/auto-trade-server-sub000/internal/execution"
	"github.com/suman-kim/auto-trade-server-sub000/internal/indicator"
	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
	"github.com/suman-kim/auto-trade-server-sub000/internal/store"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

func buyBelow(limit float64) strategy.Conditions {
	return strategy.Conditions{Price: &strategy.PriceFilter{Min: limit}}
}

func newStore() *store.Memory {
	mem := store.NewMemory(0)
	mem.AddInstrument(market.Instrument{Symbol: "TSLA", Exchange: "NAS", DayCode: "RBAQTSLA", NightCode: "DNASTSLA"})
	return mem
}

func tsla(price float64) market.MarketEvent {
	return market.MarketEvent{Code: "DNASTSLA", Symbol: "TSLA", Source: market.SourceTrade, Price: price, Volume: 5000, Time: time.Now()}
}

type recordingExecutor struct {
	mu      sync.Mutex
	calls   []signal.Signal
	release chan struct{}
	err     error
}

func (e *recordingExecutor) Execute(ctx context.Context, s strategy.Strategy, inst market.Instrument, sig signal.Signal) (execution.Result, error) {
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return execution.Result{}, ctx.Err()
		}
	}
	e.mu.Lock()
	e.calls = append(e.calls, sig)
	e.mu.Unlock()
	if e.err != nil {
		return execution.Result{}, e.err
	}
	return execution.Result{SubmittedAt: time.Now()}, nil
}

func (e *recordingExecutor) Calls() []signal.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]signal.Signal(nil), e.calls...)
}

func TestHandleRisingSeriesSells(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{
		Status: strategy.StatusActive,
		Conditions: strategy.Conditions{Indicators: indicator.Config{
			RSI: &indicator.RSIConfig{Period: 14, Oversold: 30, Overbought: 70},
		}},
	})
	d := New(mem, mem, mem, zerolog.Nop())
	for p := 100; p < 120; p++ {
		if err := d.Handle(context.Background(), tsla(float64(p))); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}
	sigs := mem.Signals()
	if len(sigs) != 6 {
		t.Fatalf("expected a signal for every point after the warm-up, got %d", len(sigs))
	}
	for _, sig := range sigs {
		if sig.Type != signal.Sell || sig.Confidence != 1 || sig.Indicators.RSI == nil || *sig.Indicators.RSI != 100 {
			t.Fatalf("unexpected signal %+v", sig)
		}
	}
	inst, _ := mem.FindByCode(context.Background(), "TSLA")
	if inst.LastPrice != 119 {
		t.Fatalf("instrument not updated: %+v", inst)
	}
	if d.History().Len("TSLA") != 20 {
		t.Fatalf("unexpected history length %d", d.History().Len("TSLA"))
	}
}

func TestHandleRejectsNonFiniteEvent(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{
		Status: strategy.StatusActive,
		Conditions: strategy.Conditions{Indicators: indicator.Config{
			RSI: &indicator.RSIConfig{Period: 14, Oversold: 30, Overbought: 70},
		}},
	})
	d := New(mem, mem, mem, zerolog.Nop())
	for i, p := 0, 100; p < 120; i, p = i+1, p+1 {
		ev := tsla(float64(p))
		if i == 10 {
			ev.Price = math.NaN()
			if err := d.Handle(context.Background(), ev); !errors.Is(err, ErrInvalidEvent) {
				t.Fatalf("expected ErrInvalidEvent, got %v", err)
			}
			continue
		}
		if err := d.Handle(context.Background(), ev); err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	}
	sigs := mem.Signals()
	if len(sigs) != 5 {
		t.Fatalf("expected 5 signals, got %d", len(sigs))
	}
	for _, sig := range sigs {
		if sig.Type != signal.Sell || sig.Confidence != 1 {
			t.Fatalf("rising series must keep selling, got %+v", sig)
		}
	}
	if d.History().Len("TSLA") != 19 {
		t.Fatalf("unexpected history length %d", d.History().Len("TSLA"))
	}
	inst, _ := mem.FindByCode(context.Background(), "TSLA")
	if math.IsNaN(inst.LastPrice) || inst.LastPrice != 119 {
		t.Fatalf("instrument corrupted: %+v", inst)
	}
}

func TestHandleUnknownInstrument(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000)})
	d := New(mem, mem, mem, zerolog.Nop())
	ev := tsla(100)
	ev.Code = "DNASAAPL"
	if err := d.Handle(context.Background(), ev); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
	if len(mem.Signals()) != 0 {
		t.Fatalf("no strategy should run for an unresolved instrument")
	}
}

type flakySignals struct {
	*store.Memory
	failFor  int64
	panicFor int64
}

func (f flakySignals) Save(ctx context.Context, sig signal.Signal) error {
	switch sig.StrategyID {
	case f.failFor:
		return errors.New("disk full")
	case f.panicFor:
		panic("boom")
	}
	return f.Memory.Save(ctx, sig)
}

func TestHandleIsolatesStrategyFailures(t *testing.T) {
	mem := newStore()
	for i := 0; i < 4; i++ {
		mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000)})
	}
	d := New(mem, mem, flakySignals{Memory: mem, failFor: 2, panicFor: 3}, zerolog.Nop())
	if err := d.Handle(context.Background(), tsla(100)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	sigs := mem.Signals()
	if len(sigs) != 2 || sigs[0].StrategyID != 1 || sigs[1].StrategyID != 4 {
		t.Fatalf("expected strategies 1 and 4 to persist, got %+v", sigs)
	}
	for id := int64(1); id <= 4; id++ {
		if s, _ := mem.Strategy(id); s.LastExecutedAt == nil {
			t.Fatalf("strategy %d was not evaluated", id)
		}
	}
}

func TestHandleSkipsInactiveAndOtherSymbols(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusPaused, Conditions: buyBelow(1000)})
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Symbols: []string{"AAPL"}, Conditions: buyBelow(1000)})
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Symbols: []string{"tsla"}, Conditions: buyBelow(1000)})
	d := New(mem, mem, mem, zerolog.Nop())
	if err := d.Handle(context.Background(), tsla(100)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	sigs := mem.Signals()
	if len(sigs) != 1 || sigs[0].StrategyID != 3 || sigs[0].Type != signal.Buy {
		t.Fatalf("unexpected signals %+v", sigs)
	}
}

func TestHandleHoldIsNotPersisted(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: strategy.Conditions{
		Price:  &strategy.PriceFilter{Min: 1000},
		Volume: &strategy.VolumeFilter{Min: 10000},
	}})
	d := New(mem, mem, mem, zerolog.Nop())
	if err := d.Handle(context.Background(), tsla(100)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	if len(mem.Signals()) != 0 {
		t.Fatalf("HOLD must not be persisted")
	}
}

func TestExecutionIsFireAndForget(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000),
		AutoTrading: strategy.AutoTrading{Enabled: true, Quantity: 1}})
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000)})
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000),
		AutoTrading: strategy.AutoTrading{Enabled: true, Quantity: 1, MinConfidence: 1.1}})

	exec := &recordingExecutor{release: make(chan struct{})}
	bus := events.NewBus[events.SignalGenerated]()
	generated, cancel := bus.Subscribe(8)
	defer cancel()
	d := New(mem, mem, mem, zerolog.Nop(), WithExecutor(exec), WithSignalBus(bus))

	done := make(chan error, 1)
	go func() { done <- d.Handle(context.Background(), tsla(100)) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Handle returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle blocked on order execution")
	}

	close(exec.release)
	d.Wait()
	calls := exec.Calls()
	if len(calls) != 1 || calls[0].StrategyID != 1 {
		t.Fatalf("expected only strategy 1 to execute, got %+v", calls)
	}
	for _, sig := range mem.Signals() {
		if want := sig.StrategyID == 1; sig.Executed != want {
			t.Fatalf("unexpected executed flag on %+v", sig)
		}
	}
	if len(generated) != 3 {
		t.Fatalf("expected three signalGenerated events, got %d", len(generated))
	}
}

func TestExecutionFailureKeepsSignal(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000),
		AutoTrading: strategy.AutoTrading{Enabled: true, Quantity: 1}})
	exec := &recordingExecutor{err: errors.New("broker rejected")}
	d := New(mem, mem, mem, zerolog.Nop(), WithExecutor(exec))
	if err := d.Handle(context.Background(), tsla(100)); err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	d.Wait()
	sigs := mem.Signals()
	if len(sigs) != 1 || sigs[0].Executed {
		t.Fatalf("expected persisted, unexecuted signal, got %+v", sigs)
	}
}

func TestRunDrainsChannel(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000)})
	d := New(mem, mem, mem, zerolog.Nop())

	in := make(chan market.MarketEvent, 4)
	in <- tsla(100)
	unknown := tsla(100)
	unknown.Code = "DNASAAPL"
	in <- unknown
	in <- tsla(101)
	close(in)
	if err := d.Run(context.Background(), in); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(mem.Signals()) != 2 {
		t.Fatalf("expected two signals, got %d", len(mem.Signals()))
	}
}

func TestHandleSerializesEvents(t *testing.T) {
	mem := newStore()
	mem.AddStrategy(strategy.Strategy{Status: strategy.StatusActive, Conditions: buyBelow(1000)})
	d := New(mem, mem, mem, zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(p float64) {
			defer wg.Done()
			_ = d.Handle(context.Background(), tsla(p))
		}(float64(100 + i))
	}
	wg.Wait()
	if d.History().Len("TSLA") != 20 || len(mem.Signals()) != 20 {
		t.Fatalf("expected every event processed once, history=%d signals=%d", d.History().Len("TSLA"), len(mem.Signals()))
	}
}
