// Package engine runs the realtime pipeline: every market event updates reference data and is
// evaluated against each active strategy.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/events"
	"github.com/suman-kim/auto-trade-server-sub000/internal/execution"
	"github.com/suman-kim/auto-trade-server-sub000/internal/indicator"
	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/metrics"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

// ErrInstrumentNotFound is returned by Handle when the event's code resolves to no instrument.
var ErrInstrumentNotFound = market.ErrInstrumentNotFound

// ErrInvalidEvent rejects events whose price or volume is not a finite number.
var ErrInvalidEvent = errors.New("invalid market event")

// DefaultExecutionTimeout bounds a single order hand-off.
const DefaultExecutionTimeout = 10 * time.Second

// InstrumentRepository resolves and updates instrument reference data.
type InstrumentRepository interface {
	FindByCode(ctx context.Context, code string) (market.Instrument, error)
	UpsertPriceVolume(ctx context.Context, code string, price, high, low, volume float64) error
}

// StrategyRepository lists strategies to evaluate.
type StrategyRepository interface {
	ListActive(ctx context.Context) ([]strategy.Strategy, error)
	TouchLastExecuted(ctx context.Context, id int64, at time.Time) error
}

// SignalRepository persists actionable signals.
type SignalRepository interface {
	Save(ctx context.Context, sig signal.Signal) error
	MarkExecuted(ctx context.Context, id string, at time.Time) error
}

// OrderExecutor places orders for signals of auto-trading strategies.
type OrderExecutor interface {
	Execute(ctx context.Context, s strategy.Strategy, inst market.Instrument, sig signal.Signal) (execution.Result, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithExecutor enables the order hand-off.
func WithExecutor(e OrderExecutor) Option {
	return func(d *Dispatcher) { d.executor = e }
}

// WithSignalBus publishes every persisted signal on bus.
func WithSignalBus(bus *events.Bus[events.SignalGenerated]) Option {
	return func(d *Dispatcher) {
		if bus != nil {
			d.signalBus = bus
		}
	}
}

// WithHistory supplies the price history, e.g. one sized from configuration.
func WithHistory(h *market.History) Option {
	return func(d *Dispatcher) {
		if h != nil {
			d.history = h
		}
	}
}

// WithExecutionTimeout bounds each order hand-off.
func WithExecutionTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.execTimeout = t
		}
	}
}

// WithClock overrides the time source used to stamp signals.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher processes market events one at a time.
type Dispatcher struct {
	instruments InstrumentRepository
	strategies  StrategyRepository
	signals     SignalRepository
	executor    OrderExecutor
	signalBus   *events.Bus[events.SignalGenerated]
	history     *market.History
	log         zerolog.Logger
	now         func() time.Time
	execTimeout time.Duration

	mu       sync.Mutex
	inflight sync.WaitGroup
}

// New builds a dispatcher over the given repositories.
func New(instruments InstrumentRepository, strategies StrategyRepository, signals SignalRepository, log zerolog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		instruments: instruments,
		strategies:  strategies,
		signals:     signals,
		signalBus:   events.NewBus[events.SignalGenerated](),
		history:     market.NewHistory(market.DefaultHistorySize),
		log:         log.With().Str("component", "engine").Logger(),
		now:         time.Now,
		execTimeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Signals exposes the signalGenerated stream.
func (d *Dispatcher) Signals() *events.Bus[events.SignalGenerated] { return d.signalBus }

// History exposes the price history kept per instrument symbol.
func (d *Dispatcher) History() *market.History { return d.history }

// Run drains in until it is closed or ctx is canceled. Event failures are logged and skipped.
func (d *Dispatcher) Run(ctx context.Context, in <-chan market.MarketEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			if err := d.Handle(ctx, ev); err != nil {
				if errors.Is(err, ErrInstrumentNotFound) {
					d.log.Debug().Err(err).Str("code", ev.Code).Msg("skipping event for unknown instrument")
					continue
				}
				d.log.Warn().Err(err).Str("code", ev.Code).Msg("market event failed")
			}
		}
	}
}

// Handle processes one event. Only a failure to resolve the instrument or list strategies is
// returned; per-strategy failures are logged and do not stop the remaining strategies.
func (d *Dispatcher) Handle(ctx context.Context, ev market.MarketEvent) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	metrics.MarketEventsTotal.WithLabelValues(ev.Source.String()).Inc()
	if math.IsNaN(ev.Price) || math.IsInf(ev.Price, 0) || math.IsNaN(ev.Volume) || math.IsInf(ev.Volume, 0) {
		return fmt.Errorf("%w: %s price=%v volume=%v", ErrInvalidEvent, ev.Code, ev.Price, ev.Volume)
	}

	inst, err := d.instruments.FindByCode(ctx, ev.Code)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", ev.Code, err)
	}
	var high, low float64
	if ev.HasRange {
		high, low = ev.High, ev.Low
	}
	if err := d.instruments.UpsertPriceVolume(ctx, ev.Code, ev.Price, high, low, ev.Volume); err != nil {
		d.log.Warn().Err(err).Str("sym", inst.Symbol).Msg("instrument update failed")
	}
	inst.Apply(ev)

	d.history.Append(inst.Symbol, ev.Price, ev.Volume)
	prices, volumes := d.history.Snapshot(inst.Symbol)

	strategies, err := d.strategies.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list strategies: %w", err)
	}
	for _, s := range strategies {
		if !s.Active() || !s.Applies(inst.Symbol) {
			continue
		}
		if err := d.evaluate(ctx, s, inst, ev, prices, volumes); err != nil {
			d.log.Error().Err(err).Int64("strategy", s.ID).Str("sym", inst.Symbol).Msg("strategy evaluation failed")
		}
	}
	return nil
}

func (d *Dispatcher) evaluate(ctx context.Context, s strategy.Strategy, inst market.Instrument, ev market.MarketEvent, prices, volumes []float64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	now := d.now()
	ind := indicator.Compute(s.Conditions.Indicators, prices, volumes)
	if ind.Empty() {
		d.log.Debug().Int64("strategy", s.ID).Int("points", len(prices)).Msg("no indicator ready")
	}
	decision := strategy.Evaluate(s.Conditions, ev.Price, ev.Volume, ind, now)
	if err := d.strategies.TouchLastExecuted(ctx, s.ID, now); err != nil {
		d.log.Warn().Err(err).Int64("strategy", s.ID).Msg("touch last executed failed")
	}

	sig, ok := signal.New(decision, s.ID, s.UserID, inst.ID, inst.Symbol, ev.Price, ev.Volume, ind, now)
	if !ok {
		return nil
	}
	if err := d.signals.Save(ctx, sig); err != nil {
		return fmt.Errorf("save signal: %w", err)
	}
	metrics.SignalsTotal.WithLabelValues(string(sig.Type)).Inc()
	d.log.Info().
		Str("signal", sig.ID).
		Int64("strategy", s.ID).
		Str("sym", sig.Symbol).
		Str("type", string(sig.Type)).
		Float64("confidence", sig.Confidence).
		Float64("px", sig.Price).
		Msg("signal generated")
	d.signalBus.Publish(events.SignalGenerated{Signal: sig})

	if d.executor != nil && s.AutoTrading.Allows(sig.Confidence) {
		d.execute(ctx, s, inst, sig)
	}
	return nil
}

// execute hands the signal to the executor without blocking event processing.
func (d *Dispatcher) execute(parent context.Context, s strategy.Strategy, inst market.Instrument, sig signal.Signal) {
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error().Interface("panic", r).Str("signal", sig.ID).Msg("order execution panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.execTimeout)
		defer cancel()

		res, err := d.executor.Execute(ctx, s, inst, sig)
		if err != nil {
			d.log.Warn().Err(err).Str("signal", sig.ID).Int64("strategy", s.ID).Msg("order execution failed")
			return
		}
		at := res.SubmittedAt
		if at.IsZero() {
			at = d.now()
		}
		if err := d.signals.MarkExecuted(ctx, sig.ID, at); err != nil {
			d.log.Warn().Err(err).Str("signal", sig.ID).Msg("mark executed failed")
		}
	}()
}

// Wait blocks until every in-flight order hand-off has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
