// Package execution handles the automated order hand-off for actionable signals.
package execution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/metrics"
	"github.com/suman-kim/auto-trade-server-sub000/internal/risk"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order.
	Buy Side = "BUY"
	// Sell indicates a short order.
	Sell Side = "SELL"
)

var (
	ErrNotActionable = errors.New("signal is not actionable")
	ErrNoQuantity    = errors.New("auto trading quantity not configured")
)

// Order represents a placement request the executor can process.
type Order struct {
	StrategyID int64   `json:"strategy_id"`
	SignalID   string  `json:"signal_id"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Qty        float64 `json:"qty"`
	Price      float64 `json:"price"`
}

// Result is the outcome of one Execute call.
type Result struct {
	Order       Order     `json:"order"`
	Position    float64   `json:"position"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Executor sizes orders from the strategy's auto-trading settings, applies risk limits and
// submits them in paper mode by logging. Net positions are tracked per strategy and symbol.
type Executor struct {
	log       zerolog.Logger
	limits    risk.Limits
	now       func() time.Time
	mu        sync.Mutex
	positions map[string]float64
}

// NewExecutor builds an executor with process-wide default limits.
func NewExecutor(log zerolog.Logger, limits risk.Limits) *Executor {
	return &Executor{
		log:       log.With().Str("component", "execution").Logger(),
		limits:    limits,
		now:       time.Now,
		positions: make(map[string]float64),
	}
}

// Execute submits an order for sig on behalf of s.
func (e *Executor) Execute(ctx context.Context, s strategy.Strategy, inst market.Instrument, sig signal.Signal) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var side Side
	var dir float64
	switch sig.Type {
	case signal.Buy:
		side, dir = Buy, 1
	case signal.Sell:
		side, dir = Sell, -1
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrNotActionable, sig.Type)
	}
	qty := s.AutoTrading.Quantity
	if qty <= 0 {
		return Result{}, ErrNoQuantity
	}
	price := sig.Price
	if price <= 0 {
		price = inst.LastPrice
	}
	limits := e.limits.Override(risk.Limits{
		MaxNotionalPerTrade: s.AutoTrading.MaxNotionalPerTrade,
		MaxPositionSize:     s.AutoTrading.MaxPositionSize,
	})

	key := positionKey(s.ID, inst.Symbol)
	e.mu.Lock()
	next := e.positions[key] + dir*qty
	if err := limits.Check(qty, price, next); err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Int64("strategy", s.ID).Str("sym", inst.Symbol).Msg("order rejected by risk limits")
		return Result{}, err
	}
	e.positions[key] = next
	e.mu.Unlock()

	order := Order{StrategyID: s.ID, SignalID: sig.ID, Symbol: inst.Symbol, Side: side, Qty: qty, Price: price}
	metrics.OrdersTotal.WithLabelValues(order.Symbol, string(order.Side)).Inc()
	e.log.Info().
		Str("sym", order.Symbol).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("px", order.Price).
		Str("signal", order.SignalID).
		Float64("position", next).
		Msg("submit order (paper)")
	return Result{Order: order, Position: next, SubmittedAt: e.now()}, nil
}

// Position reports the tracked net position of a strategy in symbol.
func (e *Executor) Position(strategyID int64, symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[positionKey(strategyID, symbol)]
}

func positionKey(strategyID int64, symbol string) string {
	return strconv.FormatInt(strategyID, 10) + "/" + symbol
}
