// Package risk holds the guard-rails applied before an automated order is submitted.
package risk

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotionalExceeded = errors.New("max notional per trade exceeded")
	ErrPositionExceeded = errors.New("max position size exceeded")
)

// Limits caps a single order. A zero field disables that check.
type Limits struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	MaxPositionSize     float64 `yaml:"max_position_size"`
}

// Allow reports whether notional fits the per-trade cap.
func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Override returns l with every non-zero field of o applied on top.
func (l Limits) Override(o Limits) Limits {
	if o.MaxNotionalPerTrade > 0 {
		l.MaxNotionalPerTrade = o.MaxNotionalPerTrade
	}
	if o.MaxPositionSize > 0 {
		l.MaxPositionSize = o.MaxPositionSize
	}
	return l
}

// Check validates an order of qty at price given the resulting position.
func (l Limits) Check(qty, price, resultingPosition float64) error {
	if notional := math.Abs(qty * price); !l.Allow(notional) {
		return fmt.Errorf("%w: %.2f > %.2f", ErrNotionalExceeded, notional, l.MaxNotionalPerTrade)
	}
	if l.MaxPositionSize > 0 && math.Abs(resultingPosition) > l.MaxPositionSize {
		return fmt.Errorf("%w: %.4f > %.4f", ErrPositionExceeded, math.Abs(resultingPosition), l.MaxPositionSize)
	}
	return nil
}
