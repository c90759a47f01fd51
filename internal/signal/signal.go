// Package signal standardizes the trading decisions produced by strategies and handed to persistence and execution.
package signal

import (
	"time"

	"github.com/google/uuid"

	"github.com/suman-kim/auto-trade-server-sub000/internal/indicator"
)

// Type is the direction of a strategy decision.
type Type string

const (
	Buy  Type = "BUY"
	Sell Type = "SELL"
	Hold Type = "HOLD"
)

// Valid reports whether t is one of the known decision types.
func (t Type) Valid() bool {
	return t == Buy || t == Sell || t == Hold
}

// Decision is the evaluator output before it becomes a durable Signal.
type Decision struct {
	Type       Type
	Confidence float64 // in [0,1], 0 for HOLD
}

// Actionable reports whether the decision should be persisted.
func (d Decision) Actionable() bool {
	return (d.Type == Buy || d.Type == Sell) && d.Confidence > 0
}

// Signal is a persisted, actionable strategy decision.
type Signal struct {
	ID           string           `json:"id"`
	StrategyID   int64            `json:"strategy_id"`
	UserID       int64            `json:"user_id"`
	InstrumentID int64            `json:"instrument_id"`
	Symbol       string           `json:"symbol"`
	Type         Type             `json:"type"`
	Confidence   float64          `json:"confidence"`
	Price        float64          `json:"price"`
	Volume       float64          `json:"volume"`
	Indicators   indicator.Result `json:"indicators"`
	Executed     bool             `json:"executed"`
	ExecutedAt   *time.Time       `json:"executed_at,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// New builds a Signal for an actionable decision. It returns false for HOLD or zero confidence.
func New(d Decision, strategyID, userID, instrumentID int64, symbol string, price, volume float64, ind indicator.Result, ts time.Time) (Signal, bool) {
	if !d.Actionable() {
		return Signal{}, false
	}
	return Signal{
		ID:           uuid.NewString(),
		StrategyID:   strategyID,
		UserID:       userID,
		InstrumentID: instrumentID,
		Symbol:       symbol,
		Type:         d.Type,
		Confidence:   d.Confidence,
		Price:        price,
		Volume:       volume,
		Indicators:   ind,
		CreatedAt:    ts,
	}, true
}
