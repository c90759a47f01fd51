// Package strategy holds user-defined strategies and the evaluator turning indicators into trading decisions.
package strategy

import (
	"fmt"
	"strings"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/indicator"
)

// Status is the lifecycle state of a strategy. Only active strategies are evaluated.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPaused   Status = "paused"
)

// PriceFilter votes bullish at or below Min and bearish at or above Max. Zero disables a bound.
type PriceFilter struct {
	Min float64 `yaml:"min" json:"minPrice"`
	Max float64 `yaml:"max" json:"maxPrice"`
}

// VolumeFilter forces HOLD while volume is below Min.
type VolumeFilter struct {
	Min float64 `yaml:"min" json:"minVolume"`
}

// TimeWindow restricts evaluation to a daily HH:MM window in Location.
type TimeWindow struct {
	Start    string `yaml:"start" json:"start"`
	End      string `yaml:"end" json:"end"`
	Location string `yaml:"location" json:"location"`
}

// Conditions is the full rule set of a strategy.
type Conditions struct {
	Indicators indicator.Config `yaml:"indicators" json:"indicators"`
	Price      *PriceFilter     `yaml:"price,omitempty" json:"priceConditions,omitempty"`
	Volume     *VolumeFilter    `yaml:"volume,omitempty" json:"volumeConditions,omitempty"`
	Time       *TimeWindow      `yaml:"time,omitempty" json:"timeConditions,omitempty"`
}

// AutoTrading controls whether actionable signals are handed to order execution.
type AutoTrading struct {
	Enabled             bool    `yaml:"enabled" json:"enabled"`
	Quantity            float64 `yaml:"quantity" json:"quantity"`
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade" json:"maxNotionalPerTrade"`
	MaxPositionSize     float64 `yaml:"max_position_size" json:"maxPositionSize"`
	MinConfidence       float64 `yaml:"min_confidence" json:"minConfidence"`
}

// Allows reports whether a signal with the given confidence should be executed.
func (a AutoTrading) Allows(confidence float64) bool {
	return a.Enabled && confidence >= a.MinConfidence
}

// Strategy is a user-owned rule set evaluated against every market event.
type Strategy struct {
	ID             int64       `yaml:"id" json:"id"`
	UserID         int64       `yaml:"user_id" json:"userId"`
	Name           string      `yaml:"name" json:"name"`
	Preset         string      `yaml:"preset,omitempty" json:"preset,omitempty"`
	Status         Status      `yaml:"status" json:"status"`
	Symbols        []string    `yaml:"symbols,omitempty" json:"symbols,omitempty"`
	Conditions     Conditions  `yaml:"conditions" json:"conditions"`
	AutoTrading    AutoTrading `yaml:"auto_trading" json:"autoTrading"`
	LastExecutedAt *time.Time  `yaml:"-" json:"lastExecutedAt,omitempty"`
}

// Active reports whether the strategy participates in evaluation.
func (s Strategy) Active() bool { return s.Status == StatusActive }

// Applies reports whether the strategy targets symbol; an empty symbol list targets everything.
func (s Strategy) Applies(symbol string) bool {
	if len(s.Symbols) == 0 {
		return true
	}
	for _, sym := range s.Symbols {
		if strings.EqualFold(strings.TrimSpace(sym), symbol) {
			return true
		}
	}
	return false
}

// Contains reports whether now falls inside the window. Start after End wraps past midnight.
func (w TimeWindow) Contains(now time.Time) (bool, error) {
	loc := time.UTC
	if w.Location != "" {
		l, err := time.LoadLocation(w.Location)
		if err != nil {
			return false, fmt.Errorf("load location %q: %w", w.Location, err)
		}
		loc = l
	}
	start, err := time.Parse("15:04", w.Start)
	if err != nil {
		return false, fmt.Errorf("parse start %q: %w", w.Start, err)
	}
	end, err := time.Parse("15:04", w.End)
	if err != nil {
		return false, fmt.Errorf("parse end %q: %w", w.End, err)
	}
	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()
	from := start.Hour()*60 + start.Minute()
	to := end.Hour()*60 + end.Minute()
	if from <= to {
		return minute >= from && minute < to, nil
	}
	return minute >= from || minute < to, nil
}
