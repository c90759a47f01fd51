package strategy

import (
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/indicator"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
)

// majority is the vote share a direction must exceed to win.
const majority = 0.5

// Evaluate classifies every indicator present in both the conditions and the result as
// bullish, bearish or neutral and returns the majority direction with its vote share as
// confidence. A strategy with no applicable condition always yields HOLD with zero confidence.
func Evaluate(c Conditions, price, volume float64, ind indicator.Result, now time.Time) signal.Decision {
	hold := signal.Decision{Type: signal.Hold}

	if c.Volume != nil && c.Volume.Min > 0 && volume < c.Volume.Min {
		return hold
	}
	if c.Time != nil {
		// an unparseable window does not restrict evaluation
		if inside, err := c.Time.Contains(now); err == nil && !inside {
			return hold
		}
	}

	var total, bullish, bearish int
	cfg := c.Indicators

	if cfg.RSI != nil && ind.RSI != nil {
		total++
		oversold, overbought := cfg.RSI.Oversold, cfg.RSI.Overbought
		if oversold <= 0 {
			oversold = indicator.DefaultOversold
		}
		if overbought <= 0 {
			overbought = indicator.DefaultOverbought
		}
		switch rsi := *ind.RSI; {
		case rsi < oversold:
			bullish++
		case rsi > overbought:
			bearish++
		}
	}

	if cfg.MovingAverage != nil && ind.ShortMA != nil && ind.LongMA != nil {
		total++
		switch short, long := *ind.ShortMA, *ind.LongMA; {
		case short > long:
			bullish++
		case short < long:
			bearish++
		}
	}

	if cfg.MACD != nil && ind.MACD != nil {
		total++
		m := ind.MACD
		switch {
		case m.MACD > m.Signal && m.Histogram > 0:
			bullish++
		case m.MACD < m.Signal && m.Histogram < 0:
			bearish++
		}
	}

	if cfg.Bollinger != nil && ind.Bollinger != nil {
		total++
		b := ind.Bollinger
		// a flat band carries no information about the price position
		if b.Upper > b.Lower {
			switch {
			case price <= b.Lower:
				bullish++
			case price >= b.Upper:
				bearish++
			}
		}
	}

	if p := c.Price; p != nil {
		switch {
		case p.Min > 0 && price <= p.Min:
			total++
			bullish++
		case p.Max > 0 && price >= p.Max:
			total++
			bearish++
		}
	}

	if total == 0 {
		return hold
	}
	bullRatio := float64(bullish) / float64(total)
	bearRatio := float64(bearish) / float64(total)
	switch {
	case bullRatio > majority:
		return signal.Decision{Type: signal.Buy, Confidence: bullRatio}
	case bearRatio > majority:
		return signal.Decision{Type: signal.Sell, Confidence: bearRatio}
	default:
		return hold
	}
}
