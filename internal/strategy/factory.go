package strategy

import (
	"fmt"
	"strings"

	"github.com/suman-kim/auto-trade-server-sub000/internal/indicator"
)

// Preset returns the conditions of a named built-in strategy.
func Preset(name string) (Conditions, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "rsi", "rsi_reversal":
		return Conditions{Indicators: indicator.Config{
			RSI: &indicator.RSIConfig{Period: indicator.DefaultRSIPeriod, Oversold: indicator.DefaultOversold, Overbought: indicator.DefaultOverbought},
		}}, true
	case "ma", "ma_cross":
		return Conditions{Indicators: indicator.Config{
			MovingAverage: &indicator.MAConfig{Short: 5, Long: 20, Type: "SMA"},
		}}, true
	case "macd", "macd_momentum":
		return Conditions{Indicators: indicator.Config{
			MACD: &indicator.MACDConfig{Fast: indicator.DefaultMACDFast, Slow: indicator.DefaultMACDSlow, Signal: indicator.DefaultMACDSignal},
		}}, true
	case "bollinger", "bollinger_reversion":
		return Conditions{Indicators: indicator.Config{
			Bollinger: &indicator.BollingerConfig{Period: indicator.DefaultBollingerSize, StdDev: indicator.DefaultBollingerK},
		}}, true
	case "balanced":
		return Conditions{Indicators: indicator.Config{
			RSI:           &indicator.RSIConfig{Period: indicator.DefaultRSIPeriod, Oversold: indicator.DefaultOversold, Overbought: indicator.DefaultOverbought},
			MovingAverage: &indicator.MAConfig{Short: 5, Long: 20, Type: "EMA"},
			MACD:          &indicator.MACDConfig{Fast: indicator.DefaultMACDFast, Slow: indicator.DefaultMACDSlow, Signal: indicator.DefaultMACDSignal},
			Bollinger:     &indicator.BollingerConfig{Period: indicator.DefaultBollingerSize, StdDev: indicator.DefaultBollingerK},
			VolumeMA:      &indicator.VolumeConfig{Period: 20},
		}}, true
	default:
		return Conditions{}, false
	}
}

// Build resolves a strategy's preset into concrete conditions and fills defaults.
// Explicitly declared indicator sections win over the preset.
func Build(s Strategy) (Strategy, error) {
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.Preset != "" {
		preset, ok := Preset(s.Preset)
		if !ok {
			return s, fmt.Errorf("strategy %d: unknown preset %q", s.ID, s.Preset)
		}
		ind := &s.Conditions.Indicators
		if ind.RSI == nil {
			ind.RSI = preset.Indicators.RSI
		}
		if ind.MovingAverage == nil {
			ind.MovingAverage = preset.Indicators.MovingAverage
		}
		if ind.MACD == nil {
			ind.MACD = preset.Indicators.MACD
		}
		if ind.Bollinger == nil {
			ind.Bollinger = preset.Indicators.Bollinger
		}
		if ind.VolumeMA == nil {
			ind.VolumeMA = preset.Indicators.VolumeMA
		}
	}
	if ma := s.Conditions.Indicators.MovingAverage; ma != nil && ma.Short >= ma.Long {
		return s, fmt.Errorf("strategy %d: short MA period %d must be below long %d", s.ID, ma.Short, ma.Long)
	}
	if s.AutoTrading.MinConfidence < 0 || s.AutoTrading.MinConfidence > 1 {
		return s, fmt.Errorf("strategy %d: min confidence %.2f outside [0,1]", s.ID, s.AutoTrading.MinConfidence)
	}
	return s, nil
}
