// Package indicator computes technical indicators over chronological price and volume series (most recent last).
//
// Every function is pure and rounds its output to two decimal places so repeated runs
// over the same series compare equal.
package indicator

import (
	"math"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places every output is rounded to.
const Precision = 2

// NeutralRSI is returned when the series is too short to measure momentum.
const NeutralRSI = 50

// Round rounds v half away from zero to Precision decimal places.
func Round(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(Precision).InexactFloat64()
}

func last(prices []float64) float64 {
	if len(prices) == 0 {
		return 0
	}
	return prices[len(prices)-1]
}

// SMA is the simple average of the last period points. A series shorter than
// period yields its last element.
func SMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return Round(last(prices))
	}
	return Round(mean(prices[len(prices)-period:]))
}

// EMA is the exponential average seeded with the SMA of the first period points.
// A series shorter than period yields its last element.
func EMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return Round(last(prices))
	}
	return Round(last(emaSeries(prices, period)))
}

// emaSeries returns the unrounded EMA for every index from period-1 onwards.
func emaSeries(prices []float64, period int) []float64 {
	if period <= 0 || len(prices) < period {
		return nil
	}
	k := 2 / float64(period+1)
	out := make([]float64, 0, len(prices)-period+1)
	ema := mean(prices[:period])
	out = append(out, ema)
	for _, px := range prices[period:] {
		ema = px*k + ema*(1-k)
		out = append(out, ema)
	}
	return out
}

// RSI uses Wilder smoothing of average gains and losses over period.
// It returns NeutralRSI when fewer than period+1 points exist and 100 when there were no losses.
func RSI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return NeutralRSI
	}
	p := float64(period)
	var gain, loss float64
	for i := 1; i <= period; i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	avgGain, avgLoss := gain/p, loss/p
	for i := period + 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		g, l := 0.0, 0.0
		if d > 0 {
			g = d
		} else {
			l = -d
		}
		avgGain = (avgGain*(p-1) + g) / p
		avgLoss = (avgLoss*(p-1) + l) / p
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	return Round(100 - 100/(1+rs))
}

// MACDValue holds the MACD line, its signal line and the histogram.
type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// MACD computes fastEMA - slowEMA; the signal line is the EMA of the MACD history itself.
func MACD(prices []float64, fast, slow, signal int) MACDValue {
	if fast > slow {
		fast, slow = slow, fast
	}
	if fast <= 0 || len(prices) < slow {
		// both averages fall back to the last price
		return MACDValue{}
	}
	fastS := emaSeries(prices, fast)
	slowS := emaSeries(prices, slow)
	history := make([]float64, 0, len(slowS))
	for i := slow - 1; i < len(prices); i++ {
		history = append(history, fastS[i-fast+1]-slowS[i-slow+1])
	}
	line := last(history)
	sig := line
	if s := emaSeries(history, signal); len(s) > 0 {
		sig = last(s)
	}
	return MACDValue{
		MACD:      Round(line),
		Signal:    Round(sig),
		Histogram: Round(line - sig),
	}
}

// Bands is a Bollinger band triple.
type Bands struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

// Bollinger returns SMA(period) ± k·stddev(period). A short series yields a flat band at the last price.
func Bollinger(prices []float64, period int, k float64) Bands {
	if period <= 0 || len(prices) < period {
		px := Round(last(prices))
		return Bands{Upper: px, Middle: px, Lower: px}
	}
	window := prices[len(prices)-period:]
	m := mean(window)
	var sq float64
	for _, px := range window {
		sq += (px - m) * (px - m)
	}
	sd := math.Sqrt(sq / float64(period))
	return Bands{
		Upper:  Round(m + k*sd),
		Middle: Round(m),
		Lower:  Round(m - k*sd),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
