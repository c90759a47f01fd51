package indicator

import "strings"

// RSIConfig configures the relative strength index and its vote thresholds.
type RSIConfig struct {
	Period     int     `yaml:"period" json:"period"`
	Oversold   float64 `yaml:"oversold" json:"oversold"`
	Overbought float64 `yaml:"overbought" json:"overbought"`
}

// MAConfig configures the short/long moving average pair.
type MAConfig struct {
	Short int    `yaml:"short" json:"short"`
	Long  int    `yaml:"long" json:"long"`
	Type  string `yaml:"type" json:"type"` // SMA or EMA
}

// MACDConfig configures MACD periods.
type MACDConfig struct {
	Fast   int `yaml:"fast" json:"fast"`
	Slow   int `yaml:"slow" json:"slow"`
	Signal int `yaml:"signal" json:"signal"`
}

// BollingerConfig configures the band period and deviation multiplier.
type BollingerConfig struct {
	Period int     `yaml:"period" json:"period"`
	StdDev float64 `yaml:"std_dev" json:"stdDev"`
}

// VolumeConfig configures the volume moving average.
type VolumeConfig struct {
	Period int `yaml:"period" json:"period"`
}

// Config declares which indicators a strategy wants; nil sections are not computed.
type Config struct {
	RSI           *RSIConfig       `yaml:"rsi,omitempty" json:"rsi,omitempty"`
	MovingAverage *MAConfig        `yaml:"moving_average,omitempty" json:"movingAverage,omitempty"`
	MACD          *MACDConfig      `yaml:"macd,omitempty" json:"macd,omitempty"`
	Bollinger     *BollingerConfig `yaml:"bollinger,omitempty" json:"bollingerBands,omitempty"`
	VolumeMA      *VolumeConfig    `yaml:"volume_ma,omitempty" json:"volumeMA,omitempty"`
}

// Result carries the computed values; a nil field means the indicator was not configured.
type Result struct {
	RSI       *float64   `json:"rsi,omitempty"`
	ShortMA   *float64   `json:"shortMA,omitempty"`
	LongMA    *float64   `json:"longMA,omitempty"`
	MACD      *MACDValue `json:"macd,omitempty"`
	Bollinger *Bands     `json:"bollingerBands,omitempty"`
	VolumeMA  *float64   `json:"volumeMA,omitempty"`
}

// Empty reports whether nothing was computed.
func (r Result) Empty() bool {
	return r.RSI == nil && r.ShortMA == nil && r.LongMA == nil && r.MACD == nil && r.Bollinger == nil && r.VolumeMA == nil
}

// RSI defaults.
const (
	DefaultRSIPeriod     = 14
	DefaultOversold      = 30
	DefaultOverbought    = 70
	DefaultBollingerK    = 2
	DefaultMACDFast      = 12
	DefaultMACDSlow      = 26
	DefaultMACDSignal    = 9
	DefaultBollingerSize = 20
)

// Compute evaluates every configured indicator over the series.
func Compute(cfg Config, prices, volumes []float64) Result {
	var res Result
	if c := cfg.RSI; c != nil {
		period := c.Period
		if period <= 0 {
			period = DefaultRSIPeriod
		}
		v := RSI(prices, period)
		res.RSI = &v
	}
	if c := cfg.MovingAverage; c != nil && c.Short > 0 && c.Long > 0 {
		avg := SMA
		if strings.EqualFold(c.Type, "EMA") {
			avg = EMA
		}
		short, long := avg(prices, c.Short), avg(prices, c.Long)
		res.ShortMA, res.LongMA = &short, &long
	}
	if c := cfg.MACD; c != nil {
		fast, slow, sig := c.Fast, c.Slow, c.Signal
		if fast <= 0 {
			fast = DefaultMACDFast
		}
		if slow <= 0 {
			slow = DefaultMACDSlow
		}
		if sig <= 0 {
			sig = DefaultMACDSignal
		}
		v := MACD(prices, fast, slow, sig)
		res.MACD = &v
	}
	if c := cfg.Bollinger; c != nil {
		period, k := c.Period, c.StdDev
		if period <= 0 {
			period = DefaultBollingerSize
		}
		if k <= 0 {
			k = DefaultBollingerK
		}
		v := Bollinger(prices, period, k)
		res.Bollinger = &v
	}
	if c := cfg.VolumeMA; c != nil && c.Period > 0 {
		v := SMA(volumes, c.Period)
		res.VolumeMA = &v
	}
	return res
}
