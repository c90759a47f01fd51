package market

import (
	"errors"
	"strings"
	"time"
)

// ErrInstrumentNotFound is returned when no instrument matches a feed code.
var ErrInstrumentNotFound = errors.New("instrument not found")

// Instrument is the reference data kept per tradable symbol.
// The feed addresses it by venue-qualified codes which differ between day and night sessions.
type Instrument struct {
	ID        int64
	Symbol    string
	Exchange  string // REST exchange code, e.g. NAS
	DayCode   string // e.g. RBAQTSLA
	NightCode string // e.g. DNASTSLA
	LastPrice float64
	High      float64
	Low       float64
	Volume    float64
	UpdatedAt time.Time
}

// Matches reports whether the feed code (or bare symbol) identifies this instrument.
func (i Instrument) Matches(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return false
	}
	return code == strings.ToUpper(i.DayCode) ||
		code == strings.ToUpper(i.NightCode) ||
		code == strings.ToUpper(i.Symbol)
}

// Codes returns the distinct non-empty feed codes of the instrument.
func (i Instrument) Codes() []string {
	out := make([]string, 0, 2)
	if i.DayCode != "" {
		out = append(out, i.DayCode)
	}
	if i.NightCode != "" && !strings.EqualFold(i.NightCode, i.DayCode) {
		out = append(out, i.NightCode)
	}
	return out
}

// Apply folds a market event into the reference data.
func (i *Instrument) Apply(ev MarketEvent) {
	if ev.Price > 0 {
		i.LastPrice = ev.Price
	}
	if ev.HasRange {
		i.High = ev.High
		i.Low = ev.Low
	}
	if ev.Volume > 0 {
		i.Volume = ev.Volume
	}
	i.UpdatedAt = ev.Time
}
