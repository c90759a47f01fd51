package exchange

import (
	"strings"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

// Daytime (pre/after market) venue prefixes keyed by REST exchange code.
var dayVenues = map[string]string{
	"NAS": "BAQ",
	"NYS": "BAY",
	"AMS": "BAA",
}

// SanitizeCode upper-cases a code and strips anything that is not a letter or digit.
func SanitizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range code {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if r >= 'a' && r <= 'z' {
				r -= 32
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NightCode composes the regular-session feed code, e.g. NAS + TSLA -> DNASTSLA.
func NightCode(exchange, symbol string) string {
	exchange = SanitizeCode(exchange)
	symbol = SanitizeCode(symbol)
	if exchange == "" || symbol == "" {
		return ""
	}
	return "D" + exchange + symbol
}

// DayCode composes the daytime-session feed code, e.g. NAS + TSLA -> RBAQTSLA.
// Unknown venues have no daytime session and yield "".
func DayCode(exchange, symbol string) string {
	venue, ok := dayVenues[SanitizeCode(exchange)]
	symbol = SanitizeCode(symbol)
	if !ok || symbol == "" {
		return ""
	}
	return "R" + venue + symbol
}

// FillCodes derives missing feed codes of inst from its exchange and symbol.
func FillCodes(inst market.Instrument) market.Instrument {
	if inst.NightCode == "" {
		inst.NightCode = NightCode(inst.Exchange, inst.Symbol)
	}
	if inst.DayCode == "" {
		inst.DayCode = DayCode(inst.Exchange, inst.Symbol)
	}
	return inst
}
