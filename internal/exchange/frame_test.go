package exchange

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

func tradeBody(code, symbol string, last float64) string {
	fields := make([]string, TradeFields)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = code
	fields[1] = symbol
	fields[2] = "4"
	fields[3] = "20240102"
	fields[4] = "20240102"
	fields[5] = "093000"
	fields[6] = "20240102"
	fields[7] = "233000"
	fields[8] = "240.10"
	fields[9] = "251.00"
	fields[10] = "238.50"
	fields[11] = strconvF(last)
	fields[12] = "2"
	fields[20] = "123456"
	fields[25] = "1"
	return strings.Join(fields, "^")
}

func quoteBody(code, symbol string, bid, ask float64) string {
	fields := make([]string, QuoteFields)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = code
	fields[1] = symbol
	fields[7] = "300"
	fields[8] = "200"
	fields[11] = strconvF(bid)
	fields[12] = strconvF(ask)
	return strings.Join(fields, "^")
}

func strconvF(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func TestParseFrameTrade(t *testing.T) {
	raw := "0|" + TrOverseasTrade + "|001|" + tradeBody("DNASTSLA", "TSLA", 250.5)
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame returned error: %v", err)
	}
	if len(frame.Trades) != 1 || len(frame.Quotes) != 0 {
		t.Fatalf("unexpected frame %+v", frame)
	}
	tr := frame.Trades[0]
	if tr.Code != "DNASTSLA" || tr.Symbol != "TSLA" || tr.Last != 250.5 || tr.High != 251 || tr.TotalVolume != 123456 {
		t.Fatalf("unexpected trade %+v", tr)
	}
	evs := frame.Events(time.Unix(0, 0))
	if len(evs) != 1 || evs[0].Source != market.SourceTrade || !evs[0].HasRange || evs[0].Price != 250.5 {
		t.Fatalf("unexpected events %+v", evs)
	}
}

func TestParseFrameQuote(t *testing.T) {
	raw := "0|" + TrOverseasQuote + "|1|" + quoteBody("DNASAAPL", "AAPL", 189.5, 190.5)
	frame, err := ParseFrame(raw)
	if err != nil {
		t.Fatalf("ParseFrame returned error: %v", err)
	}
	if len(frame.Quotes) != 1 {
		t.Fatalf("expected one quote, got %+v", frame)
	}
	ev := frame.Events(time.Now())[0]
	if ev.Source != market.SourceQuote || ev.Price != 190 || ev.Volume != 500 {
		t.Fatalf("unexpected quote event %+v", ev)
	}
}

func TestParseFrameMultipleRecords(t *testing.T) {
	body := tradeBody("DNASTSLA", "TSLA", 250) + "^" + tradeBody("DNASTSLA", "TSLA", 251)
	frame, err := ParseFrame("0|" + TrOverseasTrade + "|002|" + body)
	if err != nil {
		t.Fatalf("ParseFrame returned error: %v", err)
	}
	if len(frame.Trades) != 2 || frame.Trades[0].Last != 250 || frame.Trades[1].Last != 251 {
		t.Fatalf("unexpected trades %+v", frame.Trades)
	}
}

func TestParseFrameRejectsShortBody(t *testing.T) {
	raw := "0|H0STCNT0|001|RBAQTSLA^TSLA^2^20240102^20240102^093000^20240102^233000^240^251^"
	frame, err := ParseFrame(raw)
	if !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Want != TradeFields || perr.Got != 10 {
		t.Fatalf("unexpected parse error %#v", err)
	}
	if len(frame.Trades) != 0 || len(frame.Quotes) != 0 {
		t.Fatalf("partial frame leaked: %+v", frame)
	}
}

func TestParseFrameRejectsCountBeyondBody(t *testing.T) {
	raw := "0|" + TrOverseasTrade + "|002|" + tradeBody("DNASTSLA", "TSLA", 250)
	if _, err := ParseFrame(raw); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFrameTime(t *testing.T) {
	frame, err := ParseFrame("0|" + TrOverseasTrade + "|001|" + tradeBody("DNASTSLA", "TSLA", 250))
	if err != nil {
		t.Fatalf("ParseFrame returned error: %v", err)
	}
	ts, ok := frame.Time()
	want := time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)
	if !ok || !ts.Equal(want) {
		t.Fatalf("Time() = %v %v, want %v", ts, ok, want)
	}

	frame, err = ParseFrame("0|" + TrOverseasQuote + "|001|" + quoteBody("DNASTSLA", "TSLA", 249, 251))
	if err != nil {
		t.Fatalf("ParseFrame returned error: %v", err)
	}
	if _, ok := frame.Time(); ok {
		t.Fatalf("expected no time for a quote without korea date")
	}
}

func TestParseFrameErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown transaction", "0|XXXX0000|001|a^b^c", ErrUnknownTransaction},
		{"encrypted", "1|" + TrOverseasTrade + "|001|deadbeef", ErrEncryptedFrame},
		{"missing header", "0|" + TrOverseasTrade, ErrMalformedFrame},
		{"bad status", "9|" + TrOverseasTrade + "|001|" + tradeBody("DNASTSLA", "TSLA", 1), ErrMalformedFrame},
		{"bad count", "0|" + TrOverseasTrade + "|abc|" + tradeBody("DNASTSLA", "TSLA", 1), ErrMalformedFrame},
		{"zero count", "0|" + TrOverseasTrade + "|000|" + tradeBody("DNASTSLA", "TSLA", 1), ErrMalformedFrame},
		{"non numeric price", "0|" + TrOverseasTrade + "|001|" + strings.Replace(tradeBody("DNASTSLA", "TSLA", 250), "250", "abc", 1), ErrMalformedFrame},
		{"zero last", "0|" + TrOverseasTrade + "|001|" + tradeBody("DNASTSLA", "TSLA", 0), ErrMalformedFrame},
		{"nan last", "0|" + TrOverseasTrade + "|001|" + tradeBody("DNASTSLA", "TSLA", math.NaN()), ErrMalformedFrame},
		{"inf last", "0|" + TrOverseasTrade + "|001|" + tradeBody("DNASTSLA", "TSLA", math.Inf(1)), ErrMalformedFrame},
		{"bare inf last", "0|" + TrOverseasTrade + "|001|" + strings.Replace(tradeBody("DNASTSLA", "TSLA", 250), "250", "Inf", 1), ErrMalformedFrame},
		{"nan volume", "0|" + TrOverseasTrade + "|001|" + strings.Replace(tradeBody("DNASTSLA", "TSLA", 250), "123456", "NaN", 1), ErrMalformedFrame},
		{"nan bid", "0|" + TrOverseasQuote + "|001|" + quoteBody("DNASAAPL", "AAPL", math.NaN(), 101), ErrMalformedFrame},
		{"inf bid", "0|" + TrOverseasQuote + "|001|" + quoteBody("DNASAAPL", "AAPL", math.Inf(-1), 101), ErrMalformedFrame},
		{"quote without prices", "0|" + TrOverseasQuote + "|001|" + quoteBody("DNASAAPL", "AAPL", 0, 0), ErrMalformedFrame},
	}
	for _, tc := range cases {
		if _, err := ParseFrame(tc.raw); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseErrorReason(t *testing.T) {
	_, err := ParseFrame("0|XXXX0000|001|a")
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Reason() != "unknown_tr" {
		t.Fatalf("unexpected reason for %v", err)
	}
}

func TestClassifyControl(t *testing.T) {
	cases := map[string]Control{
		`{"header":{"tr_id":"PINGPONG","datetime":"20240102093000"}}`:                                ControlPingPong,
		`{"header":{"tr_id":"HDFSCNT0"},"body":{"rt_cd":"0","msg1":"SUBSCRIBE SUCCESS"}}`:            ControlAck,
		`{"header":{"tr_id":"HDFSCNT0"},"body":{"rt_cd":"0","msg1":"UNSUBSCRIBE SUCCESS"}}`:          ControlAck,
		`{"header":{"tr_id":"HDFSCNT0"},"body":{"rt_cd":"1","msg1":"JSON PARSING ERROR"}}`:           ControlRejected,
		`{"header":{"tr_id":"HDFSCNT0"},"body":{"rt_cd":"1","msg1":"invalid approval : NOT FOUND"}}`: ControlRejected,
		`{"header":{"tr_id":"HDFSCNT0"}}`:                                                            ControlOther,
		"0|HDFSCNT0|001|DNASTSLA^TSLA":                                                               ControlNone,
	}
	for raw, want := range cases {
		if got := ClassifyControl(raw); got != want {
			t.Fatalf("ClassifyControl(%q) = %v, want %v", raw, got, want)
		}
	}
}
