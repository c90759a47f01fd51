package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

// Transaction ids of the realtime frames the feed understands.
const (
	TrOverseasTrade = "HDFSCNT0"
	TrDomesticTrade = "H0STCNT0"
	TrOverseasQuote = "HDFSASP0"
)

// Body field counts per record; these mirror the broker's published layouts.
const (
	TradeFields = 26
	QuoteFields = 17
)

const (
	statusPlain     = "0"
	statusEncrypted = "1"
	headerSep       = "|"
	fieldSep        = "^"
)

var (
	// ErrMalformedFrame marks frames that are truncated or carry unparsable values.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownTransaction marks frames whose transaction id has no known layout.
	ErrUnknownTransaction = errors.New("unknown transaction type")
	// ErrEncryptedFrame marks frames with an encrypted body, which this feed does not subscribe to.
	ErrEncryptedFrame = errors.New("encrypted frame")
)

// ParseError describes why a frame was rejected. It unwraps to one of the sentinel errors.
type ParseError struct {
	TrID   string
	Want   int
	Got    int
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	switch {
	case e.Want > 0:
		return fmt.Sprintf("%v: %s needs %d fields, got %d", e.Err, e.TrID, e.Want, e.Got)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s: %s", e.Err, e.TrID, e.Detail)
	default:
		return fmt.Sprintf("%v: %s", e.Err, e.TrID)
	}
}

func (e *ParseError) Unwrap() error { return e.Err }

// Reason is a short label for metrics.
func (e *ParseError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrUnknownTransaction):
		return "unknown_tr"
	case errors.Is(e.Err, ErrEncryptedFrame):
		return "encrypted"
	case e.Want > 0:
		return "short"
	default:
		return "malformed"
	}
}

type layout struct {
	source market.Source
	fields int
}

var layouts = map[string]layout{
	TrOverseasTrade: {source: market.SourceTrade, fields: TradeFields},
	TrDomesticTrade: {source: market.SourceTrade, fields: TradeFields},
	TrOverseasQuote: {source: market.SourceQuote, fields: QuoteFields},
}

// KnownTransaction reports whether trID has a registered layout.
func KnownTransaction(trID string) bool {
	_, ok := layouts[trID]
	return ok
}

// Frame is one parsed data frame. Exactly one of Trades or Quotes is populated.
type Frame struct {
	TrID   string
	Count  int
	Trades []market.Trade
	Quotes []market.Quote
}

// Events converts the frame records into market events stamped with ts.
func (f Frame) Events(ts time.Time) []market.MarketEvent {
	out := make([]market.MarketEvent, 0, len(f.Trades)+len(f.Quotes))
	for _, t := range f.Trades {
		out = append(out, t.Event(ts))
	}
	for _, q := range f.Quotes {
		out = append(out, q.Event(ts))
	}
	return out
}

var kst = time.FixedZone("KST", 9*60*60)

// Time returns the Korea timestamp of the frame's first record.
func (f Frame) Time() (time.Time, bool) {
	var date, clock string
	switch {
	case len(f.Trades) > 0:
		date, clock = f.Trades[0].KoreaDate, f.Trades[0].KoreaTime
	case len(f.Quotes) > 0:
		date, clock = f.Quotes[0].KoreaDate, f.Quotes[0].KoreaTime
	default:
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation("20060102150405", date+clock, kst)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// ParseFrame turns `status|trID|count|f0^f1^...` into typed records.
// count records of the layout's field count are read from the body; any shortfall
// rejects the whole frame so no partially populated record escapes.
func ParseFrame(raw string) (Frame, error) {
	raw = strings.TrimRight(raw, "\r\n")
	parts := strings.SplitN(raw, headerSep, 4)
	if len(parts) != 4 {
		return Frame{}, &ParseError{Err: ErrMalformedFrame, Detail: fmt.Sprintf("expected 4 header parts, got %d", len(parts))}
	}
	status, trID, countText, body := parts[0], parts[1], parts[2], parts[3]
	switch status {
	case statusPlain:
	case statusEncrypted:
		return Frame{}, &ParseError{TrID: trID, Err: ErrEncryptedFrame}
	default:
		return Frame{}, &ParseError{TrID: trID, Err: ErrMalformedFrame, Detail: fmt.Sprintf("bad status %q", status)}
	}
	lay, ok := layouts[trID]
	if !ok {
		return Frame{}, &ParseError{TrID: trID, Err: ErrUnknownTransaction}
	}
	count, err := strconv.Atoi(strings.TrimSpace(countText))
	if err != nil || count <= 0 {
		return Frame{}, &ParseError{TrID: trID, Err: ErrMalformedFrame, Detail: fmt.Sprintf("bad record count %q", countText)}
	}

	fields := strings.Split(strings.TrimSuffix(body, fieldSep), fieldSep)
	if need := count * lay.fields; len(fields) < need {
		return Frame{}, &ParseError{TrID: trID, Err: ErrMalformedFrame, Want: need, Got: len(fields)}
	}

	frame := Frame{TrID: trID, Count: count}
	for i := 0; i < count; i++ {
		rec := fields[i*lay.fields : (i+1)*lay.fields]
		switch lay.source {
		case market.SourceTrade:
			t, err := parseTrade(rec)
			if err != nil {
				return Frame{}, &ParseError{TrID: trID, Err: ErrMalformedFrame, Detail: err.Error()}
			}
			frame.Trades = append(frame.Trades, t)
		case market.SourceQuote:
			q, err := parseQuote(rec)
			if err != nil {
				return Frame{}, &ParseError{TrID: trID, Err: ErrMalformedFrame, Detail: err.Error()}
			}
			frame.Quotes = append(frame.Quotes, q)
		}
	}
	return frame, nil
}

// fieldReader collects the first conversion error so offsets read top to bottom.
type fieldReader struct {
	rec []string
	err error
}

func (r *fieldReader) str(i int) string { return strings.TrimSpace(r.rec[i]) }

func (r *fieldReader) num(i int, name string) float64 {
	s := r.str(i)
	if s == "" || r.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		r.err = fmt.Errorf("field %d (%s): %q is not a number", i, name, s)
		return 0
	}
	return v
}

func (r *fieldReader) int(i int, name string) int {
	return int(r.num(i, name))
}

func parseTrade(rec []string) (market.Trade, error) {
	r := fieldReader{rec: rec}
	t := market.Trade{
		Code:        r.str(0),
		Symbol:      r.str(1),
		Decimals:    r.int(2, "ZDIV"),
		LocalDate:   r.str(4),
		LocalTime:   r.str(5),
		KoreaDate:   r.str(6),
		KoreaTime:   r.str(7),
		Open:        r.num(8, "OPEN"),
		High:        r.num(9, "HIGH"),
		Low:         r.num(10, "LOW"),
		Last:        r.num(11, "LAST"),
		Sign:        r.str(12),
		Diff:        r.num(13, "DIFF"),
		Rate:        r.num(14, "RATE"),
		Bid:         r.num(15, "PBID"),
		Ask:         r.num(16, "PASK"),
		BidSize:     r.num(17, "VBID"),
		AskSize:     r.num(18, "VASK"),
		TradeVolume: r.num(19, "EVOL"),
		TotalVolume: r.num(20, "TVOL"),
		TotalAmount: r.num(21, "TAMT"),
		BuyVolume:   r.num(22, "BIVL"),
		SellVolume:  r.num(23, "ASVL"),
		Strength:    r.num(24, "STRN"),
		MarketType:  r.str(25),
	}
	if r.err != nil {
		return market.Trade{}, r.err
	}
	if t.Code == "" {
		return market.Trade{}, errors.New("empty instrument code")
	}
	if t.Last <= 0 {
		return market.Trade{}, fmt.Errorf("non-positive last price %v", t.Last)
	}
	return t, nil
}

func parseQuote(rec []string) (market.Quote, error) {
	r := fieldReader{rec: rec}
	q := market.Quote{
		Code:           r.str(0),
		Symbol:         r.str(1),
		Decimals:       r.int(2, "ZDIV"),
		LocalDate:      r.str(3),
		LocalTime:      r.str(4),
		KoreaDate:      r.str(5),
		KoreaTime:      r.str(6),
		TotalBidVolume: r.num(7, "BVOL"),
		TotalAskVolume: r.num(8, "AVOL"),
		BidVolumeDiff:  r.num(9, "BDVL"),
		AskVolumeDiff:  r.num(10, "ADVL"),
		Bid:            r.num(11, "PBID1"),
		Ask:            r.num(12, "PASK1"),
		BidSize:        r.num(13, "VBID1"),
		AskSize:        r.num(14, "VASK1"),
		BidSizeDiff:    r.num(15, "DBID1"),
		AskSizeDiff:    r.num(16, "DASK1"),
	}
	if r.err != nil {
		return market.Quote{}, r.err
	}
	if q.Code == "" {
		return market.Quote{}, errors.New("empty instrument code")
	}
	if q.Bid <= 0 && q.Ask <= 0 {
		return market.Quote{}, errors.New("quote without bid or ask")
	}
	return q, nil
}

// Control classifies non-data messages arriving on the stream.
type Control int

const (
	// ControlNone means the text should go to the frame parser.
	ControlNone Control = iota
	// ControlPingPong is the broker keep-alive, echoed back unchanged.
	ControlPingPong
	// ControlAck acknowledges a subscribe or unsubscribe request.
	ControlAck
	// ControlRejected is the broker's parse-error or invalid-request sentinel.
	ControlRejected
	// ControlOther is any other JSON system message.
	ControlOther
)

// ClassifyControl recognizes control messages by substring before any delimiter parsing.
func ClassifyControl(raw string) Control {
	switch {
	case strings.Contains(raw, "PINGPONG"):
		return ControlPingPong
	case strings.Contains(raw, "SUBSCRIBE SUCCESS"), strings.Contains(raw, "ALREADY IN SUBSCRIBE"):
		return ControlAck
	case strings.Contains(raw, "JSON PARSING ERROR"), strings.Contains(raw, "invalid"):
		return ControlRejected
	case strings.HasPrefix(strings.TrimSpace(raw), "{"):
		return ControlOther
	default:
		return ControlNone
	}
}
