// Package market holds the normalized market data shared by the feed, the indicator engine and the dispatcher.
package market

import (
	"errors"
	"time"
)

// ErrNoSnapshot means a snapshot source had nothing to report for an instrument.
var ErrNoSnapshot = errors.New("no snapshot available")

// Source tells where a MarketEvent came from. It is decided once at ingestion.
type Source int

const (
	// SourceTrade is a streaming execution (trade) frame.
	SourceTrade Source = iota + 1
	// SourceQuote is a streaming bid/ask frame.
	SourceQuote
	// SourceSnapshot is a polled REST snapshot injected by the poller.
	SourceSnapshot
)

func (s Source) String() string {
	switch s {
	case SourceTrade:
		return "trade"
	case SourceQuote:
		return "quote"
	case SourceSnapshot:
		return "snapshot"
	default:
		return "unknown"
	}
}

// MarketEvent is one normalized market update consumed by the dispatcher exactly once.
type MarketEvent struct {
	Code   string // feed instrument code, e.g. DNASTSLA
	Symbol string // canonical ticker, e.g. TSLA
	Source Source
	Price  float64
	// High and Low are only meaningful when HasRange is set.
	High     float64
	Low      float64
	HasRange bool
	Volume   float64
	Bid      float64
	Ask      float64
	Time     time.Time
}

// Trade is the typed shape of a streaming execution record.
type Trade struct {
	Code        string
	Symbol      string
	Decimals    int
	LocalDate   string
	LocalTime   string
	KoreaDate   string
	KoreaTime   string
	Open        float64
	High        float64
	Low         float64
	Last        float64
	Sign        string
	Diff        float64
	Rate        float64
	Bid         float64
	Ask         float64
	BidSize     float64
	AskSize     float64
	TradeVolume float64
	TotalVolume float64
	TotalAmount float64
	BuyVolume   float64
	SellVolume  float64
	Strength    float64
	MarketType  string
}

// Event converts the trade into the pipeline representation.
func (t Trade) Event(ts time.Time) MarketEvent {
	return MarketEvent{
		Code:     t.Code,
		Symbol:   t.Symbol,
		Source:   SourceTrade,
		Price:    t.Last,
		High:     t.High,
		Low:      t.Low,
		HasRange: t.High > 0 && t.Low > 0,
		Volume:   t.TotalVolume,
		Bid:      t.Bid,
		Ask:      t.Ask,
		Time:     ts,
	}
}

// Quote is the typed shape of a streaming best bid/ask record.
type Quote struct {
	Code           string
	Symbol         string
	Decimals       int
	LocalDate      string
	LocalTime      string
	KoreaDate      string
	KoreaTime      string
	TotalBidVolume float64
	TotalAskVolume float64
	BidVolumeDiff  float64
	AskVolumeDiff  float64
	Bid            float64
	Ask            float64
	BidSize        float64
	AskSize        float64
	BidSizeDiff    float64
	AskSizeDiff    float64
}

// Event converts the quote into the pipeline representation using the mid price.
func (q Quote) Event(ts time.Time) MarketEvent {
	price := q.Bid
	switch {
	case q.Bid > 0 && q.Ask > 0:
		price = (q.Bid + q.Ask) / 2
	case q.Bid <= 0:
		price = q.Ask
	}
	return MarketEvent{
		Code:   q.Code,
		Symbol: q.Symbol,
		Source: SourceQuote,
		Price:  price,
		Volume: q.TotalBidVolume + q.TotalAskVolume,
		Bid:    q.Bid,
		Ask:    q.Ask,
		Time:   ts,
	}
}
