package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
)

// DefaultPollInterval is the snapshot cadence when none is configured.
const DefaultPollInterval = 10 * time.Second

// SnapshotSource returns the latest REST snapshot for an instrument or market.ErrNoSnapshot.
type SnapshotSource interface {
	Snapshot(ctx context.Context, inst market.Instrument) (market.MarketEvent, error)
}

// Poller injects polled snapshots into the same channel the streaming feed writes to.
type Poller struct {
	source      SnapshotSource
	log         zerolog.Logger
	interval    time.Duration
	now         func() time.Time
	mu          sync.RWMutex
	instruments []market.Instrument
}

// NewPoller constructs a poller over instruments.
func NewPoller(source SnapshotSource, instruments []market.Instrument, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poller{
		source:   source,
		log:      log.With().Str("component", "poller").Logger(),
		interval: interval,
		now:      time.Now,
	}
	p.SetInstruments(instruments)
	return p
}

// SetInstruments replaces the polled instrument list.
func (p *Poller) SetInstruments(instruments []market.Instrument) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instruments = append(p.instruments[:0:0], instruments...)
}

func (p *Poller) snapshotInstruments() []market.Instrument {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]market.Instrument, len(p.instruments))
	copy(out, p.instruments)
	return out
}

// Run polls once immediately and then on every tick until ctx is canceled.
func (p *Poller) Run(ctx context.Context, out chan<- market.MarketEvent) error {
	if err := p.Poll(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn().Err(err).Msg("initial snapshot poll failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Poll(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
				p.log.Warn().Err(err).Msg("snapshot poll failed")
			}
		}
	}
}

// Poll fetches one snapshot per instrument. Failures of a single instrument are logged and skipped.
func (p *Poller) Poll(ctx context.Context, out chan<- market.MarketEvent) error {
	for _, inst := range p.snapshotInstruments() {
		ev, err := p.source.Snapshot(ctx, inst)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if !errors.Is(err, market.ErrNoSnapshot) {
				p.log.Warn().Err(err).Str("symbol", inst.Symbol).Msg("snapshot fetch failed")
			}
			continue
		}
		ev.Source = market.SourceSnapshot
		if ev.Code == "" {
			ev.Code = snapshotCode(inst)
		}
		if ev.Symbol == "" {
			ev.Symbol = inst.Symbol
		}
		if ev.Time.IsZero() {
			ev.Time = p.now()
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func snapshotCode(inst market.Instrument) string {
	switch {
	case inst.NightCode != "":
		return inst.NightCode
	case inst.DayCode != "":
		return inst.DayCode
	default:
		return inst.Symbol
	}
}
