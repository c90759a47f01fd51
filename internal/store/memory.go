// Package store keeps instruments, strategies and signals for the dispatcher.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/market"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
	"github.com/suman-kim/auto-trade-server-sub000/internal/strategy"
)

// Memory is an in-process store for all three repositories.
type Memory struct {
	mu          sync.RWMutex
	instruments []market.Instrument
	strategies  map[int64]strategy.Strategy
	signals     []signal.Signal
	signalIdx   map[string]int
	nextInst    int64
	nextStrat   int64
}

// NewMemory creates an empty store optionally pre-sizing signal storage.
func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{
		strategies: make(map[int64]strategy.Strategy),
		signals:    make([]signal.Signal, 0, capacity),
		signalIdx:  make(map[string]int, capacity),
	}
}

// AddInstrument registers inst, assigning an id when it has none.
func (m *Memory) AddInstrument(inst market.Instrument) market.Instrument {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.ID == 0 {
		m.nextInst++
		inst.ID = m.nextInst
	} else if inst.ID > m.nextInst {
		m.nextInst = inst.ID
	}
	m.instruments = append(m.instruments, inst)
	return inst
}

// Instruments returns a copy of every registered instrument.
func (m *Memory) Instruments() []market.Instrument {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]market.Instrument, len(m.instruments))
	copy(out, m.instruments)
	return out
}

func (m *Memory) indexOf(code string) int {
	for i, inst := range m.instruments {
		if inst.Matches(code) {
			return i
		}
	}
	return -1
}

// FindByCode resolves a feed code or bare symbol.
func (m *Memory) FindByCode(_ context.Context, code string) (market.Instrument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	i := m.indexOf(code)
	if i < 0 {
		return market.Instrument{}, fmt.Errorf("%q: %w", code, market.ErrInstrumentNotFound)
	}
	return m.instruments[i], nil
}

// UpsertPriceVolume folds the latest observation into the instrument. Zero high/low keep the previous range.
func (m *Memory) UpsertPriceVolume(_ context.Context, code string, price, high, low, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.indexOf(code)
	if i < 0 {
		return fmt.Errorf("%q: %w", code, market.ErrInstrumentNotFound)
	}
	m.instruments[i].Apply(market.MarketEvent{
		Price:    price,
		High:     high,
		Low:      low,
		HasRange: high > 0 && low > 0,
		Volume:   volume,
		Time:     time.Now(),
	})
	return nil
}

// AddStrategy registers s, assigning an id when it has none.
func (m *Memory) AddStrategy(s strategy.Strategy) strategy.Strategy {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == 0 {
		m.nextStrat++
		s.ID = m.nextStrat
	} else if s.ID > m.nextStrat {
		m.nextStrat = s.ID
	}
	m.strategies[s.ID] = s
	return s
}

// Strategy returns the strategy with id.
func (m *Memory) Strategy(id int64) (strategy.Strategy, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.strategies[id]
	return s, ok
}

// ListActive returns active strategies ordered by id.
func (m *Memory) ListActive(context.Context) ([]strategy.Strategy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]strategy.Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		if s.Active() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// TouchLastExecuted stamps the strategy's last evaluation time.
func (m *Memory) TouchLastExecuted(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[id]
	if !ok {
		return fmt.Errorf("strategy %d not found", id)
	}
	s.LastExecutedAt = &at
	m.strategies[id] = s
	return nil
}

// Save appends an actionable signal.
func (m *Memory) Save(_ context.Context, sig signal.Signal) error {
	if !(signal.Decision{Type: sig.Type, Confidence: sig.Confidence}).Actionable() {
		return fmt.Errorf("refusing to store non-actionable signal %s/%v", sig.Type, sig.Confidence)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.signalIdx[sig.ID]; dup {
		return fmt.Errorf("signal %s already stored", sig.ID)
	}
	m.signalIdx[sig.ID] = len(m.signals)
	m.signals = append(m.signals, sig)
	return nil
}

// MarkExecuted flags a stored signal as executed at at.
func (m *Memory) MarkExecuted(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.signalIdx[id]
	if !ok {
		return fmt.Errorf("signal %s not found", id)
	}
	m.signals[i].Executed = true
	m.signals[i].ExecutedAt = &at
	return nil
}

// Signals returns a copy of the stored signals in insertion order.
func (m *Memory) Signals() []signal.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]signal.Signal, len(m.signals))
	copy(out, m.signals)
	return out
}
