package market

import (
	"math"
	"sync"
)

// DefaultHistorySize bounds how many observations are kept per instrument.
const DefaultHistorySize = 200

type series struct {
	prices  []float64
	volumes []float64
}

// History keeps a bounded chronological price/volume series per instrument code,
// most recent last.
type History struct {
	size   int
	mu     sync.Mutex
	series map[string]*series
}

// NewHistory builds a history holding at most size points per key.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, series: make(map[string]*series)}
}

// Append records an observation for key and trims the oldest points beyond the bound.
func (h *History) Append(key string, price, volume float64) {
	if key == "" || !finite(price) || !finite(volume) || price <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[key]
	if s == nil {
		s = &series{}
		h.series[key] = s
	}
	s.prices = append(s.prices, price)
	s.volumes = append(s.volumes, volume)
	if over := len(s.prices) - h.size; over > 0 {
		s.prices = append(s.prices[:0], s.prices[over:]...)
		s.volumes = append(s.volumes[:0], s.volumes[over:]...)
	}
}

// Snapshot returns copies of the price and volume series for key.
func (h *History) Snapshot(key string) (prices, volumes []float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.series[key]
	if s == nil {
		return nil, nil
	}
	return append([]float64(nil), s.prices...), append([]float64(nil), s.volumes...)
}

// Len reports the number of points stored for key.
func (h *History) Len(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s := h.series[key]; s != nil {
		return len(s.prices)
	}
	return 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
