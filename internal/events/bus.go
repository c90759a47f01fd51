// Package events provides typed publish/subscribe streams decoupling the feed, the engine and downstream consumers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
)

// Bus fans every published value out to all current subscribers.
// Publish never blocks: a subscriber whose buffer is full misses the value and the drop is counted.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[int]chan T
	next    int
	dropped atomic.Uint64
}

// NewBus constructs an empty bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[int]chan T)}
}

// Subscribe registers a subscriber with the given buffer and returns its channel plus a cancel func
// that unregisters and closes it.
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers v to every subscriber that has room.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (b *Bus[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// ConnectionKind enumerates feed session lifecycle notifications.
type ConnectionKind int

const (
	Connected ConnectionKind = iota + 1
	Disconnected
	Error
	Reconnecting
	MaxReconnectAttemptsReached
)

func (k ConnectionKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Error:
		return "error"
	case Reconnecting:
		return "reconnecting"
	case MaxReconnectAttemptsReached:
		return "maxReconnectAttemptsReached"
	default:
		return "unknown"
	}
}

// ConnectionEvent is published by the feed connection manager.
type ConnectionEvent struct {
	Kind    ConnectionKind
	Attempt int
	Delay   time.Duration
	Err     error
	At      time.Time
}

// SignalGenerated carries every persisted signal to notification and order subsystems.
type SignalGenerated struct {
	Signal signal.Signal
}
