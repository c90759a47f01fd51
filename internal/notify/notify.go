// Package notify forwards generated signals to downstream messaging systems.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/events"
	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
)

// Publisher delivers one signal to a downstream system.
type Publisher interface {
	Publish(ctx context.Context, sig signal.Signal) error
	Close() error
}

// Message is the wire payload published for every signal.
type Message struct {
	Event  string        `json:"event"`
	Signal signal.Signal `json:"signal"`
	SentAt time.Time     `json:"sent_at"`
}

// EventSignalGenerated names the payload event.
const EventSignalGenerated = "signalGenerated"

// Encode renders sig as the JSON payload.
func Encode(sig signal.Signal) ([]byte, error) {
	return json.Marshal(Message{Event: EventSignalGenerated, Signal: sig, SentAt: time.Now().UTC()})
}

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, sig signal.Signal) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Publisher.
func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Forward drains sub into pub until the channel closes or ctx is canceled.
// Delivery failures are logged; the stream keeps flowing.
func Forward(ctx context.Context, sub <-chan events.SignalGenerated, pub Publisher, timeout time.Duration, log zerolog.Logger) error {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			pubCtx, cancel := context.WithTimeout(ctx, timeout)
			err := pub.Publish(pubCtx, ev.Signal)
			cancel()
			if err != nil {
				log.Warn().Err(err).Str("signal", ev.Signal.ID).Msg("signal notification failed")
			}
		}
	}
}
