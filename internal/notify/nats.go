package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
)

// NATSPublisher publishes signals on subject.<SYMBOL>.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	log     zerolog.Logger
}

// NewNATSPublisher connects to url.
func NewNATSPublisher(url, subject string, log zerolog.Logger) (*NATSPublisher, error) {
	log = log.With().Str("component", "nats").Logger()
	opts := []nats.Option{
		nats.Name("autotrade"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}
	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	if subject == "" {
		subject = "signals"
	}
	return &NATSPublisher{conn: conn, subject: subject, log: log}, nil
}

// Subject returns the subject a signal for symbol is published on.
func (p *NATSPublisher) Subject(symbol string) string {
	return p.subject + "." + strings.ToUpper(symbol)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, sig signal.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := Encode(sig)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.Subject(sig.Symbol), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
