package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/suman-kim/auto-trade-server-sub000/internal/signal"
)

// KafkaPublisher writes signals to a topic keyed by symbol.
type KafkaPublisher struct {
	w *kafka.Writer
}

// NewKafkaPublisher constructs a writer for topic.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and a topic")
	}
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
	return &KafkaPublisher{w: w}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, sig signal.Signal) error {
	data, err := Encode(sig)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(sig.Symbol), Value: data, Time: sig.CreatedAt}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
