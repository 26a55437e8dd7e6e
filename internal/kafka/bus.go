package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

// Bus publishes envelopes to one producer per topic.
type Bus struct {
	producers map[string]*Producer
}

func NewBus(brokers []string, topics []string, buf int, log zerolog.Logger) *Bus {
	b := &Bus{producers: make(map[string]*Producer, len(topics))}
	for _, t := range topics {
		b.producers[t] = NewProducer(brokers, t, buf, log)
	}
	return b
}

func (b *Bus) Start() {
	for _, p := range b.producers {
		p.Start()
	}
}

// PublishEvent queues env keyed by its correlation id, so every event
// of one order (or one product) lands on the same partition.
func (b *Bus) PublishEvent(ctx context.Context, topic string, env orders.Envelope) error {
	p, ok := b.producers[topic]
	if !ok {
		return fmt.Errorf("no producer for topic %q", topic)
	}
	val, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return p.Publish(ctx, orders.PartitionKey(env.CorrelationID), val, EnvelopeHeaders(env)...)
}

func (b *Bus) Close() {
	for _, p := range b.producers {
		p.Close()
	}
}
