package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var ErrProducerClosed = errors.New("producer closed")

type Producer struct {
	w     *kafka.Writer
	inbox chan kafka.Message
	done  chan struct{}
	log   zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, log zerolog.Logger) *Producer {
	if buf <= 0 {
		buf = 256
	}
	l := log.With().Str("topic", topic).Logger()
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true, // fire-and-forget untuk throughput; error dilaporkan via Completion
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					l.Error().Err(err).Int("messages", len(msgs)).Msg("kafka write failed")
				}
			},
		},
		inbox: make(chan kafka.Message, buf),
		done:  make(chan struct{}),
		log:   l,
	}
}

// Start runs the writer loop until Close drains the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.done)
		for m := range p.inbox {
			if err := p.w.WriteMessages(context.Background(), m); err != nil {
				p.log.Error().Err(err).Str("key", string(m.Key)).Msg("kafka enqueue failed")
			}
		}
		if err := p.w.Close(); err != nil {
			p.log.Error().Err(err).Msg("kafka writer close")
		}
	}()
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
	select {
	case p.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes what is queued and waits for the writer to stop. Safe to
// call more than once.
func (p *Producer) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
}
