package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := orders.OrderCreatedPayload{
		OrderID:     "o-1",
		UserID:      "u-1",
		Items:       []orders.ItemPrice{{ProductID: "p1", Qty: 2, UnitPrice: decimal.RequireFromString("1.50")}},
		TotalAmount: decimal.RequireFromString("3.00"),
	}
	env, err := orders.NewEnvelope(orders.EventOrderCreated, "api", "trace-1", "o-1", payload)
	require.NoError(t, err)

	b, err := json.Marshal(env)
	require.NoError(t, err)
	m := kafka.Message{Value: b, Headers: EnvelopeHeaders(env)}

	assert.Equal(t, orders.EventOrderCreated, HeaderValue(m, HeaderEventType))
	assert.Equal(t, "1", HeaderValue(m, HeaderEventVersion))
	assert.Equal(t, "", HeaderValue(m, "x-missing"))

	got, err := DecodeEnvelope(m)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, got.EventID)
	assert.Equal(t, "o-1", got.CorrelationID)

	p, err := UnwrapPayload[orders.OrderCreatedPayload](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "o-1", p.OrderID)
	assert.True(t, payload.TotalAmount.Equal(p.TotalAmount))
}

func TestDecodeEnvelope_Garbage(t *testing.T) {
	_, err := DecodeEnvelope(kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)

	_, err = UnwrapPayload[orders.LowStockPayload]([]byte(`{"stock":"many"}`))
	assert.Error(t, err)
}

func TestBus_UnknownTopic(t *testing.T) {
	b := NewBus([]string{"localhost:9092"}, []string{orders.TopicOrderCreated}, 1, zerolog.Nop())
	err := b.PublishEvent(context.Background(), "nope", orders.Envelope{})
	assert.ErrorContains(t, err, "no producer")
}

func TestProducer_PublishAfterClose(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, orders.TopicLowStock, 1, zerolog.Nop())
	p.Start()
	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Publish(context.Background(), []byte("k"), []byte("v")), ErrProducerClosed)
}
