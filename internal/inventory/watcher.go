package inventory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-stock-orders/internal/kafka"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

type Publisher interface {
	PublishEvent(ctx context.Context, topic string, env orders.Envelope) error
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Throttle interface {
	Allow(ctx context.Context, productID string) (bool, error)
}

type LowStockReader interface {
	LowStockAmong(ctx context.Context, productIDs []string) ([]orders.Product, error)
}

// Watcher turns committed orders into low-stock alerts.
type Watcher struct {
	Store       LowStockReader
	Dedup       Deduper
	Throttle    Throttle // nil: alert on every order that leaves a product low
	Bus         Publisher
	ServiceName string
	Log         zerolog.Logger
}

// HandleOrderCreated: dipasang sebagai handler consumer.
func (w *Watcher) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	env, err := kafkax.DecodeEnvelope(m)
	if err != nil {
		w.Log.Error().Err(err).Int64("offset", m.Offset).Msg("skip undecodable message")
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	} // ignore

	// 2) dedup via Redis (pakai event_id)
	first, err := w.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	if err := w.alert(ctx, env); err != nil {
		// lepas klaim supaya retry consumer bisa diproses ulang
		if ferr := w.Dedup.Forget(ctx, env.EventID); ferr != nil {
			w.Log.Error().Err(ferr).Str("event_id", env.EventID).Msg("dedup release failed")
		}
		return err
	}
	return nil
}

func (w *Watcher) alert(ctx context.Context, env orders.Envelope) error {
	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		return err
	}
	low, err := w.Store.LowStockAmong(ctx, p.ProductIDs())
	if err != nil {
		return fmt.Errorf("low stock lookup: %w", err)
	}

	for _, prod := range low {
		if w.Throttle != nil {
			ok, err := w.Throttle.Allow(ctx, prod.ID)
			if err != nil {
				w.Log.Warn().Err(err).Str("product_id", prod.ID).Msg("throttle unavailable, alerting anyway")
			} else if !ok {
				continue
			}
		}
		ev, err := orders.NewEnvelope(orders.EventLowStock, w.ServiceName, env.TraceID, prod.ID, orders.LowStockPayload{
			ProductID: prod.ID,
			Name:      prod.Name,
			Stock:     prod.Stock,
			MinStock:  prod.MinStock,
		})
		if err != nil {
			return err
		}
		if err := w.Bus.PublishEvent(ctx, orders.TopicLowStock, ev); err != nil {
			return fmt.Errorf("publish low stock %s: %w", prod.ID, err)
		}
		w.Log.Warn().
			Str("product_id", prod.ID).
			Int("stock", prod.Stock).
			Int("min_stock", prod.MinStock).
			Str("order_id", p.OrderID).
			Msg("low stock")
	}
	return nil
}
