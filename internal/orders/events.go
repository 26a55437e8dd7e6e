package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventLowStock           = "LowStock"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id, or product id for low-stock
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload in a version 1 envelope.
func NewEnvelope(eventType, producer, traceID, correlationID string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: correlationID,
		Payload:       b,
	}, nil
}

type ItemQty struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type ItemPrice struct {
	ProductID string          `json:"product_id"`
	FormatID  string          `json:"format_id,omitempty"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID     string          `json:"order_id"`
	ExternalID  string          `json:"external_id,omitempty"`
	UserID      string          `json:"user_id"`
	Items       []ItemPrice     `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID  string    `json:"order_id"`
	From     Status    `json:"from"`
	To       Status    `json:"to"`
	Restored []ItemQty `json:"restored,omitempty"`
}

type LowStockPayload struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	MinStock  int    `json:"min_stock"`
}

func OrderCreatedFrom(o Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, FormatID: it.FormatID, Qty: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return OrderCreatedPayload{
		OrderID:     o.ID,
		ExternalID:  o.ExternalID,
		UserID:      o.UserID,
		Items:       items,
		TotalAmount: o.TotalAmount,
	}
}

// ProductIDs lists the products an event touched, without duplicates.
func (p OrderCreatedPayload) ProductIDs() []string {
	ids := make([]string, 0, len(p.Items))
	seen := map[string]bool{}
	for _, it := range p.Items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}
