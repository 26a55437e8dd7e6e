package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-orders/internal/checkout"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

type OrdersHandler struct {
	Checkout  *checkout.Coordinator
	Lifecycle *checkout.Lifecycle
	Store     orders.Store
	Bus       Publisher   // optional
	Cache     StatusCache // optional
	Service   string
	Log       zerolog.Logger
}

type lineReq struct {
	ProductID string          `json:"product_id"`
	FormatID  string          `json:"format_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CreateOrderReq struct {
	ExternalID string    `json:"external_id"`
	Items      []lineReq `json:"items"`
}

type CreateOrderResp struct {
	Order      orderView `json:"order"`
	Idempotent bool      `json:"idempotent"`
}

type itemView struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	FormatID  string          `json:"format_id,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type orderView struct {
	ID          string          `json:"id"`
	ExternalID  string          `json:"external_id,omitempty"`
	UserID      string          `json:"user_id"`
	Status      orders.Status   `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Items       []itemView      `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func viewOrder(o orders.Order) orderView {
	items := make([]itemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemView{
			ID:        it.ID,
			ProductID: it.ProductID,
			FormatID:  it.FormatID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal(),
		})
	}
	return orderView{
		ID:          o.ID,
		ExternalID:  o.ExternalID,
		UserID:      o.UserID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		Items:       items,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Identity)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getStatus)
		r.Post("/orders/{id}/cancel", h.cancelOrder)

		r.With(RequireAdmin).Post("/orders/{id}/status", h.setStatus)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis (optional, DB tetap jadi kebenaran)
	if req.ExternalID != "" && h.Cache != nil {
		if id, ok, err := h.Cache.IdempotentOrderID(ctx, req.ExternalID); err == nil && ok {
			if o, err := h.Store.GetOrder(ctx, id); err == nil && o.UserID == caller.UserID {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: viewOrder(o), Idempotent: true})
				return
			}
		}
	}

	lines := make([]orders.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, orders.Line{
			ProductID: it.ProductID,
			FormatID:  it.FormatID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	o, replayed, err := h.Checkout.CreateOrder(ctx, checkout.Request{
		UserID:     caller.UserID,
		ExternalID: req.ExternalID,
		Lines:      lines,
	})
	if err != nil {
		h.Log.Warn().Err(err).Str("user_id", caller.UserID).Msg("order rejected")
		writeError(w, r, h.Log, err)
		return
	}

	code := http.StatusCreated
	if replayed && o.UserID != caller.UserID {
		writeMsg(w, http.StatusConflict, "external_id already used")
		return
	}
	if replayed {
		code = http.StatusOK
	} else {
		h.afterCommit(ctx, o, orders.TopicOrderCreated, orders.EventOrderCreated, r, orders.OrderCreatedFrom(o))
	}
	writeJSON(w, code, CreateOrderResp{Order: viewOrder(o), Idempotent: replayed})
}

// afterCommit publishes the event and refreshes Redis. Failures are
// logged only; the order is already committed.
func (h *OrdersHandler) afterCommit(ctx context.Context, o orders.Order, topic, eventType string, r *http.Request, payload any) {
	if h.Cache != nil {
		if o.ExternalID != "" {
			if err := h.Cache.RememberOrder(ctx, o.ExternalID, o.ID); err != nil {
				h.Log.Warn().Err(err).Str("order_id", o.ID).Msg("idempotency cache write failed")
			}
		}
		if err := h.Cache.SetStatus(ctx, o.ID, redisx.StatusEntry{UserID: o.UserID, Status: o.Status, UpdatedAt: o.UpdatedAt}); err != nil {
			h.Log.Warn().Err(err).Str("order_id", o.ID).Msg("status cache write failed")
		}
	}
	if h.Bus == nil {
		return
	}
	env, err := orders.NewEnvelope(eventType, h.Service, middleware.GetReqID(r.Context()), o.ID, payload)
	if err == nil {
		err = h.Bus.PublishEvent(ctx, topic, env)
	}
	if err != nil {
		h.Log.Error().Err(err).Str("order_id", o.ID).Str("event_type", eventType).Msg("publish failed")
	}
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Store.ListOrdersByUser(ctx, caller.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	out := make([]orderView, 0, len(list))
	for _, o := range list {
		out = append(out, viewOrder(o))
	}
	writeJSON(w, http.StatusOK, out)
}

// loadVisible returns the order if the caller may see it.
func (h *OrdersHandler) loadVisible(ctx context.Context, caller Caller, id string) (orders.Order, error) {
	o, err := h.Store.GetOrder(ctx, id)
	if err != nil {
		return orders.Order{}, err
	}
	if !caller.canSee(o.UserID) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	return o, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.loadVisible(ctx, caller, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOrder(o))
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Cache != nil {
		if e, ok, err := h.Cache.Status(ctx, orderID); err == nil && ok {
			if !caller.canSee(e.UserID) {
				writeError(w, r, h.Log, orders.OrderNotFound(orderID))
				return
			}
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	// 2) fallback DB
	o, err := h.loadVisible(ctx, caller, orderID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	e := redisx.StatusEntry{UserID: o.UserID, Status: o.Status, UpdatedAt: o.UpdatedAt}
	if h.Cache != nil {
		if err := h.Cache.SetStatus(ctx, orderID, e); err != nil {
			h.Log.Warn().Err(err).Str("order_id", orderID).Msg("status cache write failed")
		}
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	h.transition(w, r, caller, orders.StatusCancelled)
}

type statusReq struct {
	Status string `json:"status"`
}

func (h *OrdersHandler) setStatus(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeMsg(w, http.StatusBadRequest, "invalid json")
		return
	}
	to, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeMsg(w, http.StatusBadRequest, err.Error())
		return
	}
	h.transition(w, r, caller, to)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request, caller Caller, to orders.Status) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, err := h.loadVisible(ctx, caller, orderID); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	ch, err := h.Lifecycle.Transition(ctx, orderID, to)
	if err != nil {
		h.Log.Warn().Err(err).Str("order_id", orderID).Str("to", string(to)).Msg("transition rejected")
		writeError(w, r, h.Log, err)
		return
	}
	h.afterCommit(ctx, ch.Order, orders.TopicOrderStatusChanged, orders.EventOrderStatusChanged, r, orders.OrderStatusChangedPayload{
		OrderID:  ch.Order.ID,
		From:     ch.From,
		To:       ch.Order.Status,
		Restored: ch.Restored,
	})
	writeJSON(w, http.StatusOK, viewOrder(ch.Order))
}
