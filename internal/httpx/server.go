package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-stock-orders/internal/logx"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
)

// Publisher sends an envelope after a commit.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, env orders.Envelope) error
}

// StatusCache is the Redis fast path. Misses and errors fall back to
// the store.
type StatusCache interface {
	IdempotentOrderID(ctx context.Context, externalID string) (string, bool, error)
	RememberOrder(ctx context.Context, externalID, orderID string) error
	Status(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	SetStatus(ctx context.Context, orderID string, e redisx.StatusEntry) error
}

func NewRouter(log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logx.Middleware(log))
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMsg(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeError maps domain errors to status codes. Anything unrecognised
// is logged and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, log zerolog.Logger, err error) {
	var ise *orders.InsufficientStockError
	switch {
	case errors.As(err, &ise):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":        "insufficient stock",
			"stock_issues": ise.Shortages,
		})
	case errors.Is(err, orders.ErrEmptyCart), errors.Is(err, orders.ErrInvalidLineItem):
		writeMsg(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrProductNotFound), errors.Is(err, orders.ErrOrderNotFound):
		writeMsg(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		writeMsg(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeMsg(w, http.StatusServiceUnavailable, "timeout")
	default:
		log.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("url", r.URL.String()).
			Msg("request failed")
		writeMsg(w, http.StatusInternalServerError, "internal error")
	}
}
