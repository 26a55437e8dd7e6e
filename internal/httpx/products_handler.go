package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-orders/internal/inventory"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

type ProductsHandler struct {
	Store orders.Store
	Log   zerolog.Logger
}

type productView struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	CategoryID    string          `json:"category_id,omitempty"`
	SupplierID    string          `json:"supplier_id,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Stock         int             `json:"stock"`
	MinStock      int             `json:"min_stock"`
	LowStock      bool            `json:"low_stock"`
	LastOrderDate *time.Time      `json:"last_order_date,omitempty"`
	FormatIDs     []string        `json:"format_ids"`
}

func viewProducts(ps []orders.Product) []productView {
	out := make([]productView, 0, len(ps))
	for _, p := range ps {
		out = append(out, productView{
			ID:            p.ID,
			Name:          p.Name,
			CategoryID:    p.CategoryID,
			SupplierID:    p.SupplierID,
			Price:         p.Price,
			Stock:         p.Stock,
			MinStock:      p.MinStock,
			LowStock:      p.LowStock(),
			LastOrderDate: p.LastOrderDate,
			FormatIDs:     p.FormatIDs,
		})
	}
	return out
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/low-stock", h.lowStock)
	r.Get("/products/{id}/availability", h.availability)

	r.Group(func(r chi.Router) {
		r.Use(Identity, RequireAdmin)
		r.Post("/products/{id}/stock", h.setStock(orders.PoolProduct))
		r.Post("/formats/{id}/stock", h.setStock(orders.PoolFormat))
	})
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProducts(ps))
}

func (h *ProductsHandler) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListLowStock(ctx)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, viewProducts(ps))
}

type availabilityResp struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Available bool   `json:"available"`
	Stock     int    `json:"stock"`
}

func (h *ProductsHandler) availability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil || qty <= 0 {
		writeMsg(w, http.StatusBadRequest, "quantity must be a positive integer")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var resp availabilityResp
	err = h.Store.InTx(ctx, func(tx orders.Tx) error {
		ledger := inventory.NewLedger(tx)
		ref := orders.ProductStock(id)
		ok, err := ledger.CheckAvailability(ctx, ref, qty)
		if err != nil {
			return err
		}
		lv, err := ledger.Level(ctx, ref)
		if err != nil {
			return err
		}
		resp = availabilityResp{ProductID: id, Quantity: qty, Available: ok, Stock: lv.Stock}
		return nil
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type stockReq struct {
	Stock *int `json:"stock"`
}

type stockResp struct {
	Pool  orders.Pool `json:"pool"`
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Stock int         `json:"stock"`
}

func (h *ProductsHandler) setStock(pool orders.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req stockReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stock == nil {
			writeMsg(w, http.StatusBadRequest, "stock is required")
			return
		}
		ref := orders.StockRef{Pool: pool, ID: chi.URLParam(r, "id")}

		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		var lv orders.StockLevel
		err := h.Store.InTx(ctx, func(tx orders.Tx) error {
			ledger := inventory.NewLedger(tx)
			if err := ledger.Set(ctx, ref, *req.Stock); err != nil {
				return err
			}
			var err error
			lv, err = ledger.Level(ctx, ref)
			return err
		})
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		h.Log.Info().Str("pool", string(pool)).Str("id", ref.ID).Int("stock", lv.Stock).Msg("stock set")
		writeJSON(w, http.StatusOK, stockResp{Pool: pool, ID: ref.ID, Name: lv.Name, Stock: lv.Stock})
	}
}
