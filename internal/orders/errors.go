package orders

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInvalidLineItem   = errors.New("invalid line item")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type StockShortage struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Available   int    `json:"available_stock"`
	Requested   int    `json:"requested_quantity"`
}

// InsufficientStockError lists every line that cannot be served, not
// only the first one found.
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (have %d, need %d)", s.ProductID, s.Available, s.Requested))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

func productNotFound(id string) error { return fmt.Errorf("%w: %s", ErrProductNotFound, id) }

// NotFound wraps the not-found sentinel that matches ref's pool.
func NotFound(ref StockRef) error {
	if ref.Pool == PoolFormat {
		return fmt.Errorf("%w: format %s", ErrProductNotFound, ref.ID)
	}
	return productNotFound(ref.ID)
}

func OrderNotFound(id string) error { return fmt.Errorf("%w: %s", ErrOrderNotFound, id) }
