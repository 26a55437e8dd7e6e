package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

// Counter is the stock half of a store transaction. orders.Tx satisfies it.
type Counter interface {
	Level(ctx context.Context, ref orders.StockRef) (orders.StockLevel, error)
	TakeStock(ctx context.Context, ref orders.StockRef, qty int) (bool, error)
	PutStock(ctx context.Context, ref orders.StockRef, qty int) error
	SetStock(ctx context.Context, ref orders.StockRef, stock int) error
}

// Ledger owns every stock mutation. It holds no state of its own: each
// call writes through the counter immediately, inside whatever
// transaction the counter belongs to.
type Ledger struct {
	c Counter
}

func NewLedger(c Counter) *Ledger { return &Ledger{c: c} }

func (l *Ledger) Level(ctx context.Context, ref orders.StockRef) (orders.StockLevel, error) {
	return l.c.Level(ctx, ref)
}

// CheckAvailability is true iff stock >= quantity. It never writes.
func (l *Ledger) CheckAvailability(ctx context.Context, ref orders.StockRef, quantity int) (bool, error) {
	lv, err := l.c.Level(ctx, ref)
	if err != nil {
		return false, err
	}
	return lv.Stock >= quantity, nil
}

// Decrement takes quantity units in one conditional write, so the
// availability check and the mutation cannot be split by a concurrent
// caller.
func (l *Ledger) Decrement(ctx context.Context, ref orders.StockRef, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %d for %s", orders.ErrInvalidLineItem, quantity, ref.ID)
	}
	ok, err := l.c.TakeStock(ctx, ref, quantity)
	if err != nil {
		return fmt.Errorf("decrement %s: %w", ref.ID, err)
	}
	if ok {
		return nil
	}
	lv, err := l.c.Level(ctx, ref)
	if err != nil {
		return err
	}
	return &orders.InsufficientStockError{Shortages: []orders.StockShortage{{
		ProductID:   ref.ID,
		ProductName: lv.Name,
		Available:   lv.Stock,
		Requested:   quantity,
	}}}
}

// Restore gives quantity units back. There is no upper bound.
func (l *Ledger) Restore(ctx context.Context, ref orders.StockRef, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity %d for %s", orders.ErrInvalidLineItem, quantity, ref.ID)
	}
	if err := l.c.PutStock(ctx, ref, quantity); err != nil {
		if errors.Is(err, orders.ErrProductNotFound) {
			return err
		}
		return fmt.Errorf("restore %s: %w", ref.ID, err)
	}
	return nil
}

// Set overwrites the counter; used by stock takes and restocking.
func (l *Ledger) Set(ctx context.Context, ref orders.StockRef, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: negative stock %d for %s", orders.ErrInvalidLineItem, stock, ref.ID)
	}
	return l.c.SetStock(ctx, ref, stock)
}
