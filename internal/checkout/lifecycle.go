package checkout

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-stock-orders/internal/inventory"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

// Change describes a committed status transition.
type Change struct {
	Order    orders.Order
	From     orders.Status
	Restored []orders.ItemQty
}

type Lifecycle struct {
	store orders.Store
	log   zerolog.Logger
	now   func() time.Time
}

func NewLifecycle(store orders.Store, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{store: store, log: log, now: time.Now}
}

// Cancel moves a pending or processing order to cancelled and gives
// every item's quantity back to its product. A second cancel fails
// with orders.ErrInvalidTransition and restores nothing.
func (l *Lifecycle) Cancel(ctx context.Context, orderID string) (Change, error) {
	return l.Transition(ctx, orderID, orders.StatusCancelled)
}

// Transition applies one move of the status table under the order's
// row lock.
func (l *Lifecycle) Transition(ctx context.Context, orderID string, to orders.Status) (Change, error) {
	var ch Change
	err := l.store.InTx(ctx, func(tx orders.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from := o.Status
		if !orders.CanTransition(from, to) {
			return &orders.TransitionError{OrderID: orderID, From: from, To: to}
		}

		var restored []orders.ItemQty
		if to.RestoresStock() {
			items := append([]orders.OrderItem(nil), o.Items...)
			sort.SliceStable(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
			ledger := inventory.NewLedger(tx)
			for _, it := range items {
				if err := ledger.Restore(ctx, orders.ProductStock(it.ProductID), it.Quantity); err != nil {
					return err
				}
				restored = append(restored, orders.ItemQty{ProductID: it.ProductID, Qty: it.Quantity})
			}
		}

		now := l.now().UTC()
		ok, err := tx.SwapStatus(ctx, orderID, from, to, now)
		if err != nil {
			return err
		}
		if !ok {
			return &orders.TransitionError{OrderID: orderID, From: from, To: to}
		}
		o.Status = to
		o.UpdatedAt = now
		ch = Change{Order: o, From: from, Restored: restored}
		return nil
	})
	if err != nil {
		return Change{}, err
	}

	l.log.Info().
		Str("order_id", orderID).
		Str("from", string(ch.From)).
		Str("to", string(to)).
		Int("restored_lines", len(ch.Restored)).
		Msg("order status changed")
	return ch, nil
}
