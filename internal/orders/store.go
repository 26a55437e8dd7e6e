package orders

import (
	"context"
	"time"
)

// Store is the persistence boundary. Reads outside InTx see committed
// data only; every mutation goes through a Tx.
type Store interface {
	// InTx runs fn in a single transaction. A non-nil error from fn
	// rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetOrder(ctx context.Context, id string) (Order, error)
	FindOrderByExternalID(ctx context.Context, externalID string) (Order, bool, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]Order, error)
	ListProducts(ctx context.Context) ([]Product, error)
	ListLowStock(ctx context.Context) ([]Product, error)
	LowStockAmong(ctx context.Context, productIDs []string) ([]Product, error)
}

type Tx interface {
	// Stock counters. Level locks the row where the backend supports it.
	Level(ctx context.Context, ref StockRef) (StockLevel, error)
	TakeStock(ctx context.Context, ref StockRef, qty int) (bool, error)
	PutStock(ctx context.Context, ref StockRef, qty int) error
	SetStock(ctx context.Context, ref StockRef, stock int) error

	GetProduct(ctx context.Context, id string) (Product, error)
	// GetFormat returns the format only if it is linked to productID.
	GetFormat(ctx context.Context, productID, formatID string) (ProductFormat, error)
	MarkOrdered(ctx context.Context, productID string, at time.Time) error

	InsertOrder(ctx context.Context, o *Order) error
	InsertItem(ctx context.Context, it *OrderItem) error
	// LockOrder loads the order with its items and holds it until commit.
	LockOrder(ctx context.Context, id string) (Order, error)
	// SwapStatus moves the order from -> to; false if it was not in from.
	SwapStatus(ctx context.Context, id string, from, to Status, at time.Time) (bool, error)
}
