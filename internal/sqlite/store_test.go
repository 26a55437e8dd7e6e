package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSeedDemoIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, SeedDemo(db))
	require.NoError(t, SeedDemo(db))

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM products`))
	assert.Equal(t, 3, n)
}

func TestSeedDemoReturnsErrorAndRollsBack(t *testing.T) {
	db := openTestDB(t)
	db.MustExec(`INSERT INTO suppliers(id,name) VALUES ('sup-fizz','Taken')`)

	var err error
	require.NotPanics(t, func() { err = SeedDemo(db) })
	require.Error(t, err)

	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM categories`))
	assert.Zero(t, n)
}

func TestStore_StockPoolsAreIndependent(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, SeedDemo(db))
	s := NewStore(db)

	err := s.InTx(ctx, func(tx orders.Tx) error {
		ok, err := tx.TakeStock(ctx, orders.FormatStock("fmt-bottle-50"), 10)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.TakeStock(ctx, orders.ProductStock("lemonade"), 31)
		require.NoError(t, err)
		assert.False(t, ok, "cannot take more than stock")

		ok, err = tx.TakeStock(ctx, orders.ProductStock("missing"), 1)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx orders.Tx) error {
		f, err := tx.Level(ctx, orders.FormatStock("fmt-bottle-50"))
		require.NoError(t, err)
		assert.Equal(t, 290, f.Stock)
		assert.Equal(t, "Bottle 50cl", f.Name)

		p, err := tx.Level(ctx, orders.ProductStock("lemonade"))
		require.NoError(t, err)
		assert.Equal(t, 30, p.Stock)
		assert.Equal(t, 50, p.MinStock)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_PutAndSetStock(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, SeedDemo(db))
	s := NewStore(db)

	err := s.InTx(ctx, func(tx orders.Tx) error {
		require.NoError(t, tx.PutStock(ctx, orders.ProductStock("cola"), 10))
		require.NoError(t, tx.SetStock(ctx, orders.FormatStock("fmt-can-33"), 7))
		assert.ErrorIs(t, tx.PutStock(ctx, orders.ProductStock("missing"), 1), orders.ErrProductNotFound)
		assert.ErrorIs(t, tx.SetStock(ctx, orders.FormatStock("missing"), 1), orders.ErrProductNotFound)
		_, err := tx.Level(ctx, orders.FormatStock("missing"))
		assert.ErrorIs(t, err, orders.ErrProductNotFound)
		return nil
	})
	require.NoError(t, err)

	var stock int
	require.NoError(t, db.Get(&stock, `SELECT stock FROM products WHERE id = 'cola'`))
	assert.Equal(t, 250, stock)
	require.NoError(t, db.Get(&stock, `SELECT stock FROM product_formats WHERE id = 'fmt-can-33'`))
	assert.Equal(t, 7, stock)
}

func TestStore_GetFormatRequiresLink(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, SeedDemo(db))
	s := NewStore(db)

	_ = s.InTx(ctx, func(tx orders.Tx) error {
		f, err := tx.GetFormat(ctx, "cola", "fmt-can-33")
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("1.20").Equal(f.Price))

		_, err = tx.GetFormat(ctx, "lemonade", "fmt-can-33")
		assert.ErrorIs(t, err, orders.ErrProductNotFound)

		p, err := tx.GetProduct(ctx, "cola")
		require.NoError(t, err)
		assert.Equal(t, []string{"fmt-bottle-50", "fmt-can-33"}, p.FormatIDs)
		assert.Equal(t, "soft-drinks", p.CategoryID)
		assert.Nil(t, p.LastOrderDate)
		return nil
	})
}

func TestStore_OrderRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, SeedDemo(db))
	s := NewStore(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	o := orders.Order{
		ID:          "o-1",
		UserID:      "u-1",
		Status:      orders.StatusPending,
		TotalAmount: decimal.RequireFromString("4.20"),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.InTx(ctx, func(tx orders.Tx) error {
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, &orders.OrderItem{ID: "i-1", OrderID: "o-1", ProductID: "cola", FormatID: "fmt-can-33", Quantity: 2, UnitPrice: decimal.RequireFromString("1.20")}); err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, &orders.OrderItem{ID: "i-2", OrderID: "o-1", ProductID: "lemonade", Quantity: 1, UnitPrice: decimal.RequireFromString("1.80")}); err != nil {
			return err
		}
		return tx.MarkOrdered(ctx, "cola", now)
	})
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
	assert.True(t, now.Equal(got.CreatedAt))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "fmt-can-33", got.Items[0].FormatID)
	assert.Equal(t, "", got.Items[1].FormatID)

	_, err = s.GetOrder(ctx, "nope")
	assert.ErrorIs(t, err, orders.ErrOrderNotFound)

	list, err := s.ListOrdersByUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 2)

	_ = s.InTx(ctx, func(tx orders.Tx) error {
		p, err := tx.GetProduct(ctx, "cola")
		require.NoError(t, err)
		require.NotNil(t, p.LastOrderDate)
		assert.Equal(t, "2026-03-01", p.LastOrderDate.Format(time.DateOnly))
		return nil
	})
}

func TestStore_SwapStatusIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewStore(db)
	now := time.Now().UTC()

	require.NoError(t, s.InTx(ctx, func(tx orders.Tx) error {
		return tx.InsertOrder(ctx, &orders.Order{ID: "o-1", UserID: "u", Status: orders.StatusPending, TotalAmount: decimal.Zero, CreatedAt: now, UpdatedAt: now})
	}))

	_ = s.InTx(ctx, func(tx orders.Tx) error {
		ok, err := tx.SwapStatus(ctx, "o-1", orders.StatusPending, orders.StatusCancelled, now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.SwapStatus(ctx, "o-1", orders.StatusPending, orders.StatusCancelled, now)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
}

func TestStore_ExternalIDUniqueButOptional(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	s := NewStore(db)
	now := time.Now().UTC()

	insert := func(id, ext string) error {
		return s.InTx(ctx, func(tx orders.Tx) error {
			return tx.InsertOrder(ctx, &orders.Order{ID: id, ExternalID: ext, UserID: "u", Status: orders.StatusPending, TotalAmount: decimal.Zero, CreatedAt: now, UpdatedAt: now})
		})
	}
	require.NoError(t, insert("o-1", ""))
	require.NoError(t, insert("o-2", ""))
	require.NoError(t, insert("o-3", "ext-1"))
	assert.Error(t, insert("o-4", "ext-1"))

	o, ok, err := s.FindOrderByExternalID(ctx, "ext-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "o-3", o.ID)

	_, ok, err = s.FindOrderByExternalID(ctx, "ext-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_LowStock(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, SeedDemo(db))
	s := NewStore(db)

	low, err := s.ListLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "lemonade", low[0].ID)

	among, err := s.LowStockAmong(ctx, []string{"cola", "lemonade"})
	require.NoError(t, err)
	require.Len(t, among, 1)

	among, err = s.LowStockAmong(ctx, []string{"cola"})
	require.NoError(t, err)
	assert.Empty(t, among)

	all, err := s.ListProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
