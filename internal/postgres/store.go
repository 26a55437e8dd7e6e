package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

// querier is the part of pgxpool.Pool and pgx.Tx the reads need.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct{ DB *pgxpool.Pool }

func NewStore(pool *pgxpool.Pool) *Store { return &Store{DB: pool} }

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const productCols = `p.id, p.name, COALESCE(p.category_id, ''), COALESCE(p.supplier_id, ''), p.price, p.stock, p.min_stock,
	p.last_order_date, p.created_at, p.updated_at,
	ARRAY(SELECT l.format_id FROM product_format_links l WHERE l.product_id = p.id ORDER BY l.format_id)`

func scanProduct(row pgx.Row) (orders.Product, error) {
	var p orders.Product
	var last *time.Time
	if err := row.Scan(&p.ID, &p.Name, &p.CategoryID, &p.SupplierID, &p.Price, &p.Stock, &p.MinStock,
		&last, &p.CreatedAt, &p.UpdatedAt, &p.FormatIDs); err != nil {
		return orders.Product{}, err
	}
	p.LastOrderDate = last
	return p, nil
}

func queryProducts(ctx context.Context, q querier, sql string, args ...any) ([]orders.Product, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return queryProducts(ctx, s.DB, `SELECT `+productCols+` FROM products p ORDER BY p.name`)
}

func (s *Store) ListLowStock(ctx context.Context) ([]orders.Product, error) {
	return queryProducts(ctx, s.DB, `SELECT `+productCols+` FROM products p WHERE p.stock < p.min_stock ORDER BY p.name`)
}

func (s *Store) LowStockAmong(ctx context.Context, productIDs []string) ([]orders.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	return queryProducts(ctx, s.DB, `SELECT `+productCols+` FROM products p
		WHERE p.stock < p.min_stock AND p.id = ANY($1) ORDER BY p.name`, productIDs)
}

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return loadOrder(ctx, s.DB, id, false)
}

func (s *Store) FindOrderByExternalID(ctx context.Context, externalID string) (orders.Order, bool, error) {
	var id string
	err := s.DB.QueryRow(ctx, `SELECT id::text FROM orders WHERE external_id=$1`, externalID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	o, err := loadOrder(ctx, s.DB, id, false)
	return o, err == nil, err
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT id::text, COALESCE(external_id, ''), user_id, status, total_amount, created_at, updated_at
		FROM orders WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if out[i].Items, err = loadItems(ctx, s.DB, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var o orders.Order
	var status string
	if err := row.Scan(&o.ID, &o.ExternalID, &o.UserID, &status, &o.TotalAmount, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	return o, nil
}

func loadOrder(ctx context.Context, q querier, id string, lock bool) (orders.Order, error) {
	sql := `SELECT id::text, COALESCE(external_id, ''), user_id, status, total_amount, created_at, updated_at
		FROM orders WHERE id::text=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	if err != nil {
		return orders.Order{}, err
	}
	if o.Items, err = loadItems(ctx, q, o.ID); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderID string) ([]orders.OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, order_id::text, product_id, COALESCE(format_id, ''), quantity, unit_price
		FROM order_items WHERE order_id::text=$1 ORDER BY position`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []orders.OrderItem
	for rows.Next() {
		var it orders.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.FormatID, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type txn struct{ tx pgx.Tx }

func stockTable(ref orders.StockRef) (string, error) {
	switch ref.Pool {
	case orders.PoolProduct:
		return "products", nil
	case orders.PoolFormat:
		return "product_formats", nil
	}
	return "", fmt.Errorf("unknown stock pool %q", ref.Pool)
}

// Level locks the counter's row until the transaction ends.
func (t *txn) Level(ctx context.Context, ref orders.StockRef) (orders.StockLevel, error) {
	lv := orders.StockLevel{Ref: ref}
	var err error
	switch ref.Pool {
	case orders.PoolProduct:
		err = t.tx.QueryRow(ctx, `SELECT name, stock, min_stock FROM products WHERE id=$1 FOR UPDATE`, ref.ID).
			Scan(&lv.Name, &lv.Stock, &lv.MinStock)
	case orders.PoolFormat:
		err = t.tx.QueryRow(ctx, `SELECT name || ' ' || volume, stock FROM product_formats WHERE id=$1 FOR UPDATE`, ref.ID).
			Scan(&lv.Name, &lv.Stock)
	default:
		return orders.StockLevel{}, fmt.Errorf("unknown stock pool %q", ref.Pool)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.StockLevel{}, orders.NotFound(ref)
	}
	if err != nil {
		return orders.StockLevel{}, err
	}
	return lv, nil
}

func (t *txn) TakeStock(ctx context.Context, ref orders.StockRef, qty int) (bool, error) {
	table, err := stockTable(ref)
	if err != nil {
		return false, err
	}
	ct, err := t.tx.Exec(ctx, `UPDATE `+table+` SET stock = stock - $2 WHERE id=$1 AND stock >= $2`, ref.ID, qty)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *txn) PutStock(ctx context.Context, ref orders.StockRef, qty int) error {
	table, err := stockTable(ref)
	if err != nil {
		return err
	}
	return t.execOne(ctx, ref, `UPDATE `+table+` SET stock = stock + $2 WHERE id=$1`, ref.ID, qty)
}

func (t *txn) SetStock(ctx context.Context, ref orders.StockRef, stock int) error {
	table, err := stockTable(ref)
	if err != nil {
		return err
	}
	return t.execOne(ctx, ref, `UPDATE `+table+` SET stock = $2 WHERE id=$1`, ref.ID, stock)
}

func (t *txn) execOne(ctx context.Context, ref orders.StockRef, sql string, args ...any) error {
	ct, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return orders.NotFound(ref)
	}
	return nil
}

func (t *txn) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productCols+` FROM products p WHERE p.id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, orders.NotFound(orders.ProductStock(id))
	}
	return p, err
}

func (t *txn) GetFormat(ctx context.Context, productID, formatID string) (orders.ProductFormat, error) {
	var f orders.ProductFormat
	err := t.tx.QueryRow(ctx, `
		SELECT f.id, f.name, f.volume, f.price, f.stock
		FROM product_formats f
		JOIN product_format_links l ON l.format_id = f.id
		WHERE l.product_id=$1 AND f.id=$2`, productID, formatID).
		Scan(&f.ID, &f.Name, &f.Volume, &f.Price, &f.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.ProductFormat{}, orders.NotFound(orders.FormatStock(formatID))
	}
	return f, err
}

func (t *txn) MarkOrdered(ctx context.Context, productID string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE products SET last_order_date = $2, updated_at = $3 WHERE id=$1`,
		productID, at.Format(time.DateOnly), at)
	return err
}

func (t *txn) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, total_amount, created_at, updated_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
	`, o.ID, o.ExternalID, o.UserID, string(o.Status), o.TotalAmount, o.CreatedAt, o.UpdatedAt)
	return err
}

func (t *txn) InsertItem(ctx context.Context, it *orders.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items(id, order_id, product_id, format_id, quantity, unit_price, position)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6,
		        (SELECT COUNT(*) FROM order_items WHERE order_id=$2))
	`, it.ID, it.OrderID, it.ProductID, it.FormatID, it.Quantity, it.UnitPrice)
	return err
}

func (t *txn) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return loadOrder(ctx, t.tx, id, true)
}

func (t *txn) SwapStatus(ctx context.Context, id string, from, to orders.Status, at time.Time) (bool, error) {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status=$3, updated_at=$4 WHERE id::text=$1 AND status=$2`,
		id, string(from), string(to), at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}
