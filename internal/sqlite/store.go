package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

type Store struct{ db *sqlx.DB }

func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&txn{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// ---------- rows ----------

const productCols = `id, name, category_id, supplier_id, price, stock, min_stock, last_order_date, created_at, updated_at`

type productRow struct {
	ID            string          `db:"id"`
	Name          string          `db:"name"`
	CategoryID    sql.NullString  `db:"category_id"`
	SupplierID    sql.NullString  `db:"supplier_id"`
	Price         decimal.Decimal `db:"price"`
	Stock         int             `db:"stock"`
	MinStock      int             `db:"min_stock"`
	LastOrderDate sql.NullString  `db:"last_order_date"`
	CreatedAt     string          `db:"created_at"`
	UpdatedAt     string          `db:"updated_at"`
}

func (r productRow) product() orders.Product {
	p := orders.Product{
		ID:         r.ID,
		Name:       r.Name,
		CategoryID: r.CategoryID.String,
		SupplierID: r.SupplierID.String,
		Price:      r.Price,
		Stock:      r.Stock,
		MinStock:   r.MinStock,
		CreatedAt:  parseTime(r.CreatedAt),
		UpdatedAt:  parseTime(r.UpdatedAt),
	}
	if r.LastOrderDate.Valid {
		d := parseTime(r.LastOrderDate.String)
		p.LastOrderDate = &d
	}
	return p
}

type orderRow struct {
	ID          string          `db:"id"`
	ExternalID  sql.NullString  `db:"external_id"`
	UserID      string          `db:"user_id"`
	Status      string          `db:"status"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	CreatedAt   string          `db:"created_at"`
	UpdatedAt   string          `db:"updated_at"`
}

func (r orderRow) order() orders.Order {
	return orders.Order{
		ID:          r.ID,
		ExternalID:  r.ExternalID.String,
		UserID:      r.UserID,
		Status:      orders.Status(r.Status),
		TotalAmount: r.TotalAmount,
		CreatedAt:   parseTime(r.CreatedAt),
		UpdatedAt:   parseTime(r.UpdatedAt),
	}
}

type itemRow struct {
	ID        string          `db:"id"`
	OrderID   string          `db:"order_id"`
	ProductID string          `db:"product_id"`
	FormatID  sql.NullString  `db:"format_id"`
	Quantity  int             `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

func (r itemRow) item() orders.OrderItem {
	return orders.OrderItem{
		ID:        r.ID,
		OrderID:   r.OrderID,
		ProductID: r.ProductID,
		FormatID:  r.FormatID.String,
		Quantity:  r.Quantity,
		UnitPrice: r.UnitPrice,
	}
}

// ---------- reads ----------

func (s *Store) GetOrder(ctx context.Context, id string) (orders.Order, error) {
	return loadOrder(ctx, s.db, id)
}

func (s *Store) FindOrderByExternalID(ctx context.Context, externalID string) (orders.Order, bool, error) {
	var id string
	err := s.db.GetContext(ctx, &id, `SELECT id FROM orders WHERE external_id = ?`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	o, err := loadOrder(ctx, s.db, id)
	return o, err == nil, err
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]orders.Order, error) {
	var rows []orderRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, external_id, user_id, status, total_amount, created_at, updated_at
		FROM orders
		WHERE user_id = ?
		ORDER BY created_at DESC
	`, userID); err != nil {
		return nil, err
	}
	out := make([]orders.Order, 0, len(rows))
	for _, r := range rows {
		o := r.order()
		items, err := loadItems(ctx, s.db, o.ID)
		if err != nil {
			return nil, err
		}
		o.Items = items
		out = append(out, o)
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]orders.Product, error) {
	return selectProducts(ctx, s.db, `SELECT `+productCols+` FROM products ORDER BY name`)
}

func (s *Store) ListLowStock(ctx context.Context) ([]orders.Product, error) {
	return selectProducts(ctx, s.db, `SELECT `+productCols+` FROM products WHERE stock < min_stock ORDER BY name`)
}

func (s *Store) LowStockAmong(ctx context.Context, productIDs []string) ([]orders.Product, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT `+productCols+` FROM products WHERE stock < min_stock AND id IN (?) ORDER BY name`, productIDs)
	if err != nil {
		return nil, err
	}
	return selectProducts(ctx, s.db, s.db.Rebind(q), args...)
}

func selectProducts(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]orders.Product, error) {
	var rows []productRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]orders.Product, 0, len(rows))
	for _, r := range rows {
		p := r.product()
		if err := sqlx.SelectContext(ctx, q, &p.FormatIDs,
			`SELECT format_id FROM product_format_links WHERE product_id = ? ORDER BY format_id`, p.ID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func loadOrder(ctx context.Context, q sqlx.QueryerContext, id string) (orders.Order, error) {
	var r orderRow
	err := sqlx.GetContext(ctx, q, &r, `
		SELECT id, external_id, user_id, status, total_amount, created_at, updated_at
		FROM orders WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, orders.OrderNotFound(id)
	}
	if err != nil {
		return orders.Order{}, err
	}
	o := r.order()
	if o.Items, err = loadItems(ctx, q, id); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}

func loadItems(ctx context.Context, q sqlx.QueryerContext, orderID string) ([]orders.OrderItem, error) {
	var rows []itemRow
	if err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, order_id, product_id, format_id, quantity, unit_price
		FROM order_items WHERE order_id = ? ORDER BY rowid
	`, orderID); err != nil {
		return nil, err
	}
	items := make([]orders.OrderItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item())
	}
	return items, nil
}

// ---------- transaction ----------

type txn struct{ tx *sqlx.Tx }

func stockTable(ref orders.StockRef) (string, error) {
	switch ref.Pool {
	case orders.PoolProduct:
		return "products", nil
	case orders.PoolFormat:
		return "product_formats", nil
	}
	return "", fmt.Errorf("unknown stock pool %q", ref.Pool)
}

func (t *txn) Level(ctx context.Context, ref orders.StockRef) (orders.StockLevel, error) {
	var row struct {
		Name     string `db:"name"`
		Stock    int    `db:"stock"`
		MinStock int    `db:"min_stock"`
	}
	var err error
	switch ref.Pool {
	case orders.PoolProduct:
		err = t.tx.GetContext(ctx, &row, `SELECT name, stock, min_stock FROM products WHERE id = ?`, ref.ID)
	case orders.PoolFormat:
		err = t.tx.GetContext(ctx, &row, `SELECT name || ' ' || volume AS name, stock, 0 AS min_stock FROM product_formats WHERE id = ?`, ref.ID)
	default:
		return orders.StockLevel{}, fmt.Errorf("unknown stock pool %q", ref.Pool)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return orders.StockLevel{}, orders.NotFound(ref)
	}
	if err != nil {
		return orders.StockLevel{}, err
	}
	return orders.StockLevel{Ref: ref, Name: row.Name, Stock: row.Stock, MinStock: row.MinStock}, nil
}

func (t *txn) TakeStock(ctx context.Context, ref orders.StockRef, qty int) (bool, error) {
	table, err := stockTable(ref)
	if err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE `+table+` SET stock = stock - ? WHERE id = ? AND stock >= ?`, qty, ref.ID, qty)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *txn) PutStock(ctx context.Context, ref orders.StockRef, qty int) error {
	table, err := stockTable(ref)
	if err != nil {
		return err
	}
	return t.execOne(ctx, ref, `UPDATE `+table+` SET stock = stock + ? WHERE id = ?`, qty, ref.ID)
}

func (t *txn) SetStock(ctx context.Context, ref orders.StockRef, stock int) error {
	table, err := stockTable(ref)
	if err != nil {
		return err
	}
	return t.execOne(ctx, ref, `UPDATE `+table+` SET stock = ? WHERE id = ?`, stock, ref.ID)
}

func (t *txn) execOne(ctx context.Context, ref orders.StockRef, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return orders.NotFound(ref)
	}
	return nil
}

func (t *txn) GetProduct(ctx context.Context, id string) (orders.Product, error) {
	ps, err := selectProducts(ctx, t.tx, `SELECT `+productCols+` FROM products WHERE id = ?`, id)
	if err != nil {
		return orders.Product{}, err
	}
	if len(ps) == 0 {
		return orders.Product{}, orders.NotFound(orders.ProductStock(id))
	}
	return ps[0], nil
}

func (t *txn) GetFormat(ctx context.Context, productID, formatID string) (orders.ProductFormat, error) {
	var row struct {
		ID     string          `db:"id"`
		Name   string          `db:"name"`
		Volume string          `db:"volume"`
		Price  decimal.Decimal `db:"price"`
		Stock  int             `db:"stock"`
	}
	err := t.tx.GetContext(ctx, &row, `
		SELECT f.id, f.name, f.volume, f.price, f.stock
		FROM product_formats f
		JOIN product_format_links l ON l.format_id = f.id
		WHERE l.product_id = ? AND f.id = ?
	`, productID, formatID)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.ProductFormat{}, orders.NotFound(orders.FormatStock(formatID))
	}
	if err != nil {
		return orders.ProductFormat{}, err
	}
	return orders.ProductFormat{ID: row.ID, Name: row.Name, Volume: row.Volume, Price: row.Price, Stock: row.Stock}, nil
}

func (t *txn) MarkOrdered(ctx context.Context, productID string, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE products SET last_order_date = ?, updated_at = ? WHERE id = ?`,
		at.Format(time.DateOnly), formatTime(at), productID)
	return err
}

func (t *txn) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders(id, external_id, user_id, status, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, o.ID, nullString(o.ExternalID), o.UserID, string(o.Status), o.TotalAmount.String(), formatTime(o.CreatedAt), formatTime(o.UpdatedAt))
	return err
}

func (t *txn) InsertItem(ctx context.Context, it *orders.OrderItem) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_items(id, order_id, product_id, format_id, quantity, unit_price)
		VALUES (?, ?, ?, ?, ?, ?)
	`, it.ID, it.OrderID, it.ProductID, nullString(it.FormatID), it.Quantity, it.UnitPrice.String())
	return err
}

// LockOrder needs no row lock here: the single connection already
// serializes transactions.
func (t *txn) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return loadOrder(ctx, t.tx, id)
}

func (t *txn) SwapStatus(ctx context.Context, id string, from, to orders.Status, at time.Time) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), formatTime(at), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ---------- helpers ----------

func nullString(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// parseTime accepts our own RFC3339 stamps, SQLite's CURRENT_TIMESTAMP
// and bare dates.
func parseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.DateTime, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
