package sqlite

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Open connects, limits the pool to one connection and creates the
// schema. One connection means every transaction runs alone, which is
// what keeps concurrent stock writes serialized on SQLite.
func Open(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return db, nil
}

func ensureSchema(db *sqlx.DB) error {
	schema := `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS categories(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  icon TEXT,
  color TEXT NOT NULL DEFAULT '#607D8B',
  background_color TEXT NOT NULL DEFAULT '#ECEFF1'
);

CREATE TABLE IF NOT EXISTS suppliers(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  contact_email TEXT,
  phone_number TEXT
);

CREATE TABLE IF NOT EXISTS product_formats(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  volume TEXT NOT NULL,
  price TEXT NOT NULL,
  stock INTEGER NOT NULL CHECK (stock >= 0)
);

CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
  supplier_id TEXT REFERENCES suppliers(id) ON DELETE SET NULL,
  price TEXT NOT NULL,
  stock INTEGER NOT NULL CHECK (stock >= 0),
  min_stock INTEGER NOT NULL DEFAULT 50,
  last_order_date TEXT,
  created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_products_low ON products(stock, min_stock);

CREATE TABLE IF NOT EXISTS product_format_links(
  product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
  format_id  TEXT NOT NULL REFERENCES product_formats(id) ON DELETE CASCADE,
  PRIMARY KEY (product_id, format_id)
);

CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  external_id TEXT UNIQUE,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','cancelled')),
  total_amount TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id);

CREATE TABLE IF NOT EXISTS order_items(
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES orders(id),
  product_id TEXT NOT NULL REFERENCES products(id),
  format_id TEXT REFERENCES product_formats(id),
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  unit_price TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);
`
	_, err := db.Exec(schema)
	return err
}

// SeedDemo inserts a small catalog when the products table is empty.
func SeedDemo(db *sqlx.DB) error {
	var n int
	if err := db.Get(&n, `SELECT COUNT(*) FROM products`); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	tx, err := db.Beginx()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range seedStatements {
		if _, err := tx.Exec(q); err != nil {
			return fmt.Errorf("seed demo: %w", err)
		}
	}
	return tx.Commit()
}

var seedStatements = []string{
	`INSERT INTO categories(id,name,icon) VALUES
	  ('soft-drinks','Soft drinks','local_drink'),
	  ('water','Water','water_drop')`,
	`INSERT INTO suppliers(id,name,contact_email) VALUES
	  ('sup-alps','Alpine Springs','orders@alpine.test'),
	  ('sup-fizz','Fizz & Co','sales@fizz.test')`,
	`INSERT INTO product_formats(id,name,volume,price,stock) VALUES
	  ('fmt-can-33','Can','33cl','1.20',500),
	  ('fmt-bottle-50','Bottle','50cl','1.80',300),
	  ('fmt-bottle-150','Bottle','1.5L','2.40',120)`,
	`INSERT INTO products(id,name,category_id,supplier_id,price,stock,min_stock) VALUES
	  ('cola','Cola','soft-drinks','sup-fizz','1.50',240,50),
	  ('lemonade','Lemonade','soft-drinks','sup-fizz','1.40',30,50),
	  ('still-water','Still water','water','sup-alps','0.90',600,100)`,
	`INSERT INTO product_format_links(product_id,format_id) VALUES
	  ('cola','fmt-can-33'),
	  ('cola','fmt-bottle-50'),
	  ('lemonade','fmt-bottle-50'),
	  ('still-water','fmt-bottle-50'),
	  ('still-water','fmt-bottle-150')`,
}
