package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 8
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		icon TEXT,
		color TEXT NOT NULL DEFAULT '#607D8B',
		background_color TEXT NOT NULL DEFAULT '#ECEFF1'
	)`,
	`CREATE TABLE IF NOT EXISTS suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		contact_email TEXT,
		phone_number TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS product_formats (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		volume TEXT NOT NULL,
		price NUMERIC(12,2) NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
		supplier_id TEXT REFERENCES suppliers(id) ON DELETE SET NULL,
		price NUMERIC(12,2) NOT NULL,
		stock INTEGER NOT NULL CHECK (stock >= 0),
		min_stock INTEGER NOT NULL DEFAULT 50,
		last_order_date DATE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_products_low ON products(stock, min_stock)`,
	`CREATE TABLE IF NOT EXISTS product_format_links (
		product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
		format_id TEXT NOT NULL REFERENCES product_formats(id) ON DELETE CASCADE,
		PRIMARY KEY (product_id, format_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id UUID PRIMARY KEY,
		external_id TEXT UNIQUE,
		user_id TEXT NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('pending','processing','completed','cancelled')),
		total_amount NUMERIC(12,2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_user_id ON orders(user_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id UUID PRIMARY KEY,
		order_id UUID NOT NULL REFERENCES orders(id),
		product_id TEXT NOT NULL REFERENCES products(id),
		format_id TEXT REFERENCES product_formats(id),
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,2) NOT NULL,
		position INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
}

// Migrate applies the schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}
