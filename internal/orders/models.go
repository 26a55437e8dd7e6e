package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Category struct {
	ID              string
	Name            string
	Icon            string
	Color           string
	BackgroundColor string
}

type Supplier struct {
	ID           string
	Name         string
	ContactEmail string
	PhoneNumber  string
}

type Product struct {
	ID            string
	Name          string
	CategoryID    string
	SupplierID    string
	Price         decimal.Decimal
	Stock         int
	MinStock      int
	LastOrderDate *time.Time
	FormatIDs     []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LowStock reports whether the product fell under its reorder threshold.
func (p Product) LowStock() bool { return p.Stock < p.MinStock }

// ProductFormat is a purchasable variant. Its stock is a separate pool
// and is never reconciled with Product.Stock.
type ProductFormat struct {
	ID     string
	Name   string
	Volume string // 25cl, 50cl, 1L
	Price  decimal.Decimal
	Stock  int
}

type Order struct {
	ID          string
	ExternalID  string
	UserID      string
	Status      Status
	TotalAmount decimal.Decimal
	Items       []OrderItem
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	FormatID  string // empty when the line was bought without a format
	Quantity  int
	UnitPrice decimal.Decimal
}

// Subtotal is quantity * unit price.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Line is one entry of a checkout request.
type Line struct {
	ProductID string
	FormatID  string
	Quantity  int
	UnitPrice decimal.Decimal
}

// Pool selects which stock counter a StockRef points at.
type Pool string

const (
	PoolProduct Pool = "product"
	PoolFormat  Pool = "format"
)

type StockRef struct {
	Pool Pool
	ID   string
}

func ProductStock(id string) StockRef { return StockRef{Pool: PoolProduct, ID: id} }
func FormatStock(id string) StockRef  { return StockRef{Pool: PoolFormat, ID: id} }

// StockLevel is a point-in-time read of one counter.
type StockLevel struct {
	Ref      StockRef
	Name     string
	Stock    int
	MinStock int // zero for formats
}
