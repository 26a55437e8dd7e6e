package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-orders/internal/inventory"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

// PriceSource decides where an order line's unit price comes from.
type PriceSource string

const (
	// PriceFromCatalog snapshots the format price, or the product price
	// when the line has no format. Caller prices are only compared.
	PriceFromCatalog PriceSource = "catalog"
	// PriceFromCaller trusts the unit price sent with each line.
	PriceFromCaller PriceSource = "caller"
)

func ParsePriceSource(s string) (PriceSource, error) {
	switch PriceSource(s) {
	case "", PriceFromCatalog:
		return PriceFromCatalog, nil
	case PriceFromCaller:
		return PriceFromCaller, nil
	}
	return "", fmt.Errorf("unknown price source %q", s)
}

type Request struct {
	UserID     string
	ExternalID string // optional idempotency key
	Lines      []orders.Line
}

type Coordinator struct {
	store  orders.Store
	prices PriceSource
	log    zerolog.Logger
	now    func() time.Time
}

func NewCoordinator(store orders.Store, prices PriceSource, log zerolog.Logger) *Coordinator {
	if prices == "" {
		prices = PriceFromCatalog
	}
	return &Coordinator{store: store, prices: prices, log: log, now: time.Now}
}

// CreateOrder validates every line, then creates the order, its items
// and all stock decrements in one transaction. replayed is true when
// ExternalID matched an existing order and nothing was written.
func (c *Coordinator) CreateOrder(ctx context.Context, req Request) (o orders.Order, replayed bool, err error) {
	if len(req.Lines) == 0 {
		return orders.Order{}, false, orders.ErrEmptyCart
	}
	if err := validateLines(req.Lines); err != nil {
		return orders.Order{}, false, err
	}
	if req.ExternalID != "" {
		existing, ok, err := c.store.FindOrderByExternalID(ctx, req.ExternalID)
		if err != nil {
			return orders.Order{}, false, err
		}
		if ok {
			return existing, true, nil
		}
	}

	var created orders.Order
	err = c.store.InTx(ctx, func(tx orders.Tx) error {
		var err error
		created, err = c.create(ctx, tx, req)
		return err
	})
	if err != nil {
		// lost a race on the same external id: the winner's order is the answer
		if req.ExternalID != "" && !isDomainError(err) {
			if existing, ok, ferr := c.store.FindOrderByExternalID(ctx, req.ExternalID); ferr == nil && ok {
				return existing, true, nil
			}
		}
		return orders.Order{}, false, err
	}

	c.log.Info().
		Str("order_id", created.ID).
		Str("user_id", created.UserID).
		Int("items", len(created.Items)).
		Str("total", created.TotalAmount.StringFixed(2)).
		Msg("order created")
	return created, false, nil
}

type catalog struct {
	products map[string]orders.Product
	formats  map[string]orders.ProductFormat
}

func (c *Coordinator) create(ctx context.Context, tx orders.Tx, req Request) (orders.Order, error) {
	ledger := inventory.NewLedger(tx)

	cat, err := c.prevalidate(ctx, tx, ledger, req.Lines)
	if err != nil {
		return orders.Order{}, err
	}

	now := c.now().UTC()
	o := orders.Order{
		ID:         uuid.NewString(),
		ExternalID: req.ExternalID,
		UserID:     req.UserID,
		Status:     orders.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	items := make([]orders.OrderItem, 0, len(req.Lines))
	total := decimal.Zero
	for _, ln := range req.Lines {
		price := c.unitPrice(ln, cat)
		it := orders.OrderItem{
			ProductID: ln.ProductID,
			FormatID:  ln.FormatID,
			Quantity:  ln.Quantity,
			UnitPrice: price,
		}
		total = total.Add(it.Subtotal())
		items = append(items, it)
	}
	o.TotalAmount = total

	if err := tx.InsertOrder(ctx, &o); err != nil {
		return orders.Order{}, fmt.Errorf("insert order: %w", err)
	}
	for i := range items {
		it := &items[i]
		if err := ledger.Decrement(ctx, orders.ProductStock(it.ProductID), it.Quantity); err != nil {
			return orders.Order{}, err
		}
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		if err := tx.InsertItem(ctx, it); err != nil {
			return orders.Order{}, fmt.Errorf("insert item: %w", err)
		}
	}
	for id := range cat.products {
		if err := tx.MarkOrdered(ctx, id, now); err != nil {
			return orders.Order{}, fmt.Errorf("mark %s ordered: %w", id, err)
		}
	}
	o.Items = items
	return o, nil
}

// prevalidate reads every product once, in id order so concurrent
// checkouts lock rows in the same sequence, and reports every shortage
// at once. Quantities of repeated products are summed.
func (c *Coordinator) prevalidate(ctx context.Context, tx orders.Tx, ledger *inventory.Ledger, lines []orders.Line) (catalog, error) {
	requested := map[string]int{}
	var firstSeen []string
	for _, ln := range lines {
		if _, ok := requested[ln.ProductID]; !ok {
			firstSeen = append(firstSeen, ln.ProductID)
		}
		requested[ln.ProductID] += ln.Quantity
	}
	ids := append([]string(nil), firstSeen...)
	sort.Strings(ids)

	cat := catalog{products: map[string]orders.Product{}, formats: map[string]orders.ProductFormat{}}
	levels := make(map[string]orders.StockLevel, len(ids))
	for _, id := range ids {
		lv, err := ledger.Level(ctx, orders.ProductStock(id))
		if err != nil {
			return catalog{}, err
		}
		levels[id] = lv
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return catalog{}, err
		}
		cat.products[id] = p
	}
	for _, ln := range lines {
		if ln.FormatID == "" {
			continue
		}
		if _, ok := cat.formats[ln.FormatID]; ok {
			continue
		}
		f, err := tx.GetFormat(ctx, ln.ProductID, ln.FormatID)
		if err != nil {
			return catalog{}, err
		}
		cat.formats[ln.FormatID] = f
	}

	var shortages []orders.StockShortage
	for _, id := range firstSeen {
		lv := levels[id]
		if lv.Stock < requested[id] {
			shortages = append(shortages, orders.StockShortage{
				ProductID:   id,
				ProductName: lv.Name,
				Available:   lv.Stock,
				Requested:   requested[id],
			})
		}
	}
	if len(shortages) > 0 {
		return catalog{}, &orders.InsufficientStockError{Shortages: shortages}
	}
	return cat, nil
}

// priceScale matches the money columns, so the stored total always equals
// the sum of the stored line subtotals.
const priceScale = 2

func (c *Coordinator) unitPrice(ln orders.Line, cat catalog) decimal.Decimal {
	if c.prices == PriceFromCaller {
		return ln.UnitPrice.Round(priceScale)
	}
	price := cat.products[ln.ProductID].Price
	if ln.FormatID != "" {
		price = cat.formats[ln.FormatID].Price
	}
	if !ln.UnitPrice.IsZero() && !ln.UnitPrice.Equal(price) {
		c.log.Warn().
			Str("product_id", ln.ProductID).
			Str("format_id", ln.FormatID).
			Str("caller_price", ln.UnitPrice.String()).
			Str("catalog_price", price.String()).
			Msg("caller unit price ignored")
	}
	return price.Round(priceScale)
}

func validateLines(lines []orders.Line) error {
	for i, ln := range lines {
		switch {
		case ln.ProductID == "":
			return fmt.Errorf("%w: line %d has no product", orders.ErrInvalidLineItem, i)
		case ln.Quantity <= 0:
			return fmt.Errorf("%w: line %d quantity must be positive", orders.ErrInvalidLineItem, i)
		case ln.UnitPrice.IsNegative():
			return fmt.Errorf("%w: line %d unit price is negative", orders.ErrInvalidLineItem, i)
		}
	}
	return nil
}

func isDomainError(err error) bool {
	for _, target := range []error{
		orders.ErrEmptyCart,
		orders.ErrInvalidLineItem,
		orders.ErrInsufficientStock,
		orders.ErrProductNotFound,
		orders.ErrOrderNotFound,
		orders.ErrInvalidTransition,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
