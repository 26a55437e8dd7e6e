package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-orders/internal/checkout"
	"github.com/ariefcatur/go-stock-orders/internal/orders"
	"github.com/ariefcatur/go-stock-orders/internal/redisx"
	"github.com/ariefcatur/go-stock-orders/internal/sqlite"
)

type recordingBus struct {
	mu     sync.Mutex
	topics []string
	events []orders.Envelope
}

func (b *recordingBus) PublishEvent(_ context.Context, topic string, env orders.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, topic)
	b.events = append(b.events, env)
	return nil
}

type memCache struct {
	mu     sync.Mutex
	idem   map[string]string
	status map[string]redisx.StatusEntry
	fail   bool
}

func newMemCache() *memCache {
	return &memCache{idem: map[string]string{}, status: map[string]redisx.StatusEntry{}}
}

func (c *memCache) IdempotentOrderID(_ context.Context, ext string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return "", false, errors.New("redis down")
	}
	id, ok := c.idem[ext]
	return id, ok, nil
}

func (c *memCache) RememberOrder(_ context.Context, ext, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.idem[ext] = id
	return nil
}

func (c *memCache) Status(_ context.Context, id string) (redisx.StatusEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return redisx.StatusEntry{}, false, errors.New("redis down")
	}
	e, ok := c.status[id]
	return e, ok, nil
}

func (c *memCache) SetStatus(_ context.Context, id string, e redisx.StatusEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("redis down")
	}
	c.status[id] = e
	return nil
}

type testEnv struct {
	db     *sqlx.DB
	router *chi.Mux
	bus    *recordingBus
	cache  *memCache
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	db.MustExec(`INSERT INTO product_formats(id,name,volume,price,stock) VALUES ('f1','Bottle','50cl','2.00',10)`)
	db.MustExec(`INSERT INTO products(id,name,price,stock,min_stock) VALUES
	  ('p1','Cola','10',5,2),
	  ('p2','Lemonade','5',3,2)`)
	db.MustExec(`INSERT INTO product_format_links(product_id,format_id) VALUES ('p1','f1')`)

	store := sqlite.NewStore(db)
	log := zerolog.Nop()
	bus := &recordingBus{}
	cache := newMemCache()

	r := NewRouter(log)
	(&OrdersHandler{
		Checkout:  checkout.NewCoordinator(store, checkout.PriceFromCatalog, log),
		Lifecycle: checkout.NewLifecycle(store, log),
		Store:     store,
		Bus:       bus,
		Cache:     cache,
		Service:   "order-api",
		Log:       log,
	}).Register(r)
	(&ProductsHandler{Store: store, Log: log}).Register(r)

	return &testEnv{db: db, router: r, bus: bus, cache: cache}
}

func (e *testEnv) do(t *testing.T, method, path, user, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) stock(t *testing.T, id string) int {
	t.Helper()
	var n int
	require.NoError(t, e.db.Get(&n, `SELECT stock FROM products WHERE id = ?`, id))
	return n
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

const twoLines = `{"items":[{"product_id":"p1","quantity":2,"unit_price":"10"},{"product_id":"p2","quantity":1,"unit_price":"5"}]}`

func TestCreateOrder_Created(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodPost, "/orders", "u1", "", twoLines)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	resp := decode[CreateOrderResp](t, rr)
	assert.False(t, resp.Idempotent)
	assert.Equal(t, "25", resp.Order.TotalAmount.String())
	assert.Equal(t, orders.StatusPending, resp.Order.Status)
	assert.Len(t, resp.Order.Items, 2)
	assert.Equal(t, 3, e.stock(t, "p1"))
	assert.Equal(t, 2, e.stock(t, "p2"))

	require.Len(t, e.bus.events, 1)
	assert.Equal(t, orders.TopicOrderCreated, e.bus.topics[0])
	assert.Equal(t, orders.EventOrderCreated, e.bus.events[0].EventType)
	assert.Equal(t, resp.Order.ID, e.bus.events[0].CorrelationID)
	assert.Equal(t, orders.StatusPending, e.cache.status[resp.Order.ID].Status)
}

func TestCreateOrder_Errors(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		user string
		body string
		code int
	}{
		{"no user", "", twoLines, http.StatusUnauthorized},
		{"bad json", "u1", `{`, http.StatusBadRequest},
		{"empty cart", "u1", `{"items":[]}`, http.StatusBadRequest},
		{"zero quantity", "u1", `{"items":[{"product_id":"p1","quantity":0}]}`, http.StatusBadRequest},
		{"unknown product", "u1", `{"items":[{"product_id":"ghost","quantity":1}]}`, http.StatusNotFound},
		{"insufficient", "u1", `{"items":[{"product_id":"p1","quantity":9}]}`, http.StatusConflict},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/orders", tc.user, "", tc.body)
			assert.Equal(t, tc.code, rr.Code, rr.Body.String())
		})
	}
	assert.Equal(t, 5, e.stock(t, "p1"))
	assert.Empty(t, e.bus.events)
}

func TestCreateOrder_StockIssuesBody(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodPost, "/orders", "u1", "",
		`{"items":[{"product_id":"p1","quantity":6},{"product_id":"p2","quantity":4}]}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	body := decode[struct {
		Error       string                 `json:"error"`
		StockIssues []orders.StockShortage `json:"stock_issues"`
	}](t, rr)
	assert.Equal(t, "insufficient stock", body.Error)
	assert.Equal(t, []orders.StockShortage{
		{ProductID: "p1", ProductName: "Cola", Available: 5, Requested: 6},
		{ProductID: "p2", ProductName: "Lemonade", Available: 3, Requested: 4},
	}, body.StockIssues)
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	e := newEnv(t)
	body := `{"external_id":"ext-1","items":[{"product_id":"p1","quantity":1}]}`

	first := e.do(t, http.MethodPost, "/orders", "u1", "", body)
	require.Equal(t, http.StatusCreated, first.Code)
	second := e.do(t, http.MethodPost, "/orders", "u1", "", body)
	require.Equal(t, http.StatusOK, second.Code)

	a, b := decode[CreateOrderResp](t, first), decode[CreateOrderResp](t, second)
	assert.True(t, b.Idempotent)
	assert.Equal(t, a.Order.ID, b.Order.ID)
	assert.Equal(t, 4, e.stock(t, "p1"))
	assert.Len(t, e.bus.events, 1)

	// the store still answers when Redis is gone
	e.cache.fail = true
	third := e.do(t, http.MethodPost, "/orders", "u1", "", body)
	require.Equal(t, http.StatusOK, third.Code)
	assert.Equal(t, a.Order.ID, decode[CreateOrderResp](t, third).Order.ID)
}

func TestOrders_Visibility(t *testing.T) {
	e := newEnv(t)
	created := decode[CreateOrderResp](t, e.do(t, http.MethodPost, "/orders", "u1", "", twoLines))
	path := "/orders/" + created.Order.ID

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path, "u1", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path, "u2", "", "").Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, path, "admin-1", "admin", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/orders/nope", "u1", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, path+"/cancel", "u2", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, path+"/status", "u2", "", "").Code)

	list := decode[[]orderView](t, e.do(t, http.MethodGet, "/orders", "u1", "", ""))
	assert.Len(t, list, 1)
	assert.Empty(t, decode[[]orderView](t, e.do(t, http.MethodGet, "/orders", "u2", "", "")))
}

func TestOrderStatus_CacheFallback(t *testing.T) {
	e := newEnv(t)
	created := decode[CreateOrderResp](t, e.do(t, http.MethodPost, "/orders", "u1", "", twoLines))
	path := "/orders/" + created.Order.ID + "/status"

	delete(e.cache.status, created.Order.ID)
	rr := e.do(t, http.MethodGet, path, "u1", "", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, orders.StatusPending, decode[redisx.StatusEntry](t, rr).Status)
	assert.Contains(t, e.cache.status, created.Order.ID, "miss repopulates cache")

	rr = e.do(t, http.MethodGet, path, "u1", "", "")
	assert.Equal(t, orders.StatusPending, decode[redisx.StatusEntry](t, rr).Status)
}

func TestCancel_RestoresOnceAndPublishes(t *testing.T) {
	e := newEnv(t)
	created := decode[CreateOrderResp](t, e.do(t, http.MethodPost, "/orders", "u1", "", twoLines))
	path := "/orders/" + created.Order.ID + "/cancel"

	rr := e.do(t, http.MethodPost, path, "u1", "", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, orders.StatusCancelled, decode[orderView](t, rr).Status)
	assert.Equal(t, 5, e.stock(t, "p1"))
	assert.Equal(t, 3, e.stock(t, "p2"))

	require.Len(t, e.bus.events, 2)
	assert.Equal(t, orders.TopicOrderStatusChanged, e.bus.topics[1])
	var p orders.OrderStatusChangedPayload
	require.NoError(t, json.Unmarshal(e.bus.events[1].Payload, &p))
	assert.Equal(t, orders.StatusPending, p.From)
	assert.Equal(t, orders.StatusCancelled, p.To)
	assert.Len(t, p.Restored, 2)
	assert.Equal(t, orders.StatusCancelled, e.cache.status[created.Order.ID].Status)

	rr = e.do(t, http.MethodPost, path, "u1", "", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, 5, e.stock(t, "p1"))
	assert.Len(t, e.bus.events, 2)
}

func TestSetStatus_AdminOnly(t *testing.T) {
	e := newEnv(t)
	created := decode[CreateOrderResp](t, e.do(t, http.MethodPost, "/orders", "u1", "", twoLines))
	path := "/orders/" + created.Order.ID + "/status"

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, path, "u1", "", `{"status":"processing"}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, path, "a", "admin", `{"status":"shipped"}`).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, path, "a", "admin", `{"status":"completed"}`).Code)

	rr := e.do(t, http.MethodPost, path, "a", "admin", `{"status":"processing"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = e.do(t, http.MethodPost, path, "a", "admin", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, orders.StatusCompleted, decode[orderView](t, rr).Status)

	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/orders/"+created.Order.ID+"/cancel", "u1", "", "").Code)
	assert.Equal(t, 3, e.stock(t, "p1"))
}

func TestProducts(t *testing.T) {
	e := newEnv(t)

	ps := decode[[]productView](t, e.do(t, http.MethodGet, "/products", "", "", ""))
	require.Len(t, ps, 2)
	assert.Equal(t, "Cola", ps[0].Name)
	assert.Equal(t, []string{"f1"}, ps[0].FormatIDs)

	assert.Empty(t, decode[[]productView](t, e.do(t, http.MethodGet, "/products/low-stock", "", "", "")))

	av := decode[availabilityResp](t, e.do(t, http.MethodGet, "/products/p2/availability?quantity=3", "", "", ""))
	assert.True(t, av.Available)
	av = decode[availabilityResp](t, e.do(t, http.MethodGet, "/products/p2/availability?quantity=4", "", "", ""))
	assert.False(t, av.Available)
	assert.Equal(t, 3, av.Stock)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/products/p2/availability?quantity=x", "", "", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/products/ghost/availability?quantity=1", "", "", "").Code)
}

func TestSetStock(t *testing.T) {
	e := newEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodPost, "/products/p2/stock", "", "", `{"stock":1}`).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodPost, "/products/p2/stock", "u1", "", `{"stock":1}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/products/p2/stock", "a", "admin", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/products/p2/stock", "a", "admin", `{"stock":-1}`).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPost, "/formats/ghost/stock", "a", "admin", `{"stock":1}`).Code)

	rr := e.do(t, http.MethodPost, "/products/p2/stock", "a", "admin", `{"stock":1}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, e.stock(t, "p2"))

	low := decode[[]productView](t, e.do(t, http.MethodGet, "/products/low-stock", "", "", ""))
	require.Len(t, low, 1)
	assert.Equal(t, "p2", low[0].ID)

	rr = e.do(t, http.MethodPost, "/formats/f1/stock", "a", "admin", `{"stock":0}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Bottle 50cl", decode[stockResp](t, rr).Name)
	assert.Equal(t, 5, e.stock(t, "p1"), "format stock is its own pool")
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodGet, "/healthz", "", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestCreateOrder_ExternalIDBelongsToFirstUser(t *testing.T) {
	e := newEnv(t)
	body := `{"external_id":"ext-9","items":[{"product_id":"p2","quantity":1}]}`

	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/orders", "u1", "", body).Code)
	assert.Equal(t, http.StatusConflict, e.do(t, http.MethodPost, "/orders", "u2", "", body).Code)
	assert.Equal(t, 2, e.stock(t, "p2"))
}
