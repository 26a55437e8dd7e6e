package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-stock-orders/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// StatusEntry is the cached view of an order's status.
type StatusEntry struct {
	UserID    string        `json:"user_id"`
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Cache holds the API's idempotency keys and status cache. The database
// stays the source of truth; a miss always falls back to it.
type Cache struct{ rdb *redis.Client }

func NewCache(rdb *redis.Client) *Cache { return &Cache{rdb: rdb} }

func (c *Cache) IdempotentOrderID(ctx context.Context, externalID string) (string, bool, error) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (c *Cache) RememberOrder(ctx context.Context, externalID, orderID string) error {
	return c.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, externalID), orderID, TTLIdempotency).Err()
}

func (c *Cache) Status(ctx context.Context, orderID string) (StatusEntry, bool, error) {
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return StatusEntry{}, false, nil
	}
	if err != nil {
		return StatusEntry{}, false, err
	}
	var e StatusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return StatusEntry{}, false, fmt.Errorf("decode status cache: %w", err)
	}
	return e, true, nil
}

func (c *Cache) SetStatus(ctx context.Context, orderID string, e StatusEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

// Deduper answers "have I handled this id before" for event consumers.
type Deduper struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewDeduper(rdb *redis.Client, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service, ttl: TTLDedup}
}

// FirstSeen atomically claims id; false means another delivery already did.
func (d *Deduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), "1", d.ttl).Result()
}

// Forget releases a claim so a failed handler can be retried.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err()
}

// Throttle lets one low-stock alert per product through per ttl.
type Throttle struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewThrottle(rdb *redis.Client, ttl time.Duration) *Throttle {
	if ttl <= 0 {
		ttl = TTLLowStock
	}
	return &Throttle{rdb: rdb, ttl: ttl}
}

func (t *Throttle) Allow(ctx context.Context, productID string) (bool, error) {
	return t.rdb.SetNX(ctx, fmt.Sprintf(KeyLowStock, productID), time.Now().UTC().Format(time.RFC3339), t.ttl).Result()
}
