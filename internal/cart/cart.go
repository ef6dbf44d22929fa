// Package cart adapts the shared shopping cart. Checkout reads it and only a
// successful settlement clears it.
package cart

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"OrderSettlement/internal/errs"

	"github.com/redis/go-redis/v9"
)

type Item struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

type Cart interface {
	GetItems(ctx context.Context, userID string) ([]Item, error)
	SetItem(ctx context.Context, userID string, item Item) error
	Clear(ctx context.Context, userID string) error
}

// RedisCart keeps one hash per user: product id -> quantity.
type RedisCart struct {
	Client *redis.Client
	Prefix string
}

func NewRedisCart(addr, password string, db int, prefix string) *RedisCart {
	return &RedisCart{
		Client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		Prefix: prefix,
	}
}

func (c *RedisCart) key(userID string) string {
	return c.Prefix + userID
}

func (c *RedisCart) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCart) Close() error {
	return c.Client.Close()
}

func (c *RedisCart) GetItems(ctx context.Context, userID string) ([]Item, error) {
	raw, err := c.Client.HGetAll(ctx, c.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(raw))
	for productID, v := range raw {
		qty, err := strconv.Atoi(v)
		if err != nil || qty <= 0 {
			continue
		}
		items = append(items, Item{ProductID: productID, Quantity: qty})
	}
	sortItems(items)
	return items, nil
}

// SetItem sets the quantity of a product; zero removes it.
func (c *RedisCart) SetItem(ctx context.Context, userID string, item Item) error {
	if item.ProductID == "" || item.Quantity < 0 {
		return errs.Validation("cart item needs a product id and a non-negative quantity")
	}
	if item.Quantity == 0 {
		return c.Client.HDel(ctx, c.key(userID), item.ProductID).Err()
	}
	return c.Client.HSet(ctx, c.key(userID), item.ProductID, item.Quantity).Err()
}

func (c *RedisCart) Clear(ctx context.Context, userID string) error {
	return c.Client.Del(ctx, c.key(userID)).Err()
}

type MemoryCart struct {
	mu    sync.Mutex
	carts map[string]map[string]int
}

func NewMemoryCart() *MemoryCart {
	return &MemoryCart{carts: make(map[string]map[string]int)}
}

func (c *MemoryCart) GetItems(_ context.Context, userID string) ([]Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	items := make([]Item, 0, len(c.carts[userID]))
	for productID, qty := range c.carts[userID] {
		items = append(items, Item{ProductID: productID, Quantity: qty})
	}
	sortItems(items)
	return items, nil
}

func (c *MemoryCart) SetItem(_ context.Context, userID string, item Item) error {
	if item.ProductID == "" || item.Quantity < 0 {
		return errs.Validation("cart item needs a product id and a non-negative quantity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if item.Quantity == 0 {
		delete(c.carts[userID], item.ProductID)
		return nil
	}
	if c.carts[userID] == nil {
		c.carts[userID] = make(map[string]int)
	}
	c.carts[userID][item.ProductID] = item.Quantity
	return nil
}

func (c *MemoryCart) Clear(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.carts, userID)
	return nil
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })
}
