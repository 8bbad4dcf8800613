package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

const (
	productKeyPrefix = "catalog:product:"
	listKeyInStock   = "catalog:products:list:in-stock"
	listKeyAll       = "catalog:products:list:all"
)

// Cache stores product snapshots and catalog listings in Redis. A nil client (or a
// nil *Cache) misses on every read and ignores writes.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache returns a cache whose entries expire after ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) disabled() bool { return c == nil || c.client == nil }

func productKey(id string) string { return productKeyPrefix + id }

func listKey(inStockOnly bool) string {
	if inStockOnly {
		return listKeyInStock
	}
	return listKeyAll
}

// Products answers what it can for ids in a single MGET. Entries that are absent or
// fail to decode are left out of the result and reported as missing.
func (c *Cache) Products(ctx context.Context, ids []string) (map[string]domain.Product, []string, error) {
	if c.disabled() || len(ids) == 0 {
		return map[string]domain.Product{}, ids, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = productKey(id)
	}
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return map[string]domain.Product{}, ids, err
	}
	found := make(map[string]domain.Product, len(ids))
	var missing []string
	for i, v := range vals {
		raw, ok := v.(string)
		var p domain.Product
		if !ok || json.Unmarshal([]byte(raw), &p) != nil {
			missing = append(missing, ids[i])
			continue
		}
		found[ids[i]] = p
	}
	return found, missing, nil
}

// PutProducts writes snapshots in one pipeline.
func (c *Cache) PutProducts(ctx context.Context, products ...domain.Product) error {
	if c.disabled() || len(products) == 0 {
		return nil
	}
	_, err := c.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range products {
			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.Set(ctx, productKey(p.ID), data, c.ttl)
		}
		return nil
	})
	return err
}

// Listing returns a cached catalog listing and whether one was present.
func (c *Cache) Listing(ctx context.Context, inStockOnly bool) ([]domain.Product, bool, error) {
	if c.disabled() {
		return nil, false, nil
	}
	data, err := c.client.Get(ctx, listKey(inStockOnly)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

// PutListing caches a listing.
func (c *Cache) PutListing(ctx context.Context, inStockOnly bool, products []domain.Product) error {
	if c.disabled() {
		return nil
	}
	data, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, listKey(inStockOnly), data, c.ttl).Err()
}

// Evict drops the snapshots for ids together with both listings, since any stock
// change can move a product in or out of the in-stock view.
func (c *Cache) Evict(ctx context.Context, ids ...string) error {
	if c.disabled() {
		return nil
	}
	keys := make([]string, 0, len(ids)+2)
	for _, id := range ids {
		keys = append(keys, productKey(id))
	}
	keys = append(keys, listKeyInStock, listKeyAll)
	return c.client.Del(ctx, keys...).Err()
}
