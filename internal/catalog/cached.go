package catalog

import (
	"context"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// Cached serves catalog reads from Redis before falling back to Source. Cache failures
// degrade to a source read.
type Cached struct {
	Source Source
	Cache  *Cache
}

// Lookup implements Source.
func (c *Cached) Lookup(ctx context.Context, id string) (domain.Product, error) {
	if found, _, err := c.Cache.Products(ctx, []string{id}); err == nil {
		if p, ok := found[id]; ok {
			return p, nil
		}
	}
	p, err := c.Source.Lookup(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	_ = c.Cache.PutProducts(ctx, p)
	return p, nil
}

// LookupMany implements Source, fetching only the ids the cache could not answer.
func (c *Cached) LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out, missing, _ := c.Cache.Products(ctx, ids)
	if len(missing) == 0 {
		return out, nil
	}
	fetched, err := c.Source.LookupMany(ctx, missing)
	if err != nil {
		return nil, err
	}
	fresh := make([]domain.Product, 0, len(fetched))
	for id, p := range fetched {
		out[id] = p
		fresh = append(fresh, p)
	}
	_ = c.Cache.PutProducts(ctx, fresh...)
	return out, nil
}

// List implements Source.
func (c *Cached) List(ctx context.Context, inStockOnly bool) ([]domain.Product, error) {
	if products, ok, err := c.Cache.Listing(ctx, inStockOnly); err == nil && ok {
		return products, nil
	}
	products, err := c.Source.List(ctx, inStockOnly)
	if err != nil {
		return nil, err
	}
	_ = c.Cache.PutListing(ctx, inStockOnly, products)
	return products, nil
}

// Invalidate drops cached entries for ids along with every cached listing.
func (c *Cached) Invalidate(ctx context.Context, ids ...string) error {
	return c.Cache.Evict(ctx, ids...)
}
