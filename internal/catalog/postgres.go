package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// Source is the read side of the product catalog used by carts and listings.
type Source interface {
	Lookup(ctx context.Context, id string) (domain.Product, error)
	LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error)
	List(ctx context.Context, inStockOnly bool) ([]domain.Product, error)
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const productColumns = `id::text, name, unit_price::text, stock_quantity, min_stock_level`

// Postgres reads products from the products table.
type Postgres struct {
	DB Querier
}

// Lookup returns a single product or ErrProductNotFound.
func (p *Postgres) Lookup(ctx context.Context, id string) (domain.Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Product{}, fmt.Errorf("product %q: %w", id, domain.ErrProductNotFound)
	}
	rows, err := p.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return domain.Product{}, fmt.Errorf("query product %s: %w", id, err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return domain.Product{}, fmt.Errorf("scan product %s: %w", id, err)
	}
	if len(products) == 0 {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	return products[0], nil
}

// LookupMany returns every requested product keyed by id. A missing id fails the whole call.
func (p *Postgres) LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("product %q: %w", id, domain.ErrProductNotFound)
		}
	}
	rows, err := p.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	for _, product := range products {
		out[product.ID] = product
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			return nil, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
		}
	}
	return out, nil
}

// List returns products ordered by name, optionally only those with stock left.
func (p *Postgres) List(ctx context.Context, inStockOnly bool) ([]domain.Product, error) {
	rows, err := p.DB.Query(ctx, `SELECT `+productColumns+` FROM products
		WHERE ($1::bool = false OR stock_quantity > 0)
		ORDER BY name, id`, inStockOnly)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("scan products: %w", err)
	}
	return products, nil
}

func scanProduct(row pgx.CollectableRow) (domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &price, &p.StockQuantity, &p.MinStockLevel); err != nil {
		return domain.Product{}, err
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %s: unit price %q: %w", p.ID, price, domain.ErrInvalidInput)
	}
	p.UnitPrice = amount
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	return p, nil
}
