package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// BatchSender is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var seedNamespace = uuid.MustParse("6f1b7a0c-2a4e-4c44-9a43-8c5d3f2b9e10")

// SeedID derives a stable product id from its name, so reseeding updates rows in place.
func SeedID(name string) string {
	return uuid.NewSHA1(seedNamespace, []byte(name)).String()
}

// DemoProducts is the starter catalog used by the seeder and the in-memory driver.
func DemoProducts() []domain.Product {
	rows := []struct {
		name  string
		price string
		stock int
		min   int
	}{
		{"Kopi Bubuk 200g", "25000", 40, 5},
		{"Teh Celup isi 25", "12500", 60, 10},
		{"Gula Pasir 1kg", "17500", 30, 5},
		{"Beras Premium 5kg", "78000", 15, 3},
		{"Minyak Goreng 2L", "36500", 20, 4},
		{"Mie Instan Goreng", "3500", 200, 24},
		{"Air Mineral 600ml", "4000", 120, 24},
		{"Susu UHT 1L", "19900", 25, 6},
		{"Sabun Mandi Cair 450ml", "27500", 12, 3},
		{"Baterai AA isi 2", "15000", 2, 4},
	}
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Product{
			ID:            SeedID(r.name),
			Name:          r.name,
			UnitPrice:     decimal.RequireFromString(r.price),
			StockQuantity: r.stock,
			MinStockLevel: r.min,
		})
	}
	return out
}

const upsertProduct = `
INSERT INTO products (id, name, unit_price, stock_quantity, min_stock_level)
VALUES ($1::uuid, $2, $3::numeric, $4, $5)
ON CONFLICT (id) DO UPDATE SET
    name = EXCLUDED.name,
    unit_price = EXCLUDED.unit_price,
    stock_quantity = EXCLUDED.stock_quantity,
    min_stock_level = EXCLUDED.min_stock_level,
    updated_at = now()`

// SeedPostgres upserts products in one batch and returns how many rows were written.
func SeedPostgres(ctx context.Context, db BatchSender, products []domain.Product) (int, error) {
	batch := &pgx.Batch{}
	for _, p := range products {
		if err := p.Validate(); err != nil {
			return 0, err
		}
		batch.Queue(upsertProduct, p.ID, p.Name, p.UnitPrice.String(), p.StockQuantity, p.MinStockLevel)
	}
	results := db.SendBatch(ctx, batch)
	defer results.Close()
	written := 0
	for _, p := range products {
		if _, err := results.Exec(); err != nil {
			return written, fmt.Errorf("upsert product %s: %w", p.Name, err)
		}
		written++
	}
	return written, nil
}
