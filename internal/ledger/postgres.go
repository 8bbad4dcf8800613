package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// Beginner is satisfied by *pgxpool.Pool and *pgx.Conn.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Postgres writes a sale inside a single database transaction. Product rows are locked
// with FOR UPDATE in id order before their stock is checked and decremented.
type Postgres struct {
	DB Beginner
}

// WriteSaleAtomic implements Writer.
func (p *Postgres) WriteSaleAtomic(ctx context.Context, b SaleBatch) (domain.Sale, error) {
	if err := b.Validate(); err != nil {
		return domain.Sale{}, err
	}
	tx, err := p.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.Sale{}, persistence("begin", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	for _, d := range mergeDecrements(b.Decrements) {
		var stock int
		err := tx.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, d.ProductID).Scan(&stock)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.Sale{}, persistence("lock product", fmt.Errorf("%s: %w", d.ProductID, domain.ErrProductNotFound))
			}
			return domain.Sale{}, persistence("lock product", err)
		}
		if stock < d.Quantity {
			return domain.Sale{}, domain.NewStockError(d.ProductID, d.Quantity, stock)
		}
		ct, err := tx.Exec(ctx, `UPDATE products
			SET stock_quantity = stock_quantity - $2, updated_at = now()
			WHERE id = $1 AND stock_quantity >= $2`, d.ProductID, d.Quantity)
		if err != nil {
			return domain.Sale{}, persistence("decrement stock", err)
		}
		if ct.RowsAffected() != 1 {
			return domain.Sale{}, domain.NewStockError(d.ProductID, d.Quantity, stock)
		}
	}

	s := b.Sale
	if _, err := tx.Exec(ctx, `INSERT INTO sales
		(id, sale_number, customer_name, subtotal, tax_amount, total_amount, payment_method,
		 payment_received, change_amount, notes, created_by, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7, $8::numeric, $9::numeric, $10, $11, $12)`,
		s.ID, s.SaleNumber, s.CustomerName, s.Subtotal.String(), s.TaxAmount.String(), s.TotalAmount.String(),
		string(s.PaymentMethod), s.PaymentReceived.String(), s.ChangeAmount.String(), s.Notes, s.CreatedBy, s.CreatedAt,
	); err != nil {
		return domain.Sale{}, persistence("insert sale", err)
	}

	batch := &pgx.Batch{}
	for _, it := range b.Items {
		batch.Queue(`INSERT INTO sale_items (sale_id, product_id, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric)`,
			it.SaleID, it.ProductID, it.Quantity, it.UnitPrice.String(), it.Subtotal.String())
	}
	for _, m := range b.Movements {
		batch.Queue(`INSERT INTO stock_movements
			(product_id, transaction_type, quantity, reference_number, notes, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			m.ProductID, string(m.Type), m.Quantity, m.ReferenceNumber, m.Notes, m.CreatedBy, m.CreatedAt)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return domain.Sale{}, persistence("insert lines", err)
		}
	}
	if err := br.Close(); err != nil {
		return domain.Sale{}, persistence("insert lines", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Sale{}, persistence("commit", err)
	}
	return s, nil
}
