package sequence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

var errNotConfigured = errors.New("sequence generator not configured")

// RowQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres draws the counter from the sale_number_seq database sequence. Numbers are
// unique but keep increasing across days.
type Postgres struct {
	DB     RowQuerier
	Prefix string
	Now    func() time.Time
}

// Next returns the following sale number.
func (s *Postgres) Next(ctx context.Context) (string, error) {
	if s == nil || s.DB == nil {
		return "", wrap(errNotConfigured)
	}
	var n int64
	if err := s.DB.QueryRow(ctx, `SELECT nextval('sale_number_seq')`).Scan(&n); err != nil {
		return "", wrap(err)
	}
	return Format(s.Prefix, now(s.Now), n), nil
}
