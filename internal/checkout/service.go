// Package checkout turns a cart into a committed sale.
//
// A commit walks Idle → Validating → Reserving → Persisting → Committed and stops in
// Failed from any state. Cancellation is honoured only before Reserving; once a sale
// number has been drawn the commit runs to a terminal state regardless of the caller's
// context.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/ledger"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

// State is a step of the commit state machine.
type State string

const (
	StateIdle       State = "idle"
	StateValidating State = "validating"
	StateReserving  State = "reserving"
	StatePersisting State = "persisting"
	StateCommitted  State = "committed"
	StateFailed     State = "failed"
)

// SequenceGenerator hands out unique sale numbers.
type SequenceGenerator interface {
	Next(ctx context.Context) (string, error)
}

// Ledger writes a sale batch as one all-or-nothing unit.
type Ledger interface {
	WriteSaleAtomic(ctx context.Context, batch ledger.SaleBatch) (domain.Sale, error)
}

// Request carries the tender details of a commit.
type Request struct {
	CustomerName    string
	PaymentMethod   domain.PaymentMethod
	PaymentReceived pricing.Money
	BankDetails     string
	CreatedBy       string
	// DiscountRate overrides Service.DiscountRate for the returned breakdown.
	DiscountRate *pricing.Money
}

// Result is a committed sale with its lines and aggregate breakdown.
type Result struct {
	Sale      domain.Sale
	Items     []domain.SaleItem
	Breakdown pricing.Breakdown
	Trace     []State
}

// CommitError reports the state a commit failed in. It unwraps to the domain error.
type CommitError struct {
	Stage State
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed while %s: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Service commits carts.
type Service struct {
	Sequence       SequenceGenerator
	Ledger         Ledger
	TaxRatePercent pricing.Money
	DiscountRate   pricing.Money
	Now            func() time.Time
	NewID          func() string
	Logger         zerolog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return uuid.NewString()
}

type run struct {
	trace []State
	log   zerolog.Logger
}

func (r *run) enter(st State) {
	r.trace = append(r.trace, st)
	r.log.Debug().Str("state", string(st)).Msg("sale_commit_transition")
}

// Commit validates the cart and tender, draws a sale number and writes the sale. The
// cart is never modified; the caller clears it after success.
func (s *Service) Commit(ctx context.Context, c *cart.Cart, req Request) (res Result, err error) {
	if s == nil || s.Sequence == nil || s.Ledger == nil {
		return Result{}, errors.New("checkout service not configured")
	}
	ctx, span := otel.Tracer("checkout").Start(ctx, "sale.commit")
	start := time.Now()
	r := &run{trace: []State{StateIdle}, log: s.Logger.With().Str("cashier_id", req.CreatedBy).Logger()}
	defer func() {
		result, stage := "committed", ""
		if err != nil {
			var ce *CommitError
			if errors.As(err, &ce) {
				stage = string(ce.Stage)
			}
			result = resultLabel(err)
			r.enter(StateFailed)
			span.RecordError(err)
			span.SetStatus(codes.Error, result)
			r.log.Warn().Err(err).Str("stage", stage).Str("result", result).Msg("sale_commit_failed")
		} else {
			r.log.Info().Str("sale_number", res.Sale.SaleNumber).Str("total", res.Sale.TotalAmount.StringFixed(pricing.CurrencyPlaces)).Msg("sale_committed")
		}
		res.Trace = r.trace
		span.SetAttributes(attribute.String("sale.result", result))
		span.End()
		obs.ObserveCommit(result, stage, obs.DurationMillis(time.Since(start)))
	}()

	var snapshot *cart.Cart
	if c != nil {
		snapshot = c.Clone()
	} else {
		snapshot = cart.New()
	}

	r.enter(StateValidating)
	if err := ctx.Err(); err != nil {
		return Result{}, &CommitError{Stage: StateValidating, Err: err}
	}
	plan, err := s.validate(snapshot, req)
	if err != nil {
		return Result{}, &CommitError{Stage: StateValidating, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, &CommitError{Stage: StateValidating, Err: err}
	}

	// Past this point the commit must reach a terminal state.
	ctx = context.WithoutCancel(ctx)

	r.enter(StateReserving)
	number, err := s.Sequence.Next(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSequenceGeneration) {
			err = fmt.Errorf("%w: %w", domain.ErrSequenceGeneration, err)
		}
		return Result{}, &CommitError{Stage: StateReserving, Err: err}
	}
	r.log = r.log.With().Str("sale_number", number).Logger()
	span.SetAttributes(attribute.String("sale.number", number))

	r.enter(StatePersisting)
	batch := s.buildBatch(number, snapshot, req, plan)
	sale, err := s.Ledger.WriteSaleAtomic(ctx, batch)
	if err != nil {
		if !errors.Is(err, domain.ErrInsufficientStock) && !errors.Is(err, domain.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
		}
		return Result{}, &CommitError{Stage: StatePersisting, Err: err}
	}

	r.enter(StateCommitted)
	return Result{Sale: sale, Items: batch.Items, Breakdown: plan.breakdown}, nil
}

type plan struct {
	totals    pricing.SaleTotals
	breakdown pricing.Breakdown
	change    pricing.Money
}

func (s *Service) validate(c *cart.Cart, req Request) (plan, error) {
	if c.IsEmpty() {
		return plan{}, domain.ErrEmptyCart
	}
	for _, l := range c.Lines() {
		if l.Quantity <= 0 {
			return plan{}, fmt.Errorf("line %s has quantity %d: %w", l.Product.ID, l.Quantity, domain.ErrInvalidInput)
		}
	}
	if !req.PaymentMethod.Valid() {
		return plan{}, fmt.Errorf("unknown payment method %q: %w", req.PaymentMethod, domain.ErrInvalidInput)
	}
	if req.PaymentReceived.IsNegative() {
		return plan{}, fmt.Errorf("payment received must not be negative: %w", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(req.CreatedBy) == "" {
		return plan{}, fmt.Errorf("cashier required: %w", domain.ErrInvalidInput)
	}
	totals, err := pricing.Totals(c.Subtotal(), s.TaxRatePercent)
	if err != nil {
		return plan{}, err
	}
	if req.PaymentReceived.LessThan(totals.Total) {
		return plan{}, fmt.Errorf("received %s, total %s: %w",
			req.PaymentReceived.StringFixed(pricing.CurrencyPlaces), totals.Total.StringFixed(pricing.CurrencyPlaces), domain.ErrInsufficientPayment)
	}
	rate := s.DiscountRate
	if req.DiscountRate != nil {
		rate = *req.DiscountRate
	}
	breakdown, err := pricing.Aggregate(c.PricingLines(), rate)
	if err != nil {
		return plan{}, err
	}
	return plan{totals: totals, breakdown: breakdown, change: pricing.Change(totals.Total, req.PaymentReceived)}, nil
}

func (s *Service) buildBatch(number string, c *cart.Cart, req Request, p plan) ledger.SaleBatch {
	createdAt := s.now().UTC()
	sale := domain.Sale{
		ID:              s.newID(),
		SaleNumber:      number,
		Subtotal:        p.totals.Subtotal,
		TaxAmount:       p.totals.TaxAmount,
		TotalAmount:     p.totals.Total,
		PaymentMethod:   req.PaymentMethod,
		PaymentReceived: req.PaymentReceived,
		ChangeAmount:    p.change,
		CreatedBy:       req.CreatedBy,
		CreatedAt:       createdAt,
	}
	if name := strings.TrimSpace(req.CustomerName); name != "" {
		sale.CustomerName = &name
	}
	if req.PaymentMethod != domain.PaymentCash {
		sale.Notes = receipt.BankNotes(req.BankDetails)
	}
	b := ledger.SaleBatch{Sale: sale}
	for _, l := range c.Lines() {
		b.Items = append(b.Items, domain.SaleItem{
			SaleID:    sale.ID,
			ProductID: l.Product.ID,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.UnitPrice,
			Subtotal:  l.Subtotal(),
		})
		b.Movements = append(b.Movements, domain.StockMovement{
			ProductID:       l.Product.ID,
			Type:            domain.MovementOutbound,
			Quantity:        l.Quantity,
			ReferenceNumber: number,
			Notes:           "Sale: " + number,
			CreatedBy:       req.CreatedBy,
			CreatedAt:       createdAt,
		})
		b.Decrements = append(b.Decrements, domain.StockDecrement{ProductID: l.Product.ID, Quantity: l.Quantity})
	}
	return b
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, domain.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, domain.ErrInsufficientPayment):
		return "insufficient_payment"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrSequenceGeneration):
		return "sequence_failed"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence_failed"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	}
	return "error"
}
