package checkout

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/obs"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

// CartStore is the session storage the handler commits from. Claim takes the cart
// exclusively; Restore returns it after a failed commit and Finish discards it.
type CartStore interface {
	Load(ctx context.Context, id string) (*cart.Cart, error)
	Claim(ctx context.Context, id string) (*cart.Cart, error)
	Restore(ctx context.Context, id string) error
	Finish(ctx context.Context, id string) error
}

// Locker serialises commits of the same cart.
type Locker interface {
	TryWithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Catalog refreshes cached product views after stock changed.
type Catalog interface {
	Lookup(ctx context.Context, id string) (domain.Product, error)
	Invalidate(ctx context.Context, ids ...string) error
}

// Publisher emits domain events.
type Publisher interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Handler exposes checkout over HTTP.
type Handler struct {
	Svc     *Service
	Carts   CartStore
	Locker  Locker
	LockTTL time.Duration
	Catalog Catalog
	Events  Publisher
	Receipt receipt.Policy
	Logger  zerolog.Logger

	background sync.WaitGroup
}

type breakdownPayload struct {
	DiscountRate *pricing.Money `json:"discountRate"`
}

// Breakdown returns the tax-base decomposition of the session cart without committing.
func (h *Handler) Breakdown(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout handler not configured", nil)
		return
	}
	var payload breakdownPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.Carts.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	preview, err := h.Svc.Preview(c, payload.DiscountRate)
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, preview)
}

type checkoutPayload struct {
	CustomerName    string               `json:"customerName" validate:"max=120"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod" validate:"required,oneof=cash transfer debit credit qris"`
	PaymentReceived pricing.Money        `json:"paymentReceived"`
	BankDetails     string               `json:"bankDetails" validate:"max=255"`
	DiscountRate    *pricing.Money       `json:"discountRate"`
	Receipt         *receipt.Policy      `json:"receipt"`
}

type checkoutResponse struct {
	Sale    domain.Sale       `json:"sale"`
	Items   []domain.SaleItem `json:"items"`
	Receipt receipt.Receipt   `json:"receipt"`
}

// Checkout commits the session cart as a sale and clears the session. The cart is
// claimed before the commit starts, so even if the lock expires under a slow commit a
// second checkout of the same cart sees COMMIT_IN_FLIGHT instead of selling it twice.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil || h.Carts == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout handler not configured", nil)
		return
	}
	cashier, ok := common.UserID(r.Context())
	if !ok || cashier == "" {
		common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "cashier identity required", nil)
		return
	}
	var payload checkoutPayload
	if err := common.DecodeJSON(r, &payload); err != nil {
		common.WriteError(w, err)
		return
	}
	cartID := chi.URLParam(r, "id")
	policy := h.Receipt
	if payload.Receipt != nil {
		policy = *payload.Receipt
	}

	var out checkoutResponse
	commit := func(ctx context.Context) error {
		c, err := h.Carts.Claim(ctx, cartID)
		if err != nil {
			return err
		}
		res, err := h.Svc.Commit(ctx, c, Request{
			CustomerName:    payload.CustomerName,
			PaymentMethod:   payload.PaymentMethod,
			PaymentReceived: payload.PaymentReceived,
			BankDetails:     payload.BankDetails,
			CreatedBy:       cashier,
			DiscountRate:    payload.DiscountRate,
		})
		after := context.WithoutCancel(ctx)
		if err != nil {
			if rerr := h.Carts.Restore(after, cartID); rerr != nil {
				h.Logger.Error().Err(rerr).Str("cart_id", cartID).Msg("cart_restore_failed")
			}
			return err
		}
		// The sale is durable; everything below is best effort. A cart that fails to
		// clear stays claimed until it expires and cannot be committed again.
		if err := h.Carts.Finish(after, cartID); err != nil {
			h.Logger.Warn().Err(err).Str("cart_id", cartID).Msg("cart_clear_failed")
		}
		names := make(map[string]string, c.Len())
		for _, l := range c.Lines() {
			names[l.Product.ID] = l.Product.Name
		}
		h.afterCommit(after, res)
		out = checkoutResponse{
			Sale:    res.Sale,
			Items:   res.Items,
			Receipt: receipt.Build(res.Sale, res.Items, names, res.Breakdown, policy),
		}
		return nil
	}

	var err error
	if h.Locker != nil {
		err = h.Locker.TryWithLock(r.Context(), lock.CheckoutKey(cartID), h.lockTTL(), commit)
	} else {
		err = commit(r.Context())
	}
	if errors.Is(err, lock.ErrHeld) || errors.Is(err, cart.ErrCommitting) {
		if obs.CheckoutLockContention != nil {
			obs.CheckoutLockContention.Inc()
		}
		common.JSONError(w, http.StatusConflict, "COMMIT_IN_FLIGHT", "a commit for this cart is already in progress", nil)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, out)
}

func (h *Handler) lockTTL() time.Duration {
	if h.LockTTL <= 0 {
		return 30 * time.Second
	}
	return h.LockTTL
}

type saleCommittedLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type saleCommittedEvent struct {
	SaleID        string               `json:"saleId"`
	SaleNumber    string               `json:"saleNumber"`
	TotalAmount   pricing.Money        `json:"totalAmount"`
	PaymentMethod domain.PaymentMethod `json:"paymentMethod"`
	CreatedBy     string               `json:"createdBy"`
	Lines         []saleCommittedLine  `json:"lines"`
}

type stockLowEvent struct {
	ProductID     string `json:"productId"`
	Name          string `json:"name"`
	StockQuantity int    `json:"stockQuantity"`
	MinStockLevel int    `json:"minStockLevel"`
	SaleNumber    string `json:"saleNumber"`
}

// afterCommit drops stale catalog entries before the response goes out, then emits
// events in the background so sink retries never delay the cashier.
func (h *Handler) afterCommit(ctx context.Context, res Result) {
	ids := make([]string, 0, len(res.Items))
	lines := make([]saleCommittedLine, 0, len(res.Items))
	for _, it := range res.Items {
		ids = append(ids, it.ProductID)
		lines = append(lines, saleCommittedLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	if h.Catalog != nil {
		if err := h.Catalog.Invalidate(ctx, ids...); err != nil {
			h.Logger.Warn().Err(err).Str("sale_number", res.Sale.SaleNumber).Msg("catalog_invalidate_failed")
		}
	}
	if h.Events == nil {
		return
	}
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		h.publish(ctx, res, ids, lines)
	}()
}

// Drain waits for background event publishing to finish or ctx to end.
func (h *Handler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) publish(ctx context.Context, res Result, ids []string, lines []saleCommittedLine) {
	h.emit(ctx, events.TopicSaleCommitted, res.Sale.ID, saleCommittedEvent{
		SaleID:        res.Sale.ID,
		SaleNumber:    res.Sale.SaleNumber,
		TotalAmount:   res.Sale.TotalAmount,
		PaymentMethod: res.Sale.PaymentMethod,
		CreatedBy:     res.Sale.CreatedBy,
		Lines:         lines,
	})
	if h.Catalog == nil {
		return
	}
	for _, id := range ids {
		p, err := h.Catalog.Lookup(ctx, id)
		if err != nil {
			h.Logger.Debug().Err(err).Str("product_id", id).Msg("stock_check_skipped")
			continue
		}
		if p.LowStock() {
			h.emit(ctx, events.TopicStockLow, p.ID, stockLowEvent{
				ProductID:     p.ID,
				Name:          p.Name,
				StockQuantity: p.StockQuantity,
				MinStockLevel: p.MinStockLevel,
				SaleNumber:    res.Sale.SaleNumber,
			})
		}
	}
}

func (h *Handler) emit(ctx context.Context, topic, aggregateID string, payload any) {
	if _, err := h.Events.Emit(ctx, topic, aggregateID, payload); err != nil {
		if obs.EventPublishFailures != nil {
			obs.EventPublishFailures.WithLabelValues(topic).Inc()
		}
		h.Logger.Error().Err(err).Str("topic", topic).Str("aggregate_id", aggregateID).Msg("event_publish_failed")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, cart.ErrCommitting):
		common.JSONError(w, http.StatusConflict, "COMMIT_IN_FLIGHT", err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
