package cart

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// ProductLookup resolves the current catalog view of a product.
type ProductLookup interface {
	Lookup(ctx context.Context, id string) (domain.Product, error)
}

// Handler wires checkout-session carts to HTTP.
type Handler struct {
	Store   *Store
	Catalog ProductLookup
}

type lineView struct {
	ProductID     string        `json:"productId"`
	Name          string        `json:"name"`
	UnitPrice     pricing.Money `json:"unitPrice"`
	Quantity      int           `json:"quantity"`
	StockQuantity int           `json:"stockQuantity"`
	Subtotal      pricing.Money `json:"subtotal"`
}

type cartView struct {
	ID            string        `json:"id"`
	Lines         []lineView    `json:"lines"`
	Subtotal      pricing.Money `json:"subtotal"`
	TotalQuantity int           `json:"totalQuantity"`
}

// View renders a cart for API responses.
func View(id string, c *Cart) any {
	lines := make([]lineView, 0, c.Len())
	for _, l := range c.Lines() {
		lines = append(lines, lineView{
			ProductID:     l.Product.ID,
			Name:          l.Product.Name,
			UnitPrice:     l.Product.UnitPrice,
			Quantity:      l.Quantity,
			StockQuantity: l.Product.StockQuantity,
			Subtotal:      l.Subtotal().Round(pricing.CurrencyPlaces),
		})
	}
	return cartView{
		ID:            id,
		Lines:         lines,
		Subtotal:      c.Subtotal().Round(pricing.CurrencyPlaces),
		TotalQuantity: c.TotalQuantity(),
	}
}

// Create opens an empty checkout session.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart store not configured", nil)
		return
	}
	id, err := h.Store.Create(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusCreated, View(id, New()))
}

// Get returns the session cart.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := h.Store.Load(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, View(id, c))
}

// AddItem adds one unit of a product looked up from the catalog.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProductID string `json:"productId" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	h.mutate(w, r, func(ctx context.Context, c *Cart) error {
		product, err := h.Catalog.Lookup(ctx, payload.ProductID)
		if err != nil {
			return err
		}
		return c.Add(product)
	})
}

// UpdateItem sets the quantity of a line. Zero or less removes it.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity *int `json:"quantity" validate:"required"`
	}
	if err := common.DecodeJSON(r, &payload); err != nil {
		h.writeError(w, err)
		return
	}
	productID := chi.URLParam(r, "productId")
	h.mutate(w, r, func(ctx context.Context, c *Cart) error {
		if *payload.Quantity > 0 {
			product, err := h.Catalog.Lookup(ctx, productID)
			if err != nil {
				return err
			}
			c.RefreshProduct(product)
		}
		return c.SetQuantity(productID, *payload.Quantity)
	})
}

// RemoveItem drops a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	h.mutate(w, r, func(_ context.Context, c *Cart) error {
		c.Remove(productID)
		return nil
	})
}

// mutate loads the session cart, applies fn to a copy and saves it only when fn succeeds,
// so a rejected change leaves the stored cart untouched.
func (h *Handler) mutate(w http.ResponseWriter, r *http.Request, fn func(context.Context, *Cart) error) {
	if h.Store == nil || h.Catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart handler not configured", nil)
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	current, err := h.Store.Load(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	next := current.Clone()
	if err := fn(ctx, next); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.Store.Save(ctx, id, next); err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, View(id, next))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, ErrCommitting):
		common.JSONError(w, http.StatusConflict, "COMMIT_IN_FLIGHT", err.Error(), nil)
	default:
		common.WriteError(w, err)
	}
}
