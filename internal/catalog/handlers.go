package catalog

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Handler exposes the product listing used by the cashier screen.
type Handler struct {
	service Source
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service Source
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// ProductListItem is the public product payload.
type ProductListItem struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	UnitPrice     pricing.Money `json:"unitPrice"`
	StockQuantity int           `json:"stockQuantity"`
	MinStockLevel int           `json:"minStockLevel"`
	LowStock      bool          `json:"lowStock"`
}

func toListItem(p domain.Product) ProductListItem {
	return ProductListItem{
		ID:            p.ID,
		Name:          p.Name,
		UnitPrice:     p.UnitPrice,
		StockQuantity: p.StockQuantity,
		MinStockLevel: p.MinStockLevel,
		LowStock:      p.LowStock(),
	}
}

// Products handles GET /api/v1/products. Only products with stock are listed unless
// all=true is passed.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	all := false
	if v := strings.TrimSpace(r.URL.Query().Get("all")); v != "" {
		b, err := parseBool(v)
		if err != nil {
			common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "all must be true or false", map[string]any{"field": "all"})
			return
		}
		all = b
	}
	products, err := h.service.List(r.Context(), !all)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	items := make([]ProductListItem, 0, len(products))
	for _, p := range products {
		items = append(items, toListItem(p))
	}
	common.Data(w, http.StatusOK, items)
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean: %s", value)
	}
}
