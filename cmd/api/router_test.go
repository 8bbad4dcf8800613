package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/audit"
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/checkout"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/config"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/health"
	"github.com/noah-isme/backend-kasir/internal/ledger"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
	"github.com/noah-isme/backend-kasir/internal/sequence"
)

type auditLog struct {
	entries []audit.Entry
}

func (a *auditLog) Insert(_ context.Context, e audit.Entry) error {
	a.entries = append(a.entries, e)
	return nil
}

func newTestServer(t *testing.T) (http.Handler, *ledger.Memory, *auditLog) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := ledger.NewMemory(catalog.DemoProducts()...)
	products := &catalog.Cached{Source: mem, Cache: catalog.NewCache(client, time.Minute)}
	carts := &cart.Store{R: client, TTL: time.Hour}
	trail := &auditLog{}
	h := newRouter(routerDeps{
		cfg:     &config.Config{MetricsNamespace: "test"},
		logger:  zerolog.Nop(),
		health:  health.Handler{Checker: health.Deps{Redis: client}},
		catalog: catalog.NewHandler(catalog.HandlerConfig{Service: products}),
		cart:    &cart.Handler{Store: carts, Catalog: products},
		checkout: &checkout.Handler{
			Svc: &checkout.Service{
				Sequence:       &sequence.Redis{R: client},
				Ledger:         &ledger.Saga{Store: mem},
				TaxRatePercent: pricing.DefaultTaxRatePercent,
				DiscountRate:   pricing.DefaultDiscountRate,
				Logger:         zerolog.Nop(),
			},
			Carts:   carts,
			Locker:  lock.Locker{R: client},
			Catalog: products,
			Events:  &events.Bus{},
			Receipt: receipt.DefaultPolicy(),
			Logger:  zerolog.Nop(),
		},
		idem:  common.Idem{R: client, TTL: time.Minute},
		audit: audit.HTTPRecorder{Service: audit.Service{Store: trail, Enabled: true}},
	})
	return h, mem, trail
}

func call(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func TestSaleFlowThroughRouter(t *testing.T) {
	h, mem, trail := newTestServer(t)
	cashier := map[string]string{common.CashierHeader: "kasir-1"}
	product := catalog.DemoProducts()[0]

	status, _ := call(t, h, http.MethodPost, "/api/v1/carts", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body := call(t, h, http.MethodPost, "/api/v1/carts", "", cashier)
	require.Equal(t, http.StatusCreated, status)
	id := body["data"].(map[string]any)["id"].(string)

	status, _ = call(t, h, http.MethodPost, "/api/v1/carts/"+id+"/items", `{"productId":"`+product.ID+`"}`, cashier)
	require.Equal(t, http.StatusOK, status)
	status, _ = call(t, h, http.MethodPatch, "/api/v1/carts/"+id+"/items/"+product.ID, `{"quantity":2}`, cashier)
	require.Equal(t, http.StatusOK, status)

	status, _ = call(t, h, http.MethodPost, "/api/v1/carts/"+id+"/breakdown", "", cashier)
	require.Equal(t, http.StatusOK, status)

	checkoutHeaders := map[string]string{common.CashierHeader: "kasir-1", "Idempotency-Key": "k-1", "X-Forwarded-For": "203.0.113.50"}
	payload := `{"paymentMethod":"cash","paymentReceived":"100000"}`
	status, body = call(t, h, http.MethodPost, "/api/v1/carts/"+id+"/checkout", payload, checkoutHeaders)
	require.Equal(t, http.StatusCreated, status, body)
	sale := body["data"].(map[string]any)["sale"].(map[string]any)
	require.Regexp(t, `^TRX-\d{8}-0001$`, sale["saleNumber"])
	require.Equal(t, "55500", sale["totalAmount"])

	status, body = call(t, h, http.MethodPost, "/api/v1/carts/"+id+"/checkout", payload, checkoutHeaders)
	require.Equal(t, http.StatusCreated, status, "a lost response can be fetched again")
	replayed := body["data"].(map[string]any)["sale"].(map[string]any)
	require.Equal(t, sale["saleNumber"], replayed["saleNumber"])

	status, body = call(t, h, http.MethodPost, "/api/v1/carts/"+id+"/checkout", payload, map[string]string{common.CashierHeader: "kasir-1", "Idempotency-Key": "k-2"})
	require.Equal(t, http.StatusNotFound, status, "a new key cannot commit a finished cart")
	require.Equal(t, "NOT_FOUND", body["error"].(map[string]any)["code"])

	require.Equal(t, product.StockQuantity-2, mem.Stock(product.ID))

	var checkouts []audit.Entry
	for _, e := range trail.entries {
		if e.Action == "sale.checkout" {
			checkouts = append(checkouts, e)
		}
	}
	require.Len(t, checkouts, 3)
	require.Equal(t, "kasir-1", checkouts[0].Actor)
	require.Equal(t, id, checkouts[0].ResourceID)
	require.Equal(t, "192.0.2.1", checkouts[0].IP, "forwarded headers are ignored without a trusted proxy")
	require.Equal(t, http.StatusCreated, checkouts[0].Status)
	require.Equal(t, http.StatusCreated, checkouts[1].Status)
	require.Equal(t, http.StatusNotFound, checkouts[2].Status)
}

func TestHealthAndProducts(t *testing.T) {
	h, _, _ := newTestServer(t)
	health.SetReady(true)

	status, _ := call(t, h, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, status)

	status, body := call(t, h, http.MethodGet, "/api/v1/products", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, body["data"], len(catalog.DemoProducts()))
}
