package common_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/domain"
)

func TestFromDomainMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NewStockError("p1", 2, 1), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{fmt.Errorf("wrap: %w", domain.ErrEmptyCart), http.StatusUnprocessableEntity, "EMPTY_CART"},
		{domain.ErrInsufficientPayment, http.StatusUnprocessableEntity, "INSUFFICIENT_PAYMENT"},
		{domain.ErrSequenceGeneration, http.StatusServiceUnavailable, "SEQUENCE_UNAVAILABLE"},
		{domain.ErrPersistence, http.StatusInternalServerError, "PERSISTENCE_FAILURE"},
		{domain.ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
		{domain.ErrProductNotFound, http.StatusNotFound, "NOT_FOUND"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		appErr := common.FromDomain(tc.err)
		require.Equal(t, tc.status, appErr.HTTPStatus, tc.err.Error())
		require.Equal(t, tc.code, appErr.Code)
	}
}

func TestWriteErrorIncludesStockDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	common.WriteError(rec, domain.NewStockError("p9", 4, 3))
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INSUFFICIENT_STOCK", body.Error.Code)
	require.Equal(t, "p9", body.Error.Details["productId"])
	require.EqualValues(t, 3, body.Error.Details["available"])
}

func TestDecodeJSONValidation(t *testing.T) {
	type payload struct {
		ProductID string `json:"productId" validate:"required"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	var p payload
	err := common.DecodeJSON(req, &p)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Equal(t, map[string]string{"productID": "required"}, appErr.Details)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"p1"}`))
	require.NoError(t, common.DecodeJSON(req, &p))
	require.Equal(t, "p1", p.ProductID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"unknown":1}`))
	require.Error(t, common.DecodeJSON(req, &p))
}

func TestCashierMiddleware(t *testing.T) {
	var seen string
	h := common.CashierMiddleware(common.RequireCashier(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = common.UserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(common.CashierHeader, " kasir-7 ")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "kasir-7", seen)
}

func TestIdempotencyReplayAndRelease(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	status := http.StatusCreated
	calls := 0
	h := common.Idem{R: client, TTL: time.Minute}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		common.Data(w, status, map[string]int{"call": calls})
	}))
	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set("Idempotency-Key", "abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := send("/carts/1/checkout")
	require.Equal(t, http.StatusCreated, first.Code)
	again := send("/carts/1/checkout")
	require.Equal(t, http.StatusCreated, again.Code)
	require.Equal(t, "true", again.Header().Get(common.ReplayedHeader))
	require.Equal(t, "application/json; charset=utf-8", again.Header().Get("Content-Type"))
	require.JSONEq(t, first.Body.String(), again.Body.String())
	require.Equal(t, 1, calls)

	require.Equal(t, http.StatusCreated, send("/carts/2/checkout").Code, "keys are scoped per route")
	require.Equal(t, 2, calls)

	mr.FlushAll()
	status = http.StatusUnprocessableEntity
	require.Equal(t, http.StatusUnprocessableEntity, send("/carts/1/checkout").Code)
	require.Equal(t, http.StatusUnprocessableEntity, send("/carts/1/checkout").Code)
	require.Equal(t, 4, calls)
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var h http.Handler
	nested := httptest.NewRecorder()
	h = common.Idem{R: client}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if nested.Code == http.StatusOK && nested.Body.Len() == 0 {
			req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
			req.Header.Set("Idempotency-Key", "abc")
			h.ServeHTTP(nested, req)
		}
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, http.StatusConflict, nested.Code)
	require.Contains(t, nested.Body.String(), "IDEMPOTENT_REPLAY")
}

func TestDataEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	common.Data(rec, http.StatusCreated, []string{"a"})
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"data":["a"]}`, rec.Body.String())
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forged forwarded header ignored", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.4"}, "10.0.0.2:5000", "10.0.0.2"},
		{"socket peer", nil, "192.0.2.10:41234", "192.0.2.10"},
		{"ipv6 peer", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"mapped ipv4 peer", nil, "[::ffff:192.0.2.5]:80", "192.0.2.5"},
		{"bare peer set by RealIP", nil, "192.0.2.11", "192.0.2.11"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			require.Equal(t, tc.want, common.ClientIP(req))
		})
	}
}
