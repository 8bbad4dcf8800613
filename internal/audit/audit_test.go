package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/audit"
	"github.com/noah-isme/backend-kasir/internal/common"
)

type memStore struct {
	entries []audit.Entry
	err     error
}

func (m *memStore) Insert(_ context.Context, e audit.Entry) error {
	m.entries = append(m.entries, e)
	return m.err
}

func TestMiddlewareRecordsCheckout(t *testing.T) {
	store := &memStore{}
	now := time.Date(2024, 3, 7, 10, 0, 0, 0, time.FixedZone("WIB", 7*3600))
	rec := audit.HTTPRecorder{Service: audit.Service{Store: store, Enabled: true, Now: func() time.Time { return now }}}

	r := chi.NewRouter()
	r.Use(common.CashierMiddleware)
	r.With(rec.Middleware(audit.HTTPConfig{
		Action:          "sale.checkout",
		ResourceIDParam: "id",
		MetadataFunc: func(_ *http.Request, status int) map[string]any {
			return map[string]any{"committed": status == http.StatusCreated}
		},
	})).Post("/api/v1/carts/{id}/checkout", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts/c-42/checkout", nil)
	req.Header.Set(common.CashierHeader, "kasir-1")
	req.Header.Set("X-Request-Id", "req-9")
	r.ServeHTTP(httptest.NewRecorder(), req)

	require.Len(t, store.entries, 1)
	e := store.entries[0]
	require.Equal(t, "kasir-1", e.Actor)
	require.Equal(t, "sale.checkout", e.Action)
	require.Equal(t, "carts.{id}.checkout", e.ResourceType)
	require.Equal(t, "c-42", e.ResourceID)
	require.Equal(t, http.StatusCreated, e.Status)
	require.Equal(t, "req-9", e.RequestID)
	require.Equal(t, now.UTC(), e.CreatedAt)
	require.JSONEq(t, `{"committed":true}`, string(e.Metadata))
}

func TestMiddlewareDefaultsAndErrors(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	var reported error
	rec := audit.HTTPRecorder{
		Service: audit.Service{Store: store, Enabled: true},
		OnError: func(err error) { reported = err },
	}
	r := chi.NewRouter()
	r.With(rec.Middleware(audit.HTTPConfig{})).Delete("/api/v1/carts/{id}/items/{productId}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/carts/c1/items/p1", nil))

	require.Len(t, store.entries, 1)
	require.Equal(t, "DELETE /api/v1/carts/{id}/items/{productId}", store.entries[0].Action)
	require.Equal(t, http.StatusOK, store.entries[0].Status)
	require.Empty(t, store.entries[0].Actor)
	require.EqualError(t, reported, "db down")
}

func TestDisabledServiceSkips(t *testing.T) {
	store := &memStore{}
	rec := audit.HTTPRecorder{Service: audit.Service{Store: store}}
	h := rec.Middleware(audit.HTTPConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, store.entries)
}

func TestLogStore(t *testing.T) {
	var buf bytes.Buffer
	store := audit.LogStore{Logger: zerolog.New(&buf)}
	require.NoError(t, store.Insert(context.Background(), audit.Entry{
		Actor:    "kasir-1",
		Action:   "sale.checkout",
		Status:   http.StatusCreated,
		Metadata: json.RawMessage(`{"number":"TRX-20240307-0001"}`),
	}))
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "audit", line["message"])
	require.Equal(t, "kasir-1", line["actor"])
	require.Equal(t, map[string]any{"number": "TRX-20240307-0001"}, line["metadata"])
}
