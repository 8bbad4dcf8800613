package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/catalog"
	"github.com/noah-isme/backend-kasir/internal/common"
	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/ledger"
	"github.com/noah-isme/backend-kasir/internal/lock"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

type captured struct {
	topic       string
	aggregateID string
	payload     map[string]any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []captured
}

func (c *capturePublisher) Emit(_ context.Context, topic, aggregateID string, payload any) (events.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return events.Event{}, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return events.Event{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, captured{topic: topic, aggregateID: aggregateID, payload: decoded})
	return events.Event{Topic: topic, AggregateID: aggregateID, Payload: raw}, nil
}

type fixture struct {
	router  http.Handler
	handler *Handler
	mr      *miniredis.Miniredis
	carts   *cart.Store
	catalog *catalog.Cached
	mem     *ledger.Memory
	events  *capturePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	mem := ledger.NewMemory(products()...)
	svc, _ := newService(mem)
	f := &fixture{
		mr:      mr,
		carts:   &cart.Store{R: client, TTL: time.Hour},
		catalog: &catalog.Cached{Source: mem, Cache: catalog.NewCache(client, time.Minute)},
		mem:     mem,
		events:  &capturePublisher{},
	}
	h := &Handler{
		Svc:     svc,
		Carts:   f.carts,
		Locker:  lock.Locker{R: client},
		LockTTL: 5 * time.Second,
		Catalog: f.catalog,
		Events:  f.events,
		Receipt: receipt.DefaultPolicy(),
	}
	r := chi.NewRouter()
	r.Use(common.CashierMiddleware)
	r.Post("/carts/{id}/breakdown", h.Breakdown)
	r.Post("/carts/{id}/checkout", h.Checkout)
	f.router = r
	f.handler = h
	return f
}

func (f *fixture) seedCart(t *testing.T, lines map[string]int) string {
	t.Helper()
	ctx := context.Background()
	id, err := f.carts.Create(ctx)
	require.NoError(t, err)
	c := cart.New()
	for _, p := range products() {
		if qty, ok := lines[p.ID]; ok {
			cached, err := f.catalog.Lookup(ctx, p.ID)
			require.NoError(t, err)
			require.NoError(t, c.Add(cached))
			require.NoError(t, c.SetQuantity(p.ID, qty))
		}
	}
	require.NoError(t, f.carts.Save(ctx, id, c))
	return id
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (f *fixture) do(path, cashier, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if cashier != "" {
		req.Header.Set(common.CashierHeader, cashier)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path, cashier, body string) (int, envelope) {
	t.Helper()
	rec := f.do(path, cashier, body)
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestCheckoutCommitsAndClearsCart(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p1": 2, "p2": 1})

	status, env := f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"150000","customerName":"Budi"}`)
	require.Equal(t, http.StatusCreated, status, env.Error.Code)

	var body struct {
		Sale struct {
			SaleNumber   string `json:"saleNumber"`
			TotalAmount  string `json:"totalAmount"`
			ChangeAmount string `json:"changeAmount"`
			CreatedBy    string `json:"createdBy"`
		} `json:"sale"`
		Items   []json.RawMessage `json:"items"`
		Receipt struct {
			CustomerName string         `json:"customerName"`
			Breakdown    map[string]any `json:"breakdown"`
			Lines        []struct {
				Name string `json:"name"`
			} `json:"lines"`
		} `json:"receipt"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &body))
	require.Equal(t, "TRX-20240307-0001", body.Sale.SaleNumber)
	require.Equal(t, "133200", body.Sale.TotalAmount)
	require.Equal(t, "16800", body.Sale.ChangeAmount)
	require.Equal(t, "kasir-1", body.Sale.CreatedBy)
	require.Len(t, body.Items, 2)
	require.Equal(t, "Budi", body.Receipt.CustomerName)
	require.Equal(t, "Kopi", body.Receipt.Lines[0].Name)
	require.Contains(t, body.Receipt.Breakdown, "amount")
	require.NotContains(t, body.Receipt.Breakdown, "dppFaktur")

	_, err := f.carts.Load(context.Background(), id)
	require.ErrorIs(t, err, cart.ErrNotFound)

	require.NoError(t, f.handler.Drain(context.Background()))
	require.Len(t, f.events.events, 2)
	require.Equal(t, events.TopicSaleCommitted, f.events.events[0].topic)
	require.Equal(t, "TRX-20240307-0001", f.events.events[0].payload["saleNumber"])
	low := f.events.events[1]
	require.Equal(t, events.TopicStockLow, low.topic)
	require.Equal(t, "p2", low.aggregateID)
	require.EqualValues(t, 2, low.payload["stockQuantity"], "catalog cache must be invalidated after commit")

	status, env = f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"150000"}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", env.Error.Code)
}

func TestCheckoutRejectsShortPayment(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p2": 1})

	status, env := f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"22199.99"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "INSUFFICIENT_PAYMENT", env.Error.Code)

	c, err := f.carts.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, c.TotalQuantity())
	require.Empty(t, f.events.events)
	require.False(t, f.mr.Exists(lock.CheckoutKey(id)), "lock must be released")
}

func TestCheckoutRequestErrors(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p2": 1})

	status, env := f.post(t, "/carts/"+id+"/checkout", "", `{"paymentMethod":"cash","paymentReceived":"50000"}`)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, env = f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"barter","paymentReceived":"50000"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "VALIDATION_FAILED", env.Error.Code)

	status, env = f.post(t, "/carts/not-a-cart/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"50000"}`)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "NOT_FOUND", env.Error.Code)

	empty := f.seedCart(t, nil)
	status, env = f.post(t, "/carts/"+empty+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"50000"}`)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "EMPTY_CART", env.Error.Code)
}

func TestCheckoutRejectsConcurrentCommit(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p1": 1})
	require.NoError(t, f.mr.Set(lock.CheckoutKey(id), "other-terminal"))

	status, env := f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"100000"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "COMMIT_IN_FLIGHT", env.Error.Code)
	require.Equal(t, 5, f.mem.Stock("p1"))
}

func TestCheckoutStockShortage(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p2": 3})
	short := products()[1]
	short.StockQuantity = 1
	require.NoError(t, f.mem.Put(short))

	status, env := f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"100000"}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "INSUFFICIENT_STOCK", env.Error.Code)
	require.Equal(t, 1, f.mem.Stock("p2"))
}

func TestBreakdownEndpoint(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p1": 1})

	status, env := f.post(t, "/carts/"+id+"/breakdown", "kasir-1", `{"discountRate":"0"}`)
	require.Equal(t, http.StatusOK, status)
	var preview struct {
		Breakdown map[string]string `json:"breakdown"`
		Totals    map[string]string `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &preview))
	require.Equal(t, "0", preview.Breakdown["discount"])
	require.Equal(t, "50000", preview.Breakdown["amount"])
	require.Equal(t, "55500", preview.Totals["total"])

	status, env = f.post(t, "/carts/"+id+"/breakdown", "kasir-1", `{"discountRate":"2"}`)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "INVALID_INPUT", env.Error.Code)
}

// gatedLedger parks the first write until release is closed.
type gatedLedger struct {
	inner   Ledger
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedLedger) WriteSaleAtomic(ctx context.Context, batch ledger.SaleBatch) (domain.Sale, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.inner.WriteSaleAtomic(ctx, batch)
}

func TestCheckoutHoldsCartWhenLockExpiresMidCommit(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p1": 1})
	gate := &gatedLedger{inner: f.handler.Svc.Ledger, entered: make(chan struct{}), release: make(chan struct{})}
	f.handler.Svc.Ledger = gate
	body := `{"paymentMethod":"cash","paymentReceived":"100000"}`

	first := make(chan int, 1)
	go func() { first <- f.do("/carts/"+id+"/checkout", "kasir-1", body).Code }()

	<-gate.entered
	f.mr.FastForward(6 * time.Second)
	require.False(t, f.mr.Exists(lock.CheckoutKey(id)), "lock TTL elapsed during the commit")

	status, env := f.post(t, "/carts/"+id+"/checkout", "kasir-2", body)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "COMMIT_IN_FLIGHT", env.Error.Code)

	status, env = f.post(t, "/carts/"+id+"/breakdown", "kasir-2", `{}`)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "COMMIT_IN_FLIGHT", env.Error.Code)

	close(gate.release)
	require.Equal(t, http.StatusCreated, <-first)
	require.NoError(t, f.handler.Drain(context.Background()))

	sales, _, _ := f.mem.Counts()
	require.Equal(t, 1, sales)
	require.Equal(t, 4, f.mem.Stock("p1"))
}

func TestCheckoutFailureReturnsCartToSession(t *testing.T) {
	f := newFixture(t)
	id := f.seedCart(t, map[string]int{"p1": 1})
	f.mem.FailOn(ledger.StepInsertSale, errors.New("disk full"))

	status, _ := f.post(t, "/carts/"+id+"/checkout", "kasir-1", `{"paymentMethod":"cash","paymentReceived":"100000"}`)
	require.Equal(t, http.StatusInternalServerError, status)

	c, err := f.carts.Load(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, c.TotalQuantity())
	require.Equal(t, 5, f.mem.Stock("p1"))
}
