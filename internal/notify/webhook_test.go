package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/events"
	"github.com/noah-isme/backend-kasir/internal/notify"
)

type receiver struct {
	mu       sync.Mutex
	status   int
	requests []*http.Request
	bodies   [][]byte
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.requests = append(rc.requests, r)
	rc.bodies = append(rc.bodies, body)
	status := rc.status
	rc.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func (rc *receiver) count() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.requests)
}

func saleEvent() events.Event {
	return events.Event{
		Topic:       events.TopicSaleCommitted,
		AggregateID: "sale-1",
		Payload:     json.RawMessage(`{"number":"TRX-20240307-0001"}`),
		OccurredAt:  time.Date(2024, 3, 7, 10, 0, 0, 0, time.UTC),
	}
}

func TestWebhookSignsPayload(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	t.Cleanup(srv.Close)

	ts := time.Unix(1_709_805_600, 0)
	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{{URL: srv.URL, Secret: "s3cret"}},
		Client:    srv.Client(),
		Now:       func() time.Time { return ts },
	}
	ev := saleEvent()
	require.NoError(t, hook.Deliver(context.Background(), ev))
	require.Equal(t, 1, rc.count())

	req := rc.requests[0]
	eventID := notify.EventID(ev)
	require.Equal(t, eventID, req.Header.Get("X-Event-ID"))
	require.Equal(t, strconv.FormatInt(ts.Unix(), 10), req.Header.Get("X-Timestamp"))
	require.Equal(t, notify.ComputeSignature("s3cret", ts.Unix(), eventID, rc.bodies[0]), req.Header.Get("X-Signature"))

	var body struct {
		EventID string          `json:"eventId"`
		Topic   string          `json:"topic"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rc.bodies[0], &body))
	require.Equal(t, events.TopicSaleCommitted, body.Topic)
	require.JSONEq(t, `{"number":"TRX-20240307-0001"}`, string(body.Data))
}

func TestWebhookTopicFilterAndErrors(t *testing.T) {
	rc := &receiver{}
	srv := httptest.NewServer(rc)
	t.Cleanup(srv.Close)

	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{
			{URL: srv.URL, Topics: []string{events.TopicStockLow}},
			{URL: "ftp://example.com/hook"},
		},
		Client: srv.Client(),
	}
	err := hook.Deliver(context.Background(), saleEvent())
	require.ErrorContains(t, err, "http or https")
	require.Zero(t, rc.count())

	rc.mu.Lock()
	rc.status = http.StatusBadGateway
	rc.mu.Unlock()
	hook.Endpoints = []notify.Endpoint{{URL: srv.URL}}
	require.ErrorContains(t, hook.Deliver(context.Background(), saleEvent()), "unexpected status 502")

	require.Error(t, (&notify.Webhook{Endpoints: []notify.Endpoint{{URL: "http://pos.example.com/hook"}}}).Deliver(context.Background(), saleEvent()))
}

func TestWebhookReplayProtection(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rc := &receiver{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rc)
	t.Cleanup(srv.Close)
	hook := &notify.Webhook{
		Endpoints: []notify.Endpoint{{URL: srv.URL, Secret: "k"}},
		Client:    srv.Client(),
		Replay:    notify.RedisReplayGuard{Client: client},
		ReplayTTL: time.Hour,
	}
	ctx := context.Background()

	require.Error(t, hook.Deliver(ctx, saleEvent()))
	rc.mu.Lock()
	rc.status = http.StatusOK
	rc.mu.Unlock()
	require.NoError(t, hook.Deliver(ctx, saleEvent()), "failed attempt releases the guard")
	require.NoError(t, hook.Deliver(ctx, saleEvent()))
	require.Equal(t, 2, rc.count(), "successful delivery is not repeated")
}

func TestReplayGuardLeaseOwnership(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	guard := notify.RedisReplayGuard{Client: client}
	ctx := context.Background()

	stale, ok, err := guard.Claim(ctx, "wh:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = guard.Claim(ctx, "wh:k", time.Second)
	require.NoError(t, err)
	require.False(t, ok, "lease is held")

	mr.FastForward(2 * time.Second)
	fresh, ok, err := guard.Claim(ctx, "wh:k", time.Second)
	require.NoError(t, err)
	require.True(t, ok, "expired lease can be reclaimed")

	require.NoError(t, guard.Abandon(ctx, "wh:k", stale))
	require.True(t, mr.Exists("wh:k"), "stale owner cannot drop a newer lease")
	require.NoError(t, guard.Confirm(ctx, "wh:k", stale, time.Hour))
	val, err := mr.Get("wh:k")
	require.NoError(t, err)
	require.Equal(t, fresh, val)

	require.NoError(t, guard.Confirm(ctx, "wh:k", fresh, time.Hour))
	val, err = mr.Get("wh:k")
	require.NoError(t, err)
	require.Equal(t, "sent", val)
	require.Equal(t, time.Hour, mr.TTL("wh:k"))
}
