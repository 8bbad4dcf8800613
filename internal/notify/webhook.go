// Package notify pushes domain events to back-office systems over signed HTTP webhooks.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/backend-kasir/internal/events"
)

var eventNamespace = uuid.MustParse("0b6f7c52-6a55-4a9e-9a53-2f3c8d1e7a10")

// Endpoint is a webhook receiver. An empty Topics list subscribes to everything.
type Endpoint struct {
	URL    string
	Secret string
	Topics []string
}

func (e Endpoint) wants(topic string) bool {
	return len(e.Topics) == 0 || slices.Contains(e.Topics, topic)
}

// Webhook delivers events to every subscribed endpoint.
type Webhook struct {
	Endpoints   []Endpoint
	Client      *http.Client
	Replay      ReplayGuard
	ReplayTTL   time.Duration
	// ReplayLease bounds how long an in-flight send blocks other workers. Zero means
	// one minute.
	ReplayLease time.Duration
	Now         func() time.Time
}

// Deliver implements events.Sink. Failures of individual endpoints are joined.
func (d *Webhook) Deliver(ctx context.Context, ev events.Event) error {
	var joined error
	for _, ep := range d.Endpoints {
		if !ep.wants(ev.Topic) {
			continue
		}
		status, err := d.deliver(ctx, ep, ev)
		if err == nil && (status < 200 || status >= 300) {
			err = fmt.Errorf("unexpected status %d", status)
		}
		if err != nil {
			joined = errors.Join(joined, fmt.Errorf("webhook %s: %w", ep.URL, err))
		}
	}
	return joined
}

func (d *Webhook) deliver(ctx context.Context, ep Endpoint, ev events.Event) (int, error) {
	ctx, span := otel.Tracer("notify.Webhook").Start(ctx, "Webhook.deliver")
	defer span.End()
	eventID := EventID(ev)
	span.SetAttributes(
		attribute.String("webhook.url", ep.URL),
		attribute.String("webhook.topic", ev.Topic),
		attribute.String("webhook.event_id", eventID),
	)
	if err := validateURL(ep.URL); err != nil {
		span.RecordError(err)
		return 0, err
	}
	body, err := json.Marshal(struct {
		EventID     string          `json:"eventId"`
		Topic       string          `json:"topic"`
		AggregateID string          `json:"aggregateId"`
		Data        json.RawMessage `json:"data"`
		OccurredAt  time.Time       `json:"occurredAt"`
	}{eventID, ev.Topic, ev.AggregateID, ev.Payload, ev.OccurredAt})
	if err != nil {
		return 0, err
	}

	guarded := d.Replay != nil && d.ReplayTTL > 0
	replayKey := "wh:" + hashURL(ep.URL) + ":" + eventID
	var token string
	if guarded {
		var ok bool
		token, ok, err = d.Replay.Claim(ctx, replayKey, d.lease())
		if err != nil {
			span.RecordError(err)
			return 0, err
		}
		if !ok {
			span.AddEvent("delivery replay prevented")
			return http.StatusOK, nil
		}
	}
	status, err := d.post(ctx, ep, eventID, body)
	if guarded {
		settle := context.WithoutCancel(ctx)
		if err == nil && status >= 200 && status < 300 {
			_ = d.Replay.Confirm(settle, replayKey, token, d.ReplayTTL)
		} else {
			_ = d.Replay.Abandon(settle, replayKey, token)
		}
	}
	if err != nil {
		span.RecordError(err)
	}
	span.SetAttributes(attribute.Int("http.status_code", status))
	return status, err
}

func (d *Webhook) lease() time.Duration {
	if d.ReplayLease <= 0 {
		return time.Minute
	}
	return d.ReplayLease
}

func (d *Webhook) post(ctx context.Context, ep Endpoint, eventID string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	ts := now().Unix()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "kasir-api-webhooks/1.0")
	req.Header.Set("X-Event-ID", eventID)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("X-Signature", ComputeSignature(ep.Secret, ts, eventID, body))
	client := d.Client
	if client == nil {
		client = HTTPClient(5 * time.Second)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// EventID derives a stable identifier so a redelivered event keeps its id.
func EventID(ev events.Event) string {
	name := ev.Topic + "|" + ev.AggregateID + "|" + strconv.FormatInt(ev.OccurredAt.UnixNano(), 10)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// ComputeSignature is HMAC-SHA256 over "<ts>.<eventID>.<body>" keyed by the endpoint secret.
func ComputeSignature(secret string, ts int64, eventID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(ts, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write([]byte(eventID))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HTTPClient returns a traced client for webhook delivery.
func HTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	if parsed.Host == "" {
		return errors.New("webhook url must include host")
	}
	switch parsed.Scheme {
	case "https":
	case "http":
		if host := parsed.Hostname(); host != "localhost" && host != "127.0.0.1" {
			return errors.New("http webhook only allowed for localhost")
		}
	default:
		return errors.New("webhook url must be http or https")
	}
	return nil
}

func hashURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return hex.EncodeToString(sum[:8])
}
