package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Event is the envelope handed to every sink.
type Event struct {
	Topic       string          `json:"topic"`
	AggregateID string          `json:"aggregateId"`
	Payload     json.RawMessage `json:"payload"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// Sink delivers emitted events to a downstream system.
type Sink interface {
	Deliver(ctx context.Context, event Event) error
}

// Bus encodes domain events and fans them out to the configured sinks.
type Bus struct {
	Sinks []Sink
	Now   func() time.Time
}

// Emit builds the event and dispatches it to all sinks. Sink failures are joined; the
// event is still returned so callers can log what was lost.
func (b *Bus) Emit(ctx context.Context, topic, aggregateID string, payload any) (Event, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Event{}, errors.New("events: topic is required")
	}
	if strings.TrimSpace(aggregateID) == "" {
		return Event{}, errors.New("events: aggregate id is required")
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return Event{}, fmt.Errorf("events: encode payload: %w", err)
	}
	now := time.Now
	if b != nil && b.Now != nil {
		now = b.Now
	}
	ev := Event{Topic: topic, AggregateID: aggregateID, Payload: encoded, OccurredAt: now().UTC()}
	if b == nil {
		return ev, nil
	}
	var joined error
	for _, sink := range b.Sinks {
		if sink == nil {
			continue
		}
		if deliverErr := sink.Deliver(ctx, ev); deliverErr != nil {
			joined = errors.Join(joined, fmt.Errorf("events: deliver %s: %w", topic, deliverErr))
		}
	}
	return ev, joined
}

func encodePayload(payload any) ([]byte, error) {
	if payload == nil {
		return []byte("{}"), nil
	}
	switch v := payload.(type) {
	case []byte:
		return validRaw(v)
	case json.RawMessage:
		return validRaw(v)
	case string:
		if strings.TrimSpace(v) == "" {
			return []byte("{}"), nil
		}
		return validRaw([]byte(v))
	default:
		return json.Marshal(v)
	}
}

func validRaw(v []byte) ([]byte, error) {
	if len(v) == 0 {
		return []byte("{}"), nil
	}
	if !json.Valid(v) {
		return nil, errors.New("payload is not valid json")
	}
	return append([]byte(nil), v...), nil
}
