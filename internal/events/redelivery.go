package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/noah-isme/backend-kasir/internal/queue"
)

// RedeliveryKind is the default queue kind holding events a sink could not take.
const RedeliveryKind = "events.redeliver"

// Enqueuer schedules background work.
type Enqueuer interface {
	Enqueue(ctx context.Context, t queue.Task) error
}

// RedeliverySink hands events to Primary and parks failed deliveries on a queue for a
// background worker to retry. Only a failure to park the event is reported. Each
// primary sink needs its own Kind so a retry only reaches the sink that failed.
type RedeliverySink struct {
	Primary     Sink
	Queue       Enqueuer
	Kind        string
	MaxAttempts int
}

// Deliver implements Sink.
func (r *RedeliverySink) Deliver(ctx context.Context, ev Event) error {
	err := r.Primary.Deliver(ctx, ev)
	if err == nil || r.Queue == nil {
		return err
	}
	raw, mErr := json.Marshal(ev)
	if mErr != nil {
		return errors.Join(err, mErr)
	}
	kind := r.Kind
	if kind == "" {
		kind = RedeliveryKind
	}
	qErr := r.Queue.Enqueue(context.WithoutCancel(ctx), queue.Task{
		Kind:           kind,
		Payload:        raw,
		IdempotencyKey: ev.Topic + ":" + ev.AggregateID + ":" + strconv.FormatInt(ev.OccurredAt.UnixNano(), 10),
		MaxAttempts:    r.MaxAttempts,
	})
	if qErr != nil {
		return errors.Join(err, fmt.Errorf("park event: %w", qErr))
	}
	return nil
}

// RedeliveryHandler is the queue handler that retries a parked event against sink.
func RedeliveryHandler(sink Sink) func(context.Context, queue.Task) error {
	return func(ctx context.Context, t queue.Task) error {
		var ev Event
		if err := json.Unmarshal(t.Payload, &ev); err != nil {
			return fmt.Errorf("decode parked event: %w", err)
		}
		return sink.Deliver(ctx, ev)
	}
}
