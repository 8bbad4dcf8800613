package events

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSink writes every event to a structured log. It is the sink used when no broker is
// configured.
type LogSink struct {
	Logger zerolog.Logger
}

// Deliver implements Sink.
func (l LogSink) Deliver(_ context.Context, ev Event) error {
	l.Logger.Info().
		Str("topic", ev.Topic).
		Str("aggregate_id", ev.AggregateID).
		RawJSON("payload", ev.Payload).
		Time("occurred_at", ev.OccurredAt).
		Msg("domain_event")
	return nil
}
