package events

import (
	"context"
	"time"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// GuardedSink retries deliveries and trips a breaker when the downstream keeps failing,
// so a broker outage costs checkout one fast error instead of a timeout per event.
type GuardedSink struct {
	Sink     Sink
	Breaker  *resilience.Breaker
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// Deliver implements Sink.
func (g *GuardedSink) Deliver(ctx context.Context, ev Event) error {
	return resilience.Retry(ctx, g.Attempts, g.Backoff, func(ctx context.Context) error {
		call := func(ctx context.Context) error {
			if g.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, g.Timeout)
				defer cancel()
			}
			return g.Sink.Deliver(ctx, ev)
		}
		if g.Breaker == nil {
			return call(ctx)
		}
		return g.Breaker.Do(ctx, call)
	})
}
