package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestBreakerTransitions(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(2, 0.5, time.Minute).WithClock(c.now)
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, resilience.Open, breaker.State())
	require.False(t, breaker.Allow(ctx))

	c.t = c.t.Add(time.Minute)
	require.True(t, breaker.Allow(ctx), "trial call after cool-off")
	require.False(t, breaker.Allow(ctx), "only one trial call while half-open")
	breaker.Report(ctx, true)
	require.Equal(t, resilience.Closed, breaker.State())
}

func TestBreakerDo(t *testing.T) {
	c := &clock{t: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(1, 1, time.Minute).WithClock(c.now)
	boom := errors.New("broker down")

	require.ErrorIs(t, breaker.Do(context.Background(), func(context.Context) error { return boom }), boom)
	calls := 0
	err := breaker.Do(context.Background(), func(context.Context) error { calls++; return nil })
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Zero(t, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fresh := resilience.NewBreaker(1, 1, time.Minute)
	require.ErrorIs(t, fresh.Do(ctx, func(ctx context.Context) error { return ctx.Err() }), context.Canceled)
	require.Equal(t, resilience.Closed, fresh.State(), "cancellation is not a downstream failure")
}

func TestRetry(t *testing.T) {
	attempts := 0
	err := resilience.Retry(context.Background(), 3, time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)

	attempts = 0
	err = resilience.Retry(context.Background(), 5, time.Millisecond, func(context.Context) error {
		attempts++
		return resilience.ErrOpenCircuit
	})
	require.ErrorIs(t, err, resilience.ErrOpenCircuit)
	require.Equal(t, 1, attempts)
}

func TestBackoffWithJitter(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}

func TestBreakerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	resilience.MustRegisterMetrics("test", reg)
	c := &clock{t: time.Unix(0, 0)}
	breaker := resilience.NewBreaker(1, 1, time.Minute).WithClock(c.now).WithTarget("kafka-test")
	breaker.Report(context.Background(), false)

	count, err := testutil.GatherAndCount(reg, "test_breaker_transition_total")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
