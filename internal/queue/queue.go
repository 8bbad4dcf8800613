// Package queue is a small Redis-backed delayed work queue with retries and a dead
// letter list. Ready tasks live in a sorted set scored by their due time; tasks being
// handled sit in a processing set until acked or their visibility timeout expires.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-kasir/internal/resilience"
)

// Task is a unit of work.
type Task struct {
	Kind           string
	Payload        []byte
	IdempotencyKey string
	MaxAttempts    int
	Delay          time.Duration
	Attempt        int
}

type taskMessage struct {
	Kind        string `json:"kind"`
	Key         string `json:"key,omitempty"`
	Payload     []byte `json:"payload"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	AvailableAt int64  `json:"available_at"`
	LastError   string `json:"last_error,omitempty"`
}

// Keys names the Redis keys of one queue kind.
type Keys struct {
	Prefix string
}

func (k Keys) base() string {
	if k.Prefix == "" {
		return "queue"
	}
	return k.Prefix
}

func (k Keys) Ready(kind string) string      { return fmt.Sprintf("%s:%s", k.base(), kind) }
func (k Keys) Processing(kind string) string { return fmt.Sprintf("%s:%s:processing", k.base(), kind) }
func (k Keys) DLQ(kind string) string        { return fmt.Sprintf("%s:%s:dlq", k.base(), kind) }
func (k Keys) Dedup(kind, key string) string { return fmt.Sprintf("%s:dedup:%s:%s", k.base(), kind, key) }

// Enqueuer publishes tasks.
type Enqueuer struct {
	R        *redis.Client
	Keys     Keys
	DedupTTL time.Duration
	Now      func() time.Time
}

// Enqueue schedules t. A task with an idempotency key is enqueued at most once while
// the key is pending.
func (e Enqueuer) Enqueue(ctx context.Context, t Task) error {
	if e.R == nil {
		return errors.New("queue: redis client not configured")
	}
	kind := sanitizeKind(t.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid task kind %q", t.Kind)
	}
	msg := taskMessage{Kind: kind, Key: t.IdempotencyKey, Payload: t.Payload, MaxAttempts: t.MaxAttempts}
	if msg.MaxAttempts <= 0 {
		msg.MaxAttempts = 10
	}
	msg.AvailableAt = clock(e.Now)().Add(t.Delay).UnixNano()

	if msg.Key != "" {
		ttl := e.DedupTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		ok, err := e.R.SetNX(ctx, e.Keys.Dedup(kind, msg.Key), "1", ttl).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup %s: %w", msg.Key, err)
		}
		if !ok {
			return nil
		}
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return e.R.ZAdd(ctx, e.Keys.Ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: raw}).Err()
}

// Depth returns the number of ready and dead tasks of kind.
func (e Enqueuer) Depth(ctx context.Context, kind string) (ready, dead int64, err error) {
	pipe := e.R.Pipeline()
	r := pipe.ZCard(ctx, e.Keys.Ready(kind))
	d := pipe.LLen(ctx, e.Keys.DLQ(kind))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return r.Val(), d.Val(), nil
}

// Worker consumes tasks of one kind.
type Worker struct {
	R                 *redis.Client
	Keys              Keys
	Kind              string
	Concurrency       int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	RetryBase         time.Duration
	RetryJitter       float64
	Handler           func(context.Context, Task) error
	Logger            zerolog.Logger
	Now               func() time.Time
}

// Run processes tasks until ctx is cancelled, then waits for in-flight handlers.
func (w Worker) Run(ctx context.Context) error {
	if w.R == nil || w.Handler == nil {
		return errors.New("queue: worker not configured")
	}
	kind := sanitizeKind(w.Kind)
	if kind == "" {
		return fmt.Errorf("queue: invalid worker kind %q", w.Kind)
	}
	sem := make(chan struct{}, max(w.Concurrency, 1))
	var wg sync.WaitGroup
	defer wg.Wait()

	lastRequeue := time.Time{}
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		raw, msg, ok, err := w.poll(ctx, kind, &lastRequeue)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// Redis hiccups must not end redelivery for the life of the process.
			failures++
			delay := w.errorBackoff(failures)
			w.Logger.Warn().Err(err).Str("kind", kind).Int("failures", failures).Dur("retry_in", delay).Msg("queue_poll_failed")
			if !sleep(ctx, delay) {
				return nil
			}
			continue
		}
		failures = 0
		if !ok {
			if !sleep(ctx, w.pollInterval()) {
				return nil
			}
			continue
		}
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() { <-sem; wg.Done() }()
			w.process(ctx, kind, raw, msg)
		}()
	}
}

// poll requeues expired claims at most once a second, then claims the next due task.
func (w Worker) poll(ctx context.Context, kind string, lastRequeue *time.Time) (string, taskMessage, bool, error) {
	if now := clock(w.Now)(); now.Sub(*lastRequeue) >= time.Second {
		if err := w.requeueExpired(ctx, kind); err != nil {
			return "", taskMessage{}, false, err
		}
		*lastRequeue = now
	}
	return w.claim(ctx, kind)
}

// errorBackoff doubles the poll interval per consecutive failure, capped at 30s.
func (w Worker) errorBackoff(failures int) time.Duration {
	d := w.pollInterval() << min(failures-1, 16)
	return min(d, 30*time.Second)
}

// RunOnce claims and handles at most one due task. It reports whether a task was found.
func (w Worker) RunOnce(ctx context.Context) (bool, error) {
	kind := sanitizeKind(w.Kind)
	if w.R == nil || w.Handler == nil || kind == "" {
		return false, errors.New("queue: worker not configured")
	}
	if err := w.requeueExpired(ctx, kind); err != nil {
		return false, err
	}
	raw, msg, ok, err := w.claim(ctx, kind)
	if err != nil || !ok {
		return false, err
	}
	w.process(ctx, kind, raw, msg)
	return true, nil
}

// claim moves the earliest due task into the processing set.
func (w Worker) claim(ctx context.Context, kind string) (string, taskMessage, bool, error) {
	now := clock(w.Now)()
	due, err := w.R.ZRangeByScore(ctx, w.Keys.Ready(kind), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixNano()), Count: 1,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", taskMessage{}, false, err
	}
	if len(due) == 0 {
		return "", taskMessage{}, false, nil
	}
	removed, err := w.R.ZRem(ctx, w.Keys.Ready(kind), due[0]).Result()
	if err != nil {
		return "", taskMessage{}, false, err
	}
	if removed == 0 {
		// another worker got it first
		return "", taskMessage{}, false, nil
	}
	msg, err := decodeMessage(due[0])
	if err != nil {
		_ = w.R.LPush(ctx, w.Keys.DLQ(kind), due[0]).Err()
		return "", taskMessage{}, false, nil
	}
	msg.Attempt++
	encoded, err := json.Marshal(msg)
	if err != nil {
		return "", taskMessage{}, false, err
	}
	deadline := now.Add(w.visibility()).UnixNano()
	if err := w.R.ZAdd(ctx, w.Keys.Processing(kind), redis.Z{Score: float64(deadline), Member: encoded}).Err(); err != nil {
		return "", taskMessage{}, false, err
	}
	return string(encoded), msg, true, nil
}

func (w Worker) process(ctx context.Context, kind, raw string, msg taskMessage) {
	err := w.Handler(ctx, Task{Kind: kind, Payload: msg.Payload, IdempotencyKey: msg.Key, MaxAttempts: msg.MaxAttempts, Attempt: msg.Attempt})
	// bookkeeping must land even when ctx was cancelled mid-handler
	bg := context.WithoutCancel(ctx)
	_ = w.R.ZRem(bg, w.Keys.Processing(kind), raw).Err()
	if err == nil {
		observe(kind, "ok")
		if msg.Key != "" {
			_ = w.R.Del(bg, w.Keys.Dedup(kind, msg.Key)).Err()
		}
		return
	}
	msg.LastError = err.Error()
	if msg.Attempt >= msg.MaxAttempts {
		observe(kind, "dead")
		if encoded, mErr := json.Marshal(msg); mErr == nil {
			_ = w.R.LPush(bg, w.Keys.DLQ(kind), encoded).Err()
		}
		if msg.Key != "" {
			_ = w.R.Del(bg, w.Keys.Dedup(kind, msg.Key)).Err()
		}
		return
	}
	observe(kind, "retry")
	msg.AvailableAt = clock(w.Now)().Add(resilience.Backoff(w.retryBase(), msg.Attempt, w.RetryJitter)).UnixNano()
	if encoded, mErr := json.Marshal(msg); mErr == nil {
		_ = w.R.ZAdd(bg, w.Keys.Ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
	}
}

// requeueExpired returns tasks whose handler outlived the visibility timeout.
func (w Worker) requeueExpired(ctx context.Context, kind string) error {
	now := clock(w.Now)()
	expired, err := w.R.ZRangeByScore(ctx, w.Keys.Processing(kind), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, raw := range expired {
		removed, err := w.R.ZRem(ctx, w.Keys.Processing(kind), raw).Result()
		if err != nil || removed == 0 {
			continue
		}
		msg, err := decodeMessage(raw)
		if err != nil {
			continue
		}
		msg.AvailableAt = now.UnixNano()
		if encoded, err := json.Marshal(msg); err == nil {
			_ = w.R.ZAdd(ctx, w.Keys.Ready(kind), redis.Z{Score: float64(msg.AvailableAt), Member: encoded}).Err()
		}
	}
	return nil
}

func (w Worker) visibility() time.Duration {
	if w.VisibilityTimeout <= 0 {
		return 30 * time.Second
	}
	return w.VisibilityTimeout
}

func (w Worker) pollInterval() time.Duration {
	if w.PollInterval <= 0 {
		return 250 * time.Millisecond
	}
	return w.PollInterval
}

func (w Worker) retryBase() time.Duration {
	if w.RetryBase <= 0 {
		return 200 * time.Millisecond
	}
	return w.RetryBase
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func clock(now func() time.Time) func() time.Time {
	if now != nil {
		return now
	}
	return time.Now
}

func sanitizeKind(kind string) string {
	if kind == "" {
		return ""
	}
	for i := 0; i < len(kind); i++ {
		c := kind[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
		default:
			return ""
		}
	}
	return kind
}

func decodeMessage(raw string) (taskMessage, error) {
	var msg taskMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return taskMessage{}, err
	}
	return msg, nil
}
