package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ReplayGuard makes sure an event reaches an endpoint at most once per TTL, even when
// the redelivery queue hands the same event to two workers.
//
// Claim takes a short lease tagged with a fresh token. Confirm turns the lease into
// a long-lived "sent" marker and Abandon drops it so a later retry may claim again.
// Both are no-ops unless the caller still owns the lease.
type ReplayGuard interface {
	Claim(ctx context.Context, key string, lease time.Duration) (token string, ok bool, err error)
	Confirm(ctx context.Context, key, token string, ttl time.Duration) error
	Abandon(ctx context.Context, key, token string) error
}

var (
	confirmScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], "sent", "PX", ARGV[2])
end
return false`)
	abandonScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisReplayGuard implements ReplayGuard with SET NX and compare-and-swap scripts.
// A nil Client lets every delivery through.
type RedisReplayGuard struct {
	Client *redis.Client
}

func (g RedisReplayGuard) Claim(ctx context.Context, key string, lease time.Duration) (string, bool, error) {
	if g.Client == nil {
		return "", true, nil
	}
	token := uuid.NewString()
	ok, err := g.Client.SetNX(ctx, key, token, lease).Result()
	return token, ok, err
}

func (g RedisReplayGuard) Confirm(ctx context.Context, key, token string, ttl time.Duration) error {
	if g.Client == nil {
		return nil
	}
	err := confirmScript.Run(ctx, g.Client, []string{key}, token, ttl.Milliseconds()).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (g RedisReplayGuard) Abandon(ctx context.Context, key, token string) error {
	if g.Client == nil {
		return nil
	}
	return abandonScript.Run(ctx, g.Client, []string{key}, token).Err()
}
