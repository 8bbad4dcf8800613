package sequence

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "sale:seq:"

// Redis allocates sale numbers with INCR on a per-day key, which stays collision-free
// across API instances.
type Redis struct {
	R      *redis.Client
	Prefix string
	Now    func() time.Time
}

// Next returns the following sale number.
func (s *Redis) Next(ctx context.Context) (string, error) {
	if s == nil || s.R == nil {
		return "", wrap(errNotConfigured)
	}
	t := now(s.Now)
	key := redisKeyPrefix + t.Format("20060102")
	pipe := s.R.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", wrap(err)
	}
	return Format(s.Prefix, t, incr.Val()), nil
}
