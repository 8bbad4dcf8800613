package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix        = "cart:session:"
	committingPrefix = "cart:committing:"
)

// ErrCommitting is returned while a checkout holds the cart.
var ErrCommitting = errors.New("cart is being committed")

var (
	// KEYS: session, committing. ARGV: payload, ttl ms.
	saveScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return -1
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1`)
	// KEYS: session, committing.
	claimScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return -1
end
local v = redis.call("GET", KEYS[1])
if not v then
	return false
end
redis.call("RENAME", KEYS[1], KEYS[2])
return v`)
	// KEYS: session, committing.
	restoreScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 0 then
	return 0
end
return redis.call("RENAMENX", KEYS[2], KEYS[1])`)
)

// Store keeps checkout-session carts in Redis as JSON snapshots.
//
// A checkout first Claims the cart, which moves it to a separate key. From then on the
// session can be neither loaded, edited nor claimed again until the checkout either
// Restores it (commit failed) or Finishes it (sale written).
type Store struct {
	R   *redis.Client
	TTL time.Duration
}

func (s *Store) ttl() time.Duration {
	if s == nil || s.TTL <= 0 {
		return 12 * time.Hour
	}
	return s.TTL
}

func (s *Store) ready() error {
	if s == nil || s.R == nil {
		return errors.New("cart store not configured")
	}
	return nil
}

func keys(id string) []string {
	return []string{keyPrefix + id, committingPrefix + id}
}

// Create stores a new empty cart and returns its session id.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := uuid.NewString()
	if err := s.Save(ctx, id, New()); err != nil {
		return "", err
	}
	return id, nil
}

// Load returns the cart stored under id. It returns ErrCommitting while a checkout
// holds the cart and ErrNotFound when it expired or never existed.
func (s *Store) Load(ctx context.Context, id string) (*Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	data, err := s.R.Get(ctx, keyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		if n, err := s.R.Exists(ctx, committingPrefix+id).Result(); err == nil && n > 0 {
			return nil, ErrCommitting
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(id, data)
}

// Save writes the cart and refreshes its expiry. It refuses with ErrCommitting while
// the cart is claimed, so an edit racing a checkout cannot resurrect a sold cart.
func (s *Store) Save(ctx context.Context, id string, c *Cart) error {
	if err := s.ready(); err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	n, err := saveScript.Run(ctx, s.R, keys(id), data, s.ttl().Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n < 0 {
		return ErrCommitting
	}
	return nil
}

// Claim takes the cart for a checkout and returns its contents.
func (s *Store) Claim(ctx context.Context, id string) (*Cart, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	res, err := claimScript.Run(ctx, s.R, keys(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data, ok := res.(string)
	if !ok {
		return nil, ErrCommitting
	}
	return decode(id, []byte(data))
}

// Restore hands a claimed cart back to its session after a failed commit. It never
// overwrites a session key that exists again.
func (s *Store) Restore(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return restoreScript.Run(ctx, s.R, keys(id)).Err()
}

// Finish discards a claimed cart once its sale is durable.
func (s *Store) Finish(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.R.Del(ctx, committingPrefix+id).Err()
}

func decode(id string, data []byte) (*Cart, error) {
	c := New()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", id, err)
	}
	return c, nil
}
