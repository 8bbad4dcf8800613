package common

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ReplayedHeader marks a response served from the idempotency store.
const ReplayedHeader = "Idempotent-Replayed"

const (
	idemPending     = "pending"
	pendingLease    = 5 * time.Minute
	maxReplayedBody = 1 << 20
)

// Idem provides an Idempotency-Key middleware backed by Redis.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

// storedResponse is what a successful request leaves under its key.
type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

func hashKey(scope, route, key string) string {
	sum := sha256.Sum256([]byte(scope + "\x00" + route + "\x00" + key))
	return "idem:" + hex.EncodeToString(sum[:])
}

// Middleware enforces idempotency semantics for write endpoints. Keys are scoped per
// cashier and route so two terminals cannot collide on the same client-generated key.
//
// A repeat of a request that succeeded gets the original response back with the
// Idempotent-Replayed header, so a client that lost a checkout response can still
// read its sale number. A repeat while the first attempt runs gets 409. Failed
// attempts (4xx/5xx) release the key.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Idempotency-Key")
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		scope, _ := UserID(ctx)
		key := hashKey(scope, r.Method+" "+r.URL.Path, header)
		// a crashed attempt only blocks its key for the pending lease
		ok, err := i.R.SetNX(ctx, key, idemPending, min(i.ttl(), pendingLease)).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			i.replay(ctx, w, key)
			return
		}
		capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			settle := context.WithoutCancel(ctx)
			if capture.status >= http.StatusBadRequest {
				_ = i.R.Del(settle, key).Err()
				return
			}
			data, err := json.Marshal(capture.stored())
			if err != nil {
				_ = i.R.Del(settle, key).Err()
				return
			}
			_ = i.R.Set(settle, key, data, i.ttl()).Err()
		}()
		next.ServeHTTP(capture, r)
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	raw, err := i.R.Get(ctx, key).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", map[string]any{"error": err.Error()})
		return
	}
	var prev storedResponse
	if err != nil || string(raw) == idemPending || json.Unmarshal(raw, &prev) != nil || prev.Truncated {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", nil)
		return
	}
	if prev.ContentType != "" {
		w.Header().Set("Content-Type", prev.ContentType)
	}
	w.Header().Set(ReplayedHeader, "true")
	w.WriteHeader(prev.Status)
	_, _ = w.Write(prev.Body)
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}

// responseCapture tees the status and up to maxReplayedBody bytes of the body.
type responseCapture struct {
	http.ResponseWriter
	status    int
	wrote     bool
	body      bytes.Buffer
	truncated bool
}

func (c *responseCapture) WriteHeader(code int) {
	if !c.wrote {
		c.status = code
		c.wrote = true
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(p []byte) (int, error) {
	c.wrote = true
	if !c.truncated {
		if c.body.Len()+len(p) > maxReplayedBody {
			c.truncated = true
			c.body.Reset()
		} else {
			c.body.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

func (c *responseCapture) stored() storedResponse {
	if c.truncated {
		return storedResponse{Status: c.status, Truncated: true}
	}
	return storedResponse{
		Status:      c.status,
		ContentType: c.Header().Get("Content-Type"),
		Body:        c.body.Bytes(),
	}
}
