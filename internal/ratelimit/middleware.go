package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// Handler enforces a per-key limit in front of a route.
type Handler struct {
	Limiter Limiter
	Window  time.Duration
	Max     int
	// Key derives the bucket from the request. An empty key skips limiting.
	Key     func(*http.Request) string
	OnError func(error)
}

// ByCashier keys buckets by the authenticated cashier, falling back to the client IP.
func ByCashier(r *http.Request) string {
	if id, ok := common.UserID(r.Context()); ok && id != "" {
		return "cashier:" + id
	}
	return "ip:" + common.ClientIP(r)
}

// Middleware implements chi middleware. Limiter failures let the request through.
func (h Handler) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keyFn := h.Key
		if keyFn == nil {
			keyFn = ByCashier
		}
		key := keyFn(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Allow(r.Context(), key, h.Window, h.Max)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(max(h.Max, 0)))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
		if !d.Allowed {
			headers.Set("Retry-After", strconv.Itoa(max(int(h.Window.Seconds()), 1)))
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
