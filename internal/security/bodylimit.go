package security

import (
	"net/http"

	"github.com/noah-isme/backend-kasir/internal/common"
)

// BodyLimit caps request payloads. Cart and checkout bodies are a few hundred bytes.
type BodyLimit struct {
	Max int64
}

// Middleware answers 413 for bodies declared larger than Max and wraps the rest in a
// reader that fails once Max is exceeded.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.Max <= 0 || r.Body == nil || r.Body == http.NoBody {
			next.ServeHTTP(w, r)
			return
		}
		if r.ContentLength > b.Max {
			common.JSONError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", map[string]any{"limit": b.Max})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		next.ServeHTTP(w, r)
	})
}
