package audit

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-kasir/internal/obs"
)

// HTTPRecorder records requests after they have been handled.
type HTTPRecorder struct {
	Service Service
	OnError func(error)
}

// HTTPConfig customises the entry produced for a route.
type HTTPConfig struct {
	Action          string
	ResourceType    string
	ResourceIDParam string
	MetadataFunc    func(*http.Request, int) map[string]any
}

// Middleware returns a chi middleware that records an entry per handled request.
func (r HTTPRecorder) Middleware(cfg HTTPConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !r.Service.Enabled {
				next.ServeHTTP(w, req)
				return
			}
			recorder := obs.NewStatusRecorder(w)
			next.ServeHTTP(recorder, req)

			resourceID := ""
			if cfg.ResourceIDParam != "" {
				resourceID = chi.URLParam(req, cfg.ResourceIDParam)
			}
			var metadata []byte
			if cfg.MetadataFunc != nil {
				if payload := cfg.MetadataFunc(req, recorder.Status()); payload != nil {
					metadata, _ = json.Marshal(payload)
				}
			}
			// the client may already be gone; the entry still lands
			ctx := context.WithoutCancel(req.Context())
			if err := r.Service.Record(ctx, req, cfg.Action, cfg.ResourceType, resourceID, recorder.Status(), metadata); err != nil && r.OnError != nil {
				r.OnError(err)
			}
		})
	}
}
