package obs

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Route returns the chi pattern matched for r, or fallback when none is known.
// Middleware mounted with Use only sees the pattern once next has returned, since
// chi fills the shared route context while it descends into sub-routers.
func Route(r *http.Request, fallback string) string {
	if r == nil {
		return fallback
	}
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return fallback
}
