// Package requesttime pins a single "now" per HTTP request so that every
// verification stage, ledger entry and stored record share one timestamp.
package requesttime

import (
	"net/http"
	"time"

	"attendguard/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
