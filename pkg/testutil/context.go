package testutil

import (
	"net/http"
	"time"

	"attendguard/pkg/requestcontext"
)

// PinRequest is middleware that fixes the request clock to now and, when
// admin is non-empty, marks the request as coming from that administrator.
// It stands in for the requesttime and admin auth middleware in handler tests.
func PinRequest(now time.Time, admin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := requestcontext.WithTime(r.Context(), now)
			if admin != "" {
				ctx = requestcontext.WithAdmin(ctx, admin)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
