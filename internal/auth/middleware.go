package auth

import (
	"encoding/json"
	"net/http"
)

// QueryParam carries the key for clients that cannot set headers, such as a
// browser opening a WebSocket.
const QueryParam = "api_key"

// Middleware returns HTTP middleware enforcing the same rules as
// APIKeyInterceptor. The key is read from header, falling back to the
// api_key query parameter. Paths listed in open are never checked, and CORS
// preflight requests always pass.
func Middleware(mode, header, key string, open ...string) func(http.Handler) http.Handler {
	skip := make(map[string]bool, len(open))
	for _, p := range open {
		skip[p] = true
	}
	return func(next http.Handler) http.Handler {
		if !enforced(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(header)
			if got == "" {
				got = r.URL.Query().Get(QueryParam)
			}
			if got == "" || !equal(got, key) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
					"success": false,
					"error":   "unauthorized",
					"message": "invalid api key",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
