package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
)

// Middleware rejects requests with 429 once the key returned by keyFn has
// exhausted its bucket. An empty key is not limited. onLimited, when set,
// is called for every rejected request.
func Middleware(l *Limiter, keyFn func(*http.Request) string, onLimited func(*http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" || l.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}
			if onLimited != nil {
				onLimited(r)
			}
			wait := l.WaitTime(key)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "Too many requests. Please slow down."})
		})
	}
}
