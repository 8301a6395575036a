package ratelimit

import "net/http"

// Middleware wraps next, rejecting with 429 any request whose
// identify(r) bucket is exhausted. identify typically resolves the
// request's public_id via the routing package.
func (l *Limiter) Middleware(identify func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		publicID := identify(r)
		if publicID == "" || l.Allow(publicID) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
	})
}
