package middleware

import (
	"net"
	"net/http"

	"escrowflow/pkg/ratelimit"
)

// RateLimit ограничивает частоту запросов каждого клиента (по IP); сверх лимита - 429
func RateLimit(limiter *ratelimit.ClientLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(ClientIP(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP адрес клиента из RemoteAddr без порта.
// X-Forwarded-For не учитывается: его может подставить сам клиент.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
