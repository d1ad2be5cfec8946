package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/technosupport/ts-curbside/internal/ratelimit"
)

type Limiter interface {
	HashIP(ip string) string
	Allow(ctx context.Context, key string, cfg ratelimit.LimitConfig) (*ratelimit.Decision, error)
}

// RateLimit throttles a route per client IP. Redis failures let the request through.
func RateLimit(l Limiter, scope string, cfg ratelimit.LimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil || cfg.Rate <= 0 || cfg.Window <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + l.HashIP(clientIP(r))
			d, err := l.Allow(r.Context(), key, cfg)
			if err != nil {
				log.Warn().Err(err).Str("scope", scope).Msg("rate limit check failed, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
