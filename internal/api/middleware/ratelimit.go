package middleware

import (
	"encoding/json"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/tenantgate/internal/metrics"
	"github.com/nikhilbhutani/tenantgate/internal/ratelimit"
)

type RateLimiter struct {
	limiter ratelimit.Limiter
	tiers   ratelimit.Tiers
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewRateLimiter(limiter ratelimit.Limiter, tiers ratelimit.Tiers, m *metrics.Metrics, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{limiter: limiter, tiers: tiers, metrics: m, logger: logger}
}

// Limit applies the tier matching the request path, keyed by tier and client
// IP. Limiter failures let the request through.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tier, ok := rl.tiers.For(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		key := tier.Name + ":" + clientIP(r)
		res, err := rl.limiter.Allow(r.Context(), key, tier.Limit, tier.Window)
		if err != nil {
			rl.logger.Error("rate limiter failed", "key", key, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

		if !res.Allowed {
			rl.metrics.IncRateLimited(tier.Name)
			h.Set("Content-Type", "application/json")
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr, which chi's RealIP has already
// replaced with the forwarded address when one was sent.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
