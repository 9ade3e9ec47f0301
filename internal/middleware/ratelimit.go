package middleware

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter applies a fixed-window rate limit backed by Redis. The gateway
// callback route is limited per source IP to blunt signature brute forcing.
type RateLimiter struct {
	cache  redis.Cmdable
	prefix string
	limit  int
	window time.Duration
}

func NewRateLimiter(cache redis.Cmdable, prefix string, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		cache:  cache,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

// Limit enforces the rate limit, keyed by client IP and, when available, user ID.
// A Redis failure lets the request through.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			ip = host
		}

		key := "ratelimit:" + rl.prefix + ":" + ip
		if userID, ok := UserIDFromContext(r.Context()); ok {
			key += ":" + userID.String()
		}

		var incr *redis.IntCmd
		var ttl *redis.DurationCmd
		_, err := rl.cache.TxPipelined(r.Context(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(r.Context(), key)
			pipe.ExpireNX(r.Context(), key, rl.window)
			ttl = pipe.TTL(r.Context(), key)
			return nil
		})
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		count := incr.Val()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		if count > int64(rl.limit) {
			retry := ttl.Val()
			if retry <= 0 {
				retry = rl.window
			}
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds()+0.5)))
			jsonError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.limit-int(count)))

		next.ServeHTTP(w, r)
	})
}
