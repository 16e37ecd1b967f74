package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/flock/pkg/contextkeys"
	"github.com/platinummonkey/flock/pkg/httputil"
	"github.com/platinummonkey/flock/pkg/observability"
)

// TenantRateLimiter is a fixed-window request counter per tenant, shared
// across instances through Redis
type TenantRateLimiter struct {
	redis    *redis.Client
	limit    int
	window   time.Duration
	prefix   string
	logger   *observability.Logger
	failOpen bool
}

// NewTenantRateLimiter allows limit requests per tenant per window
func NewTenantRateLimiter(client *redis.Client, limit int, window time.Duration, logger *observability.Logger) *TenantRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &TenantRateLimiter{
		redis:    client,
		limit:    limit,
		window:   window,
		prefix:   "flock:ratelimit",
		logger:   logger,
		failOpen: true,
	}
}

// Allow counts one request for key and reports whether it is within the limit
// along with the requests remaining in the window
func (rl *TenantRateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	bucket := time.Now().UnixNano() / int64(rl.window)
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, bucket)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return rl.failOpen, 0, fmt.Errorf("redis error: %w", err)
	}

	count := int(incr.Val())
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.limit, remaining, nil
}

// Handler rejects requests over the tenant's limit with 429. Redis failures
// let the request through.
func (rl *TenantRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := contextkeys.GetTenantID(r.Context())
		if tenantID == "" || rl.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, err := rl.Allow(r.Context(), "tenant:"+tenantID)
		if err != nil {
			rl.logger.WithError(err).Warn("Rate limiter unavailable")
			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "Service temporarily unavailable")
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
