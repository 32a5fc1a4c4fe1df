package middleware

import (
	"net/http"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/tollgate-ai/tollgate/pkg/cache"
	"github.com/tollgate-ai/tollgate/pkg/config"
)

// NewRateLimiter limits request rate per tenant namespace. With Redis
// available the limit is enforced across all instances via redis_rate
// (GCRA); without it, a process-local token bucket is the fallback. Limits
// come from the live config store so hot reloads apply.
func NewRateLimiter(rdb *cache.Client, cfgStore *config.Store) func(http.Handler) http.Handler {
	var distributed *redis_rate.Limiter
	if rdb != nil {
		distributed = redis_rate.NewLimiter(rdb.Redis())
	}

	// Local fallback shared by all requests in this process, sized from
	// the config at startup.
	var local *rate.Limiter
	if cfg := cfgStore.Get(); cfg != nil && cfg.RateLimit.RPS > 0 {
		local = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cfg := cfgStore.Get()
			if cfg == nil || !cfg.RateLimit.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if distributed != nil {
				ns := r.Header.Get("X-Namespace")
				if ns == "" {
					ns = "default"
				}
				res, err := distributed.Allow(r.Context(), "ratelimit:"+ns, redis_rate.Limit{
					Rate:   int(cfg.RateLimit.RPS),
					Burst:  cfg.RateLimit.Burst,
					Period: time.Second,
				})
				// Redis down: let traffic through rather than fail closed.
				// Rate limiting is protection, not a dependency.
				if err == nil && res.Allowed == 0 {
					w.Header().Set("Retry-After", res.RetryAfter.String())
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			if local != nil && !local.Allow() {
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
