package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused per-user bucket is kept. It is far
// longer than any bucket takes to refill, so eviction never forgives debt.
const limiterIdleTTL = 30 * time.Minute

// UserRateLimiter is a token bucket per authenticated user.
type UserRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters *cache.Cache
}

// NewUserRateLimiter allows perMinute requests per user with the given burst.
// perMinute <= 0 disables limiting.
func NewUserRateLimiter(perMinute float64, burst int) *UserRateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(perMinute / 60)
	}
	return &UserRateLimiter{
		limit:    limit,
		burst:    burst,
		limiters: cache.New(limiterIdleTTL, limiterIdleTTL),
	}
}

func (l *UserRateLimiter) limiter(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(userID); ok {
		lim := v.(*rate.Limiter)
		l.limiters.SetDefault(userID, lim)
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(userID, lim)
	return lim
}

// Allow consumes a token for userID. When none is available it returns
// false and how long until one will be.
func (l *UserRateLimiter) Allow(userID string, now time.Time) (bool, time.Duration) {
	r := l.limiter(userID).ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Middleware rejects requests over the caller's budget with 429.
// It must run after AuthMiddleware.
func (l *UserRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := MustUserFromContext(r.Context())
		ok, wait := l.Allow(user.ID, time.Now())
		if !ok {
			slog.Warn("summary rate limit exceeded",
				"component", "api",
				"action", "rate_limit",
				"user_id", user.ID,
			)
			WriteProblemRateLimited(w, r, "Too many summary requests, retry later", wait.Seconds())
			return
		}
		next.ServeHTTP(w, r)
	})
}
