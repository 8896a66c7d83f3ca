package ipc

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SharkByte561/MakeMeAdminCli/internal/broker"
)

// RateLimiter manages per-caller rate limiting keyed by uid.
type RateLimiter struct {
	callers         map[uint32]*rate.Limiter
	mu              sync.Mutex
	rps             rate.Limit
	burst           int
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		callers:         make(map[uint32]*rate.Limiter),
		rps:             rate.Limit(rps),
		burst:           burst,
		cleanupInterval: 10 * time.Minute,
	}

	go rl.cleanup()

	return rl
}

// GetLimiter returns the limiter for a uid
func (rl *RateLimiter) GetLimiter(uid uint32) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.callers[uid]
	if !exists {
		limiter = rate.NewLimiter(rl.rps, rl.burst)
		rl.callers[uid] = limiter
	}

	return limiter
}

// cleanup periodically resets the map; active callers get a fresh limiter
// on their next request.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	for range ticker.C {
		rl.mu.Lock()
		rl.callers = make(map[uint32]*rate.Limiter)
		rl.mu.Unlock()
	}
}

// RateLimitMiddleware creates a middleware for rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := GetPeerCred(r.Context())
			if ok && !rl.GetLimiter(cred.UID).Allow() {
				respondError(w, http.StatusTooManyRequests, broker.CodeTimeout, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
