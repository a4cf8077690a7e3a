package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/rotapool/backend/pkg/response"
)

const (
	limiterSweepInterval = 3 * time.Minute
	limiterStaleAfter    = 5 * time.Minute
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per client IP with a token bucket. It
// guards the unauthenticated auth endpoints against credential stuffing;
// authenticated routes are not limited.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*clientBucket
	rps     rate.Limit
	burst   int
}

// NewRateLimiter allows rps requests per second per IP with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		buckets: make(map[string]*clientBucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go rl.sweep()
	return rl
}

func (rl *RateLimiter) bucketFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

// sweep drops buckets for IPs not seen recently so the map stays bounded.
func (rl *RateLimiter) sweep() {
	for range time.Tick(limiterSweepInterval) {
		rl.mu.Lock()
		for ip, b := range rl.buckets {
			if time.Since(b.lastSeen) > limiterStaleAfter {
				delete(rl.buckets, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.bucketFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, response.Response{
				Code:    http.StatusTooManyRequests,
				Message: "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
