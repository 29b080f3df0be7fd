// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements an in-memory, per-identity token-bucket limiter with
// opportunistic garbage collection. The same type serves the global request
// limit and the per-actor registration cooldown (a bucket of one token that
// refills once per cooldown).
//
// The limiter is process-local; one verifier instance serves one community.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// keyFunc selects the bucket identity for a request.
type keyFunc func(*gin.Context) string

// KeyByActorOrIP prefers the gateway actor and falls back to the client IP.
// Keys are prefixed so the namespaces cannot collide.
func KeyByActorOrIP() keyFunc {
	return func(c *gin.Context) string {
		if id := ActorFrom(c); id != "" {
			return "actor:" + id
		}
		return "ip:" + c.ClientIP()
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a per-key token-bucket limiter. Safe for concurrent use.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	keyFn    keyFunc
	mu       sync.Mutex
	visitors map[string]*visitor

	ttl      time.Duration
	cleanupN uint64

	code       string
	message    string
	retryAfter int
	now        func() time.Time
}

// NewRateLimiter allows rps requests per second with the given burst per key.
// burst <= 0 is coerced to 1.
func NewRateLimiter(rps float64, burst int, keyFn keyFunc) *RateLimiter {
	return newLimiter(rate.Limit(rps), burst, keyFn, "rate_limited", "rate limit exceeded", 1, 10*time.Minute)
}

// NewCooldown allows one request per key every d. Idle keys are evicted
// once their bucket has refilled.
func NewCooldown(d time.Duration, keyFn keyFunc) *RateLimiter {
	ttl := 10 * time.Minute
	if d > ttl {
		ttl = d
	}
	secs := int(math.Ceil(d.Seconds()))
	return newLimiter(rate.Every(d), 1, keyFn, "cooldown", "please wait before trying again", secs, ttl)
}

func newLimiter(limit rate.Limit, burst int, keyFn keyFunc, code, msg string, retryAfter int, ttl time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &RateLimiter{
		limit:      limit,
		burst:      burst,
		keyFn:      keyFn,
		visitors:   make(map[string]*visitor),
		ttl:        ttl,
		code:       code,
		message:    msg,
		retryAfter: retryAfter,
		now:        time.Now,
	}
}

// getVisitor returns the limiter for key, creating it if absent. Every ~5000
// lookups idle entries are evicted first, so a stale bucket is dropped even
// when it is the one being fetched.
func (rl *RateLimiter) getVisitor(key string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.cleanupN++
	if rl.cleanupN >= 5000 {
		for k, vv := range rl.visitors {
			if now.Sub(vv.lastSeen) >= rl.ttl {
				delete(rl.visitors, k)
			}
		}
		rl.cleanupN = 0
	}

	if v, ok := rl.visitors[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	lim := rate.NewLimiter(rl.limit, rl.burst)
	rl.visitors[key] = &visitor{limiter: lim, lastSeen: now}
	return lim
}

// Handler enforces the limit, answering 429 with Retry-After when a bucket
// is empty.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := rl.now()
		if rl.getVisitor(rl.keyFn(c), now).AllowN(now, 1) {
			c.Next()
			return
		}
		c.Header("Retry-After", strconv.Itoa(rl.retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get(requestIDHeader),
			"code":       rl.code,
			"message":    rl.message,
		})
	}
}
