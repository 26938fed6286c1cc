package middleware

import (
	"net/http"
	"sync"
	"time"

	"famtool-server/internal/rpc"

	"github.com/gin-gonic/gin"
)

// RateLimiter is a fixed-window counter per key. Expired windows are swept
// lazily, at most once per window.
type RateLimiter struct {
	mu        sync.Mutex
	requests  map[string]*requestInfo
	limit     int
	window    time.Duration
	now       func() time.Time
	nextSweep time.Time
}

type requestInfo struct {
	count   int
	resetAt time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return NewRateLimiterWithNow(limit, window, time.Now)
}

func NewRateLimiterWithNow(limit int, window time.Duration, now func() time.Time) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string]*requestInfo),
		limit:    limit,
		window:   window,
		now:      now,
	}
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Before(rl.nextSweep) {
		return
	}
	for key, info := range rl.requests {
		if now.After(info.resetAt) {
			delete(rl.requests, key)
		}
	}
	rl.nextSweep = now.Add(rl.window)
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)
	info, exists := rl.requests[key]
	if !exists || now.After(info.resetAt) {
		rl.requests[key] = &requestInfo{count: 1, resetAt: now.Add(rl.window)}
		return true
	}

	if info.count >= rl.limit {
		return false
	}

	info.count++
	return true
}

// Tracked reports how many keys hold a live window.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.requests)
}

// RateLimitMiddleware limits by client ip.
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return RateLimitBy(rl, func(c *gin.Context) string { return c.ClientIP() })
}

// RateLimitBy limits by the key fn derives from the request. Requests with an
// empty key pass.
func RateLimitBy(rl *RateLimiter, fn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fn(c)
		if key != "" && !rl.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": rpc.Errorf(rpc.ResourceExhausted, "Rate limit exceeded")})
			return
		}
		c.Next()
	}
}

// DeviceKey keys a device-authenticated request by account and device.
func DeviceKey(c *gin.Context) string {
	uid, device, ok := DeviceFromContext(c)
	if !ok {
		return ""
	}
	return uid + "/" + device
}
