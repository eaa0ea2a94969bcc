package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries the per-request id in both directions
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestIDMiddleware reuses a well-formed incoming X-Request-ID or generates one
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
			c.Request.Header.Set(RequestIDHeader, id)
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RateLimiter stores rate limiters per client IP
type RateLimiter struct {
	limiters map[string]*clientLimiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	lastGC   time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter set; entries idle for longer than ttl are dropped
func NewRateLimiter(rateLimit rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*clientLimiter),
		rate:     rateLimit,
		burst:    burst,
		ttl:      ttl,
		lastGC:   time.Now(),
	}
}

// Allow reports whether ip may make a request now
func (rl *RateLimiter) Allow(ip string) bool {
	return rl.getLimiter(ip, time.Now()).Allow()
}

// getLimiter returns the rate limiter for the given IP, creating one if needed
func (rl *RateLimiter) getLimiter(ip string, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) > rl.ttl {
		for key, cl := range rl.limiters {
			if now.Sub(cl.lastSeen) > rl.ttl {
				delete(rl.limiters, key)
			}
		}
		rl.lastGC = now
	}

	cl, exists := rl.limiters[ip]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimitMiddleware creates a middleware that rate limits requests by client IP
func RateLimitMiddleware(requestsPerMinute int, burst int) gin.HandlerFunc {
	if burst < 1 {
		burst = 1
	}
	// Convert requests per minute to rate.Limit
	rateLimit := rate.Every(time.Minute / time.Duration(requestsPerMinute))
	limiter := NewRateLimiter(rateLimit, burst, 15*time.Minute)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = c.RemoteIP()
		}

		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}
