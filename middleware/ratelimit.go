package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"nfcunha/vigil/utils/config"
)

type visitor struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// RateLimiter counts requests per route class and client IP in fixed
// windows. A class budget of N admits at most N requests per window.
type RateLimiter struct {
	enabled bool
	window  time.Duration
	budgets map[string]int

	mu       sync.Mutex
	visitors map[string]*visitor
}

// NewRateLimiter creates a limiter from the rate limit configuration.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		enabled:  cfg.Enabled,
		window:   cfg.Window,
		budgets:  cfg.Budgets,
		visitors: make(map[string]*visitor),
	}
}

// Limit throttles requests of the given class per client IP.
func (r *RateLimiter) Limit(class string) gin.HandlerFunc {
	return func(c *gin.Context) {
		budget := r.budget(class)
		if !r.enabled || budget <= 0 {
			c.Next()
			return
		}

		allowed, current, reset := r.take(class+":"+c.ClientIP(), budget, time.Now())

		c.Header("X-RateLimit-Limit", strconv.Itoa(budget))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(budget-current, 0)))

		if !allowed {
			retryAfter := max(int(math.Ceil(reset.Seconds())), 1)
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Too Many Requests",
				"limit":      budget,
				"current":    current,
				"retryAfter": retryAfter,
			})
			return
		}
		c.Next()
	}
}

// take counts one request against key at now. It reports whether the
// request fits the budget, the count in the current window including this
// request, and the time left until the window resets.
func (r *RateLimiter) take(key string, budget int, now time.Time) (bool, int, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.visitors[key]
	if !ok || now.Sub(v.windowStart) >= r.window {
		v = &visitor{windowStart: now}
		r.visitors[key] = v
	}
	v.lastSeen = now
	v.count++
	return v.count <= budget, v.count, v.windowStart.Add(r.window).Sub(now)
}

// Run sweeps idle visitors every window until ctx is done.
func (r *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(r.window); n > 0 {
				logrus.Debugf("Rate limiter dropped %d idle clients", n)
			}
		}
	}
}

// Sweep removes counters not used for longer than idle.
func (r *RateLimiter) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for key, v := range r.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(r.visitors, key)
			removed++
		}
	}
	return removed
}

func (r *RateLimiter) budget(class string) int {
	if b, ok := r.budgets[class]; ok {
		return b
	}
	return r.budgets[config.ClassGeneral]
}
