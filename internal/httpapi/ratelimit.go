package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiter decides whether a keyed caller may proceed. The interface keeps
// the bookkeeping injectable: the in-memory window limiter below serves
// single-process deployments, and a shared cache can stand in behind the same
// contract for multi-process ones.
type RateLimiter interface {
	Allow(key string) bool
}

// WindowLimiter is a fixed-window in-memory limiter keyed by user.
type WindowLimiter struct {
	mu          sync.Mutex
	bins        map[string]*windowBin
	maxRequests int
	window      time.Duration
}

type windowBin struct {
	requests  int
	resetTime time.Time
}

// NewWindowLimiter creates a limiter allowing maxRequests per window per key.
func NewWindowLimiter(maxRequests int, window time.Duration) *WindowLimiter {
	limiter := &WindowLimiter{
		bins:        make(map[string]*windowBin),
		maxRequests: maxRequests,
		window:      window,
	}
	go limiter.cleanup()
	return limiter
}

// Allow reports whether the key is under its limit and counts the request.
func (limiter *WindowLimiter) Allow(key string) bool {
	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	now := time.Now()
	bin, exists := limiter.bins[key]
	if !exists || now.After(bin.resetTime) {
		limiter.bins[key] = &windowBin{
			requests:  1,
			resetTime: now.Add(limiter.window),
		}
		return true
	}
	if bin.requests >= limiter.maxRequests {
		return false
	}
	bin.requests++
	return true
}

func (limiter *WindowLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		now := time.Now()
		limiter.mu.Lock()
		for key, bin := range limiter.bins {
			if now.After(bin.resetTime) {
				delete(limiter.bins, key)
			}
		}
		limiter.mu.Unlock()
	}
}

// rateLimitMiddleware throttles mutating calls per authenticated user.
func rateLimitMiddleware(limiter RateLimiter) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, failure(errorKindUnauthorized, "missing session"))
			return
		}
		if !limiter.Allow(claims.Subject) {
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, failure(errorKindRateLimited, "slow down"))
			return
		}
		ctx.Next()
	}
}
