package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Subscription endpoints allow a burst of 5 requests per IP, refilling one
// every 12 minutes (5 per hour).
const (
	limiterBurst  = 5
	limiterRefill = 12 * time.Minute
	limiterMaxIPs = 10000
)

// ipRateLimiter keeps a token bucket per client IP.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newIPRateLimiter() *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Crude bound on memory: reset everything rather than track LRU state.
	if len(l.limiters) >= limiterMaxIPs {
		l.limiters = make(map[string]*rate.Limiter)
	}

	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(limiterRefill), limiterBurst)
		l.limiters[ip] = lim
	}
	return lim.Allow()
}
