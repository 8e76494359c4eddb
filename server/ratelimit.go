package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTimeout = 5 * time.Minute
	limiterMaxEntries  = 10000
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// ipRateLimiter keeps one token bucket per client IP. Idle buckets are swept when the
// table grows past limiterMaxEntries.
type ipRateLimiter struct {
	lock     sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	nowFunc  func() time.Time
}

func newIPRateLimiter(requestsPerSecond float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(requestsPerSecond),
		burst:    burst,
		nowFunc:  time.Now,
	}
}

// Allow reports whether ip may make another request. A zero rate disables limiting.
func (l *ipRateLimiter) Allow(ip string) bool {
	if l.rps <= 0 {
		return true
	}
	now := l.nowFunc()

	l.lock.Lock()
	defer l.lock.Unlock()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= limiterMaxEntries {
			l.sweep(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	return entry.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) sweep(now time.Time) {
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastAccess) > limiterIdleTimeout {
			delete(l.limiters, ip)
		}
	}
}
