package oauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// NewLimiter returns a process-wide token bucket for WithRateLimit.
func NewLimiter(requestsPerSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// IdentityLimiter keeps one token bucket per identity, so one user
// exhausting a provider quota does not throttle the others.
type IdentityLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	limiters  map[string]*identityBucket
	lastSweep time.Time
}

type identityBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewIdentityLimiter returns a per-identity limiter. Buckets unused for
// three minutes are dropped.
func NewIdentityLimiter(requestsPerSecond float64, burst int) *IdentityLimiter {
	return &IdentityLimiter{
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		idle:     3 * time.Minute,
		now:      time.Now,
		limiters: make(map[string]*identityBucket),
	}
}

// Wait blocks until the identity carried by ctx may send a request.
func (l *IdentityLimiter) Wait(ctx context.Context) error {
	return l.bucket(IdentityFrom(ctx)).Wait(ctx)
}

// Allow reports whether identity may send a request now.
func (l *IdentityLimiter) Allow(identity string) bool {
	return l.bucket(identity).Allow()
}

// Len returns the number of tracked identities.
func (l *IdentityLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *IdentityLimiter) bucket(identity string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > l.idle {
		for key, b := range l.limiters {
			if now.Sub(b.lastSeen) > l.idle {
				delete(l.limiters, key)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.limiters[identity]
	if !ok {
		b = &identityBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[identity] = b
	}
	b.lastSeen = now
	return b.limiter
}
