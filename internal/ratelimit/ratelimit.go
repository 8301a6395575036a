// Package ratelimit throttles public ingress traffic per public_id,
// grounded on osa911-giraffecloud's and NVIDIA-OSMO's use of
// golang.org/x/time/rate for token-bucket limiting, generalized from a
// single global limiter to one bucket per tunnel so a noisy tunnel
// cannot starve the others.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per public_id, created lazily on
// first use and removed only by Forget.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	rps     rate.Limit
	burst   int
}

// New creates a per-public_id limiter allowing ratePerSecond sustained
// requests with burst as the bucket size. ratePerSecond <= 0 disables
// limiting entirely (Allow always returns true).
func New(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
		rps:     rate.Limit(ratePerSecond),
		burst:   burst,
	}
}

// Allow reports whether a request for publicID may proceed right now,
// consuming one token if so.
func (l *Limiter) Allow(publicID string) bool {
	if l.rps <= 0 {
		return true
	}
	return l.bucketFor(publicID).Allow()
}

func (l *Limiter) bucketFor(publicID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[publicID]
	if !ok {
		b = rate.NewLimiter(l.rps, l.burst)
		l.buckets[publicID] = b
	}
	return b
}

// Forget drops publicID's bucket, for use when its tunnel disconnects
// so a reconnecting client starts with a fresh allowance rather than
// inheriting a starved one (or, symmetrically, memory is reclaimed for
// tunnels that never come back).
func (l *Limiter) Forget(publicID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, publicID)
}
