package common

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles calls to a downstream service, such as remote
// directory listings. Limits are adjustable at runtime so callers can back
// off when the remote starts pushing back.
type RateLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing rps events per second with the
// given burst capacity.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until an event is permitted or ctx is canceled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.limiter.Wait(ctx)
}

// UpdateLimits replaces the rate and burst in place. Waiters already queued
// observe the new limits on their next reservation.
func (rl *RateLimiter) UpdateLimits(rps float64, burst int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limiter.SetLimit(rate.Limit(rps))
	rl.limiter.SetBurst(burst)
}
