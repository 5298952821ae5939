package providers

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests for one client with a token bucket.
// It is local to the process; cross-worker backpressure after 429s is
// tracked separately in persistent provider state.
type RateLimiter struct {
	limiter *rate.Limiter
	rps     float64
}

// NewRateLimiter creates a limiter allowing rps requests per second.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64) *RateLimiter {
	if rps <= 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 1)}
	}
	burst := int(math.Max(1, math.Ceil(rps)))
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(rps), burst), rps: rps}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Drain empties the bucket so the next request waits a full refill interval.
// Called after the provider reports a rate limit.
func (r *RateLimiter) Drain() {
	now := time.Now()
	if n := int(r.limiter.TokensAt(now)); n > 0 {
		r.limiter.AllowN(now, n)
	}
}

// RPS returns the configured rate, zero when unlimited.
func (r *RateLimiter) RPS() float64 {
	return r.rps
}
