package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/store"
)

// Backoff parameters.
const (
	RateLimitBaseDelay = 60 * time.Second
	RateLimitMaxJitter = 10 * time.Second
	RateLimitMaxDelay  = 300 * time.Second

	RetryBaseDelay = time.Second
	RetryMaxDelay  = 30 * time.Second
)

// RateLimitBackoff is the wait after the n-th consecutive rate limit:
// min(60s * 2^(n-1) + jitter, 300s).
func RateLimitBackoff(consecutive int, jitter time.Duration) time.Duration {
	if consecutive < 1 {
		consecutive = 1
	}
	shift := consecutive - 1
	if shift > 8 {
		shift = 8 // already far past the cap
	}
	d := RateLimitBaseDelay<<uint(shift) + jitter
	if d > RateLimitMaxDelay {
		return RateLimitMaxDelay
	}
	return d
}

// RetryBackoff is the wait after a failed attempt (0-indexed):
// min(1s * 2^attempt, 30s).
func RetryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 8 {
		return RetryMaxDelay
	}
	d := RetryBaseDelay << uint(attempt)
	if d > RetryMaxDelay {
		return RetryMaxDelay
	}
	return d
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LimiterConfig configures a ProviderLimiter.
type LimiterConfig struct {
	Store   store.Store
	Metrics *metrics.Collectors
	Logger  *slog.Logger

	// Test hooks.
	Now    func() time.Time
	Sleep  SleepFunc
	Jitter func(max time.Duration) time.Duration
}

// ProviderLimiter applies backpressure learned from rate limits. State lives
// in the store so every batch and every worker process sees the same
// backoff for a provider. Reads may be stale and writes are last-writer
// wins; an occasional extra 429 is acceptable.
type ProviderLimiter struct {
	store   store.Store
	metrics *metrics.Collectors
	logger  *slog.Logger
	now     func() time.Time
	sleep   SleepFunc
	jitter  func(max time.Duration) time.Duration
}

// NewProviderLimiter creates a limiter.
func NewProviderLimiter(cfg LimiterConfig) *ProviderLimiter {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Jitter == nil {
		cfg.Jitter = func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		}
	}
	return &ProviderLimiter{
		store:   cfg.Store,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     func() time.Time { return cfg.Now().UTC() },
		sleep:   cfg.Sleep,
		jitter:  cfg.Jitter,
	}
}

// BackoffRemaining returns how long the provider is still backed off.
func (l *ProviderLimiter) BackoffRemaining(ctx context.Context, provider string) (time.Duration, error) {
	st, err := l.store.GetProviderState(ctx, provider)
	if err != nil {
		return 0, fmt.Errorf("read rate-limit state for %s: %w", provider, err)
	}
	if st == nil || st.BackoffUntil == nil {
		return 0, nil
	}
	if d := st.BackoffUntil.Sub(l.now()); d > 0 {
		return d, nil
	}
	return 0, nil
}

// CheckBackpressure blocks until the provider's backoff has passed. It
// returns how long it waited. A failed state read lets the caller proceed.
func (l *ProviderLimiter) CheckBackpressure(ctx context.Context, provider string) (time.Duration, error) {
	wait, err := l.BackoffRemaining(ctx, provider)
	if err != nil {
		l.logger.Warn("backpressure check failed, proceeding", "provider", provider, "error", err)
		return 0, nil
	}
	if wait <= 0 {
		return 0, nil
	}
	l.logger.Info("provider backed off, waiting", "provider", provider, "wait", wait.Round(time.Second))
	l.metrics.ObserveBackoff(provider, "backpressure", wait)
	if err := l.sleep(ctx, wait); err != nil {
		return 0, err
	}
	return wait, nil
}

// RecordSuccess resets the provider's consecutive rate-limit count.
func (l *ProviderLimiter) RecordSuccess(ctx context.Context, provider string) error {
	st, err := l.store.GetProviderState(ctx, provider)
	if err != nil {
		return fmt.Errorf("read rate-limit state for %s: %w", provider, err)
	}
	if st == nil || st.Consecutive429s == 0 {
		return nil
	}
	st.Consecutive429s = 0
	st.UpdatedAt = l.now()
	if err := l.store.UpsertProviderState(ctx, st); err != nil {
		return fmt.Errorf("reset rate-limit state for %s: %w", provider, err)
	}
	return nil
}

// RecordRateLimit counts a rate limit and pushes the provider's backoff out.
// It returns the state written.
func (l *ProviderLimiter) RecordRateLimit(ctx context.Context, provider string) (*store.ProviderState, error) {
	st, err := l.store.GetProviderState(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("read rate-limit state for %s: %w", provider, err)
	}
	if st == nil {
		st = &store.ProviderState{Provider: provider}
	}

	now := l.now()
	st.Consecutive429s++
	delay := RateLimitBackoff(st.Consecutive429s, l.jitter(RateLimitMaxJitter))
	until := now.Add(delay)
	if st.BackoffUntil == nil || until.After(*st.BackoffUntil) {
		st.BackoffUntil = &until
	}
	st.Last429At = &now
	st.UpdatedAt = now

	if err := l.store.UpsertProviderState(ctx, st); err != nil {
		return st, fmt.Errorf("record rate limit for %s: %w", provider, err)
	}
	l.logger.Warn("provider rate limited", "provider", provider,
		"consecutive", st.Consecutive429s, "backoff", delay.Round(time.Second))
	return st, nil
}
