// Package metrics exposes Prometheus collectors for batch processing and
// aggregates per-batch usage into cost and latency summaries.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	globalCollectors *Collectors
	collectorsOnce   sync.Once
)

// Collectors holds the orchestrator's Prometheus metrics.
type Collectors struct {
	BatchesTotal     *prometheus.CounterVec
	AttemptsTotal    *prometheus.CounterVec
	RateLimitsTotal  *prometheus.CounterVec
	FallbacksTotal   *prometheus.CounterVec
	BackoffSeconds   *prometheus.HistogramVec
	CallDuration     *prometheus.HistogramVec
	TokensTotal      *prometheus.CounterVec
	CostUSDTotal     *prometheus.CounterVec
	RepairsTotal     *prometheus.CounterVec
	InvocationsTotal *prometheus.CounterVec
	StaleReleased    prometheus.Counter
	JobsMerged       prometheus.Counter
}

// NewCollectors creates and registers the collectors on the default
// registry. Registration happens once per process; later calls return the
// same instance.
//
// Metrics:
//   - takeoff_batches_total{status} - batches reaching a terminal state
//   - takeoff_attempts_total{provider,outcome} - model calls by outcome
//   - takeoff_rate_limits_total{provider} - 429 responses
//   - takeoff_fallbacks_total{provider,outcome} - fallback model calls
//   - takeoff_backoff_seconds{provider,kind} - time spent sleeping before calls
//   - takeoff_call_duration_seconds{provider} - model call latency
//   - takeoff_tokens_total{provider,model} - tokens consumed
//   - takeoff_cost_usd_total{provider,model} - estimated spend
//   - takeoff_repairs_total{strategy} - how model output was recovered
//   - takeoff_process_invocations_total{trigger} - processBatches calls
//   - takeoff_stale_batches_released_total - processing leases reclaimed
//   - takeoff_jobs_merged_total - final results persisted
func NewCollectors() *Collectors {
	collectorsOnce.Do(func() {
		globalCollectors = &Collectors{
			BatchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_batches_total",
					Help: "Batches that reached a terminal state",
				},
				[]string{"status"},
			),
			AttemptsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_attempts_total",
					Help: "Model call attempts by outcome",
				},
				[]string{"provider", "outcome"}, // success, rate_limited, error
			),
			RateLimitsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_rate_limits_total",
					Help: "Rate-limit responses received from providers",
				},
				[]string{"provider"},
			),
			FallbacksTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_fallbacks_total",
					Help: "Fallback model calls by outcome",
				},
				[]string{"provider", "outcome"}, // success, error, skipped
			),
			BackoffSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "takeoff_backoff_seconds",
					Help:    "Time slept before a model call",
					Buckets: prometheus.ExponentialBuckets(0.5, 2, 11), // 0.5s to ~8.5m
				},
				[]string{"provider", "kind"}, // backpressure, retry, rate_limit
			),
			CallDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "takeoff_call_duration_seconds",
					Help:    "Model call latency",
					Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
				},
				[]string{"provider"},
			),
			TokensTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_tokens_total",
					Help: "Tokens consumed by successful model calls",
				},
				[]string{"provider", "model"},
			),
			CostUSDTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_cost_usd_total",
					Help: "Estimated model spend in USD",
				},
				[]string{"provider", "model"},
			),
			RepairsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_repairs_total",
					Help: "Model outputs by the strategy that recovered them",
				},
				[]string{"strategy"},
			),
			InvocationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "takeoff_process_invocations_total",
					Help: "Batch processing invocations by trigger",
				},
				[]string{"trigger"},
			),
			StaleReleased: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "takeoff_stale_batches_released_total",
					Help: "Processing batches returned to pending after their lease expired",
				},
			),
			JobsMerged: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "takeoff_jobs_merged_total",
					Help: "Jobs whose final result was persisted",
				},
			),
		}
	})

	return globalCollectors
}

// ObserveAttempt records one model call.
func (c *Collectors) ObserveAttempt(provider, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.AttemptsTotal.WithLabelValues(provider, outcome).Inc()
	if d > 0 {
		c.CallDuration.WithLabelValues(provider).Observe(d.Seconds())
	}
	if outcome == "rate_limited" {
		c.RateLimitsTotal.WithLabelValues(provider).Inc()
	}
}

// ObserveUsage records tokens and spend of a successful call.
func (c *Collectors) ObserveUsage(provider, model string, tokens int, costUSD float64) {
	if c == nil {
		return
	}
	c.TokensTotal.WithLabelValues(provider, model).Add(float64(tokens))
	if costUSD > 0 {
		c.CostUSDTotal.WithLabelValues(provider, model).Add(costUSD)
	}
}

// ObserveBackoff records a sleep before a call.
func (c *Collectors) ObserveBackoff(provider, kind string, d time.Duration) {
	if c == nil || d <= 0 {
		return
	}
	c.BackoffSeconds.WithLabelValues(provider, kind).Observe(d.Seconds())
}

// ObserveFallback records a fallback call outcome.
func (c *Collectors) ObserveFallback(provider, outcome string) {
	if c == nil {
		return
	}
	c.FallbacksTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveBatch records a batch reaching a terminal state.
func (c *Collectors) ObserveBatch(status string) {
	if c == nil {
		return
	}
	c.BatchesTotal.WithLabelValues(status).Inc()
}

// ObserveRepair records the strategy that produced a batch result.
func (c *Collectors) ObserveRepair(strategy string) {
	if c == nil {
		return
	}
	c.RepairsTotal.WithLabelValues(strategy).Inc()
}

// ObserveInvocation counts a processBatches call.
func (c *Collectors) ObserveInvocation(trigger string) {
	if c == nil {
		return
	}
	c.InvocationsTotal.WithLabelValues(trigger).Inc()
}

// ObserveStaleReleased counts reclaimed leases.
func (c *Collectors) ObserveStaleReleased(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.StaleReleased.Add(float64(n))
}

// ObserveMerge counts a persisted final result.
func (c *Collectors) ObserveMerge() {
	if c == nil {
		return
	}
	c.JobsMerged.Inc()
}
