package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/pages"
	"github.com/jackzampolin/takeoff/internal/providers"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// PageSource loads page content for a batch.
type PageSource interface {
	LoadPages(ctx context.Context, ref string, start, end int) ([]pages.Page, error)
}

// ModelResolver maps a model id to a registered client, the registry name
// it is keyed under and the model name to send.
type ModelResolver interface {
	Resolve(id string) (providers.Target, error)
}

// DefaultStaleAfter is how long a batch may go without a lease renewal
// before another invocation may reclaim it.
const DefaultStaleAfter = 15 * time.Minute

// leaseFor is the processing lease for a job's batches. The worker renews
// the lease before every wait and every model call, so the longest gap
// between renewals is one rate-limit wait or one call; the lease never
// drops below twice that.
func (w *Worker) leaseFor(job *store.Job) time.Duration {
	timeout := job.BatchConfig.Timeout()
	if timeout <= 0 {
		timeout = time.Duration(DefaultTimeoutSeconds) * time.Second
	}
	floor := 2 * (RateLimitMaxDelay + timeout)
	if w.staleAfter < floor {
		return floor
	}
	return w.staleAfter
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Store   store.Store
	Manager *Manager
	Pages   PageSource
	Models  ModelResolver
	Limiter *ProviderLimiter
	Metrics *metrics.Collectors
	Logger  *slog.Logger

	// StaleAfter is the processing lease. Zero uses DefaultStaleAfter; a
	// negative value disables reclaiming.
	StaleAfter time.Duration

	// Test hooks.
	Now   func() time.Time
	Sleep SleepFunc
}

// Worker claims and processes batches. It holds no state between calls:
// each ProcessBatches invocation does a bounded amount of work and returns.
type Worker struct {
	store      store.Store
	manager    *Manager
	pages      PageSource
	models     ModelResolver
	limiter    *ProviderLimiter
	metrics    *metrics.Collectors
	logger     *slog.Logger
	staleAfter time.Duration
	now        func() time.Time
	sleep      SleepFunc
}

// NewWorker creates a batch worker.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewProviderLimiter(LimiterConfig{
			Store:   cfg.Store,
			Metrics: cfg.Metrics,
			Logger:  cfg.Logger,
			Now:     cfg.Now,
			Sleep:   cfg.Sleep,
		})
	}
	return &Worker{
		store:      cfg.Store,
		manager:    cfg.Manager,
		pages:      cfg.Pages,
		models:     cfg.Models,
		limiter:    cfg.Limiter,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
		staleAfter: cfg.StaleAfter,
		now:        func() time.Time { return cfg.Now().UTC() },
		sleep:      cfg.Sleep,
	}
}

// ProcessResult reports what one ProcessBatches call did.
type ProcessResult struct {
	JobID           string          `json:"job_id"`
	Claimed         int             `json:"claimed"`
	Completed       int             `json:"completed"`
	Failed          int             `json:"failed"`
	Released        int             `json:"released"`
	Pending         int             `json:"pending"`
	Processing      int             `json:"processing"`
	TimedOut        bool            `json:"timed_out"`
	Status          store.JobStatus `json:"status"`
	ProgressPercent int             `json:"progress_percent"`
}

// Done reports whether every batch reached a terminal state, so the job
// can be merged.
func (r *ProcessResult) Done() bool {
	return r.Pending == 0 && r.Processing == 0
}

// ProcessBatches claims up to min(maxBatches, concurrency) batches and
// processes them concurrently. No new batch is started once timeout has
// elapsed; batches already started run to completion. Job progress is
// always recomputed before returning.
//
// A failed batch never fails the call: per-batch errors are logged and
// counted.
func (w *Worker) ProcessBatches(ctx context.Context, jobID string, maxBatches int, timeout time.Duration) (res *ProcessResult, err error) {
	started := w.now()
	res = &ProcessResult{JobID: jobID}
	logger := w.logger.With("job_id", jobID)

	job, err := w.manager.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == store.JobFailed {
		return nil, fmt.Errorf("%w: job %s is failed", ErrJobClosed, jobID)
	}

	defer func() {
		if perr := w.finish(ctx, jobID, res); perr != nil && err == nil {
			err = perr
		}
	}()

	if job.Status == store.JobComplete {
		return res, nil
	}

	if w.staleAfter > 0 {
		n, err := w.store.ReleaseStaleBatches(ctx, jobID, started.Add(-w.leaseFor(job)), started)
		if err != nil {
			return res, fmt.Errorf("release stale batches: %w", err)
		}
		if n > 0 {
			logger.Warn("released stale batches", "count", n)
			w.metrics.ObserveStaleReleased(n)
		}
		res.Released = n
	}

	if _, err := w.store.MarkJobRunning(ctx, jobID, started); err != nil {
		return res, fmt.Errorf("mark job running: %w", err)
	}

	limit := job.BatchConfig.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	if maxBatches > 0 && maxBatches < limit {
		limit = maxBatches
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 0; i < limit; i++ {
		if timeout > 0 && w.now().Sub(started) >= timeout {
			res.TimedOut = true
			logger.Info("time budget spent, not starting more batches", "started", res.Claimed)
			break
		}
		b, err := w.store.ClaimBatch(ctx, jobID, uuid.New().String(), w.now())
		if err != nil {
			wg.Wait()
			return res, fmt.Errorf("claim batch: %w", err)
		}
		if b == nil {
			break
		}
		res.Claimed++

		wg.Add(1)
		go func(b *store.Batch) {
			defer wg.Done()
			err := w.processBatchWithRetries(ctx, job, b)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				res.Completed++
			case errors.Is(err, store.ErrClaimLost):
				logger.Warn("batch reclaimed by another worker", "batch", b.BatchIndex)
			case ctx.Err() != nil:
				logger.Info("batch interrupted", "batch", b.BatchIndex, "error", err)
			default:
				res.Failed++
				logger.Error("batch failed", "batch", b.BatchIndex,
					"pages", fmt.Sprintf("%d-%d", b.PageStart, b.PageEnd), "error", err)
			}
		}(b)
	}
	wg.Wait()

	logger.Info("batch processing finished", "claimed", res.Claimed, "completed", res.Completed,
		"failed", res.Failed, "elapsed", w.now().Sub(started).Round(time.Millisecond))
	return res, nil
}

// finish recomputes progress and counts what is left. It runs even when the
// caller's context is done.
func (w *Worker) finish(ctx context.Context, jobID string, res *ProcessResult) error {
	ctx = context.WithoutCancel(ctx)
	job, err := w.manager.UpdateJobProgress(ctx, jobID)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	res.Status = job.Status
	res.ProgressPercent = job.ProgressPercent

	batches, err := w.store.ListBatches(ctx, jobID)
	if err != nil {
		return fmt.Errorf("list batches: %w", err)
	}
	res.Pending, res.Processing = 0, 0
	for _, b := range batches {
		switch b.Status {
		case store.BatchPending:
			res.Pending++
		case store.BatchProcessing:
			res.Processing++
		}
	}
	return nil
}

// attemptOutput is a validated batch result ready to persist.
type attemptOutput struct {
	result  *takeoff.Result
	metrics *store.BatchMetrics
}

// processBatchWithRetries drives one claimed batch to completed or failed.
// Each of max_retries attempts calls the primary model. A rate limit records
// provider backpressure, waits it out, then tries the first fallback model
// once with freshly loaded pages. Other errors back off and retry.
func (w *Worker) processBatchWithRetries(ctx context.Context, job *store.Job, b *store.Batch) error {
	logger := w.logger.With("job_id", job.ID, "batch", b.BatchIndex)
	policy := job.ModelPolicy
	maxRetries := job.BatchConfig.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	primary, err := w.models.Resolve(policy.Primary)
	if err != nil {
		return w.failBatch(ctx, b, 0, fmt.Errorf("resolve primary model: %w", err))
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		b.RetryCount = attempt
		if err := w.saveBatch(ctx, b); err != nil {
			return err
		}

		if waited, err := w.limiter.CheckBackpressure(ctx, primary.Provider); err != nil {
			return w.releaseBatch(b, err)
		} else if waited > 0 {
			logger.Debug("waited for provider backoff", "provider", primary.Provider, "waited", waited)
			if err := w.saveBatch(ctx, b); err != nil {
				return err
			}
		}

		out, err := w.attempt(ctx, job, b, primary, attempt)
		if err == nil {
			return w.completeBatch(ctx, b, out, primary.Provider)
		}
		if ctx.Err() != nil {
			return w.releaseBatch(b, ctx.Err())
		}
		lastErr = err

		if rle, ok := providers.IsRateLimitError(err); ok {
			logger.Warn("rate limited", "provider", primary.Provider, "attempt", attempt, "retry_after", rle.RetryAfter)
			if err := w.saveBatch(ctx, b); err != nil {
				return err
			}
			if err := w.waitOutRateLimit(ctx, primary.Provider); err != nil {
				return w.releaseBatch(b, err)
			}
			if err := w.saveBatch(ctx, b); err != nil {
				return err
			}

			out, ferr := w.tryFallback(ctx, job, b, attempt, logger)
			if ferr == nil {
				return w.completeBatch(ctx, b, out, out.metrics.Provider)
			}
			if ctx.Err() != nil {
				return w.releaseBatch(b, ctx.Err())
			}
			if !errors.Is(ferr, errNoFallback) {
				lastErr = fmt.Errorf("%w (fallback: %v)", err, ferr)
			}
			continue
		}

		logger.Warn("attempt failed", "attempt", attempt, "error", err)
		if attempt < maxRetries-1 {
			delay := RetryBackoff(attempt)
			w.metrics.ObserveBackoff(primary.Provider, "retry", delay)
			if err := w.saveBatch(ctx, b); err != nil {
				return err
			}
			if err := w.sleep(ctx, delay); err != nil {
				return w.releaseBatch(b, err)
			}
		}
	}

	return w.failBatch(ctx, b, maxRetries, lastErr)
}

// waitOutRateLimit records the event and sleeps until the new backoff ends.
func (w *Worker) waitOutRateLimit(ctx context.Context, provider string) error {
	st, err := w.limiter.RecordRateLimit(ctx, provider)
	if err != nil {
		w.logger.Warn("failed to record rate limit", "provider", provider, "error", err)
	}
	delay := RateLimitBackoff(1, 0)
	if st != nil && st.BackoffUntil != nil {
		delay = st.BackoffUntil.Sub(w.now())
	}
	w.metrics.ObserveBackoff(provider, "rate_limit", delay)
	return w.sleep(ctx, delay)
}

var errNoFallback = errors.New("no fallback model")

// tryFallback calls the first fallback model. It is skipped when none is
// configured or its provider is itself backed off.
func (w *Worker) tryFallback(ctx context.Context, job *store.Job, b *store.Batch, attempt int, logger *slog.Logger) (*attemptOutput, error) {
	if len(job.ModelPolicy.Fallbacks) == 0 {
		return nil, errNoFallback
	}
	target, err := w.models.Resolve(job.ModelPolicy.Fallbacks[0])
	if err != nil {
		logger.Warn("fallback model unavailable", "model", job.ModelPolicy.Fallbacks[0], "error", err)
		return nil, fmt.Errorf("resolve fallback model: %w", err)
	}

	if remaining, err := w.limiter.BackoffRemaining(ctx, target.Provider); err == nil && remaining > 0 {
		logger.Info("fallback provider backed off, skipping", "provider", target.Provider, "remaining", remaining.Round(time.Second))
		w.metrics.ObserveFallback(target.Provider, "skipped")
		return nil, fmt.Errorf("fallback provider %s backed off for %s", target.Provider, remaining.Round(time.Second))
	}

	logger.Info("trying fallback model", "provider", target.Provider, "model", target.Model)
	out, err := w.attempt(ctx, job, b, target, attempt)
	if err != nil {
		w.metrics.ObserveFallback(target.Provider, "error")
		if _, ok := providers.IsRateLimitError(err); ok {
			if _, rerr := w.limiter.RecordRateLimit(ctx, target.Provider); rerr != nil {
				logger.Warn("failed to record rate limit", "provider", target.Provider, "error", rerr)
			}
		}
		return nil, err
	}
	w.metrics.ObserveFallback(target.Provider, "success")
	out.metrics.UsedFallback = true
	return out, nil
}

// attempt loads the batch's pages, calls one model and repairs its output.
func (w *Worker) attempt(ctx context.Context, job *store.Job, b *store.Batch, target providers.Target, attempt int) (*attemptOutput, error) {
	loaded, err := w.pages.LoadPages(ctx, job.DocumentRef, b.PageStart, b.PageEnd)
	if err != nil {
		return nil, err
	}

	var images [][]byte
	texts := make([]takeoff.PageText, 0, len(loaded))
	withText := 0
	for _, p := range loaded {
		if p.HasImage() {
			images = append(images, p.Image)
		}
		if p.HasText() {
			withText++
		}
		texts = append(texts, takeoff.PageText{Number: p.Number, Text: p.Text})
	}

	userPrompt, err := takeoff.UserPrompt(takeoff.PromptInput{
		Mode:       job.Mode,
		PageStart:  b.PageStart,
		PageEnd:    b.PageEnd,
		TotalPages: job.TotalPages,
		ImageCount: len(images),
		Pages:      texts,
	})
	if err != nil {
		return nil, err
	}

	req := &providers.ChatRequest{
		Model: target.Model,
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: takeoff.SystemPrompt(job.Mode)},
			{Role: providers.RoleUser, Content: userPrompt, Images: images},
		},
		MaxTokens:   job.ModelPolicy.MaxTokens,
		Temperature: job.ModelPolicy.Temperature,
		Timeout:     job.BatchConfig.Timeout(),
		RequestID:   fmt.Sprintf("%s-%d-%d", job.ID, b.BatchIndex, attempt),
	}

	callStart := w.now()
	chat, err := target.Client.Chat(ctx, req)
	latency := w.now().Sub(callStart)
	if err != nil {
		outcome := "error"
		if _, ok := providers.IsRateLimitError(err); ok {
			outcome = "rate_limited"
		}
		w.metrics.ObserveAttempt(target.Provider, outcome, latency)
		return nil, err
	}
	w.metrics.ObserveAttempt(target.Provider, "success", latency)

	result, report := takeoff.Repair(chat.Content)
	result.AssignDefaultPage(b.PageStart)
	result.ClampPages(b.PageStart, b.PageEnd)
	w.metrics.ObserveRepair(string(report.Strategy))
	if !report.Recovered() {
		w.logger.Warn("model output had no recoverable JSON", "job_id", job.ID, "batch", b.BatchIndex,
			"provider", target.Provider, "finish_reason", chat.FinishReason)
	} else if chat.FinishReason == "length" {
		w.logger.Warn("model output truncated at max tokens", "job_id", job.ID, "batch", b.BatchIndex,
			"strategy", report.Strategy)
	}

	usedModel := chat.ModelUsed
	if usedModel == "" {
		usedModel = target.Model
	}
	cost := chat.CostUSD
	if cost == 0 {
		cost = EstimateCost(usedModel, chat.PromptTokens, chat.CompletionTokens)
	}
	tokens := chat.TotalTokens
	if tokens == 0 {
		tokens = chat.PromptTokens + chat.CompletionTokens
	}
	w.metrics.ObserveUsage(target.Provider, usedModel, tokens, cost)

	return &attemptOutput{
		result: result,
		metrics: &store.BatchMetrics{
			TokensUsed:       tokens,
			PromptTokens:     chat.PromptTokens,
			CompletionTokens: chat.CompletionTokens,
			EstimatedCostUSD: cost,
			LatencyMS:        latency.Milliseconds(),
			Provider:         target.Provider,
			Model:            usedModel,
			Attempt:          attempt + 1,
			RepairStrategy:   string(report.Strategy),
			SchemaIssues:     len(report.Issues),
			PagesWithImages:  len(images),
			PagesWithText:    withText,
		},
	}, nil
}

func (w *Worker) completeBatch(ctx context.Context, b *store.Batch, out *attemptOutput, provider string) error {
	now := w.now()
	b.Status = store.BatchCompleted
	b.Result = out.result
	b.Metrics = out.metrics
	b.RetryCount = out.metrics.Attempt - 1
	b.ErrorMessage = ""
	b.CompletedAt = &now
	if err := w.saveBatch(ctx, b); err != nil {
		return err
	}
	w.metrics.ObserveBatch(string(store.BatchCompleted))

	if err := w.limiter.RecordSuccess(ctx, provider); err != nil {
		w.logger.Warn("failed to reset rate-limit state", "provider", provider, "error", err)
	}
	w.logger.Info("batch completed", "job_id", b.JobID, "batch", b.BatchIndex,
		"items", len(out.result.Items), "provider", out.metrics.Provider,
		"fallback", out.metrics.UsedFallback, "latency_ms", out.metrics.LatencyMS)
	return nil
}

func (w *Worker) failBatch(ctx context.Context, b *store.Batch, retries int, cause error) error {
	if cause == nil {
		cause = errors.New("no attempts made")
	}
	b.Status = store.BatchFailed
	b.RetryCount = retries
	b.ErrorMessage = cause.Error()
	b.UpdatedAt = w.now()
	if err := w.saveBatch(context.WithoutCancel(ctx), b); err != nil {
		return err
	}
	w.metrics.ObserveBatch(string(store.BatchFailed))
	return fmt.Errorf("batch %d (pages %d-%d) failed after %d attempts: %w",
		b.BatchIndex, b.PageStart, b.PageEnd, retries, cause)
}

// releaseBatch returns an interrupted batch to pending so the next
// invocation picks it up without waiting for the lease to expire.
func (w *Worker) releaseBatch(b *store.Batch, cause error) error {
	b.Status = store.BatchPending
	b.UpdatedAt = w.now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.store.UpdateBatch(ctx, b); err != nil && !errors.Is(err, store.ErrClaimLost) {
		w.logger.Warn("failed to release batch", "job_id", b.JobID, "batch", b.BatchIndex, "error", err)
	}
	return cause
}

func (w *Worker) saveBatch(ctx context.Context, b *store.Batch) error {
	b.UpdatedAt = w.now()
	if err := w.store.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("save batch %d: %w", b.BatchIndex, err)
	}
	return nil
}
