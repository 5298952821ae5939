// Package jobs orchestrates batch takeoff analysis: job creation and
// progress, claiming and processing batches with retries and provider
// fallback, cross-worker provider backpressure, and the final merge.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// PageCounter resolves how many pages a job covers.
type PageCounter interface {
	DiscoverPageCount(ctx context.Context, ref string, endPage int) (count int, estimated bool)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store    store.Store
	Pages    PageCounter
	Defaults Defaults
	Metrics  *metrics.Collectors
	Logger   *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Manager creates jobs and derives their progress from batch state.
type Manager struct {
	store    store.Store
	pages    PageCounter
	defaults Defaults
	metrics  *metrics.Collectors
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a job manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:    cfg.Store,
		pages:    cfg.Pages,
		defaults: cfg.Defaults.withBuiltins(),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      func() time.Time { return cfg.Now().UTC() },
	}
}

// Defaults returns the effective defaults.
func (m *Manager) Defaults() Defaults {
	return m.defaults
}

// CreateJob validates a request, sizes the job and writes the job with all
// of its batches.
func (m *Manager) CreateJob(ctx context.Context, cfg JobConfig) (*store.Job, error) {
	ref := strings.TrimSpace(cfg.DocumentRef)
	if ref == "" {
		return nil, invalidConfig("document reference is required")
	}

	mode := m.defaults.Mode
	if cfg.Mode != "" {
		parsed, err := takeoff.ParseMode(cfg.Mode)
		if err != nil {
			return nil, invalidConfig("%v", err)
		}
		mode = parsed
	}

	var sel PageSelection
	if cfg.Pages != nil {
		sel = *cfg.Pages
	}
	if sel.Start < 0 || sel.End < 0 {
		return nil, invalidConfig("page numbers must be positive")
	}
	start := sel.Start
	if start == 0 {
		start = 1
	}
	if sel.End > 0 && sel.End < start {
		return nil, invalidConfig("page range %d-%d is reversed", start, sel.End)
	}

	policy := m.defaults.resolvePolicy(cfg.ModelPolicy)
	if strings.TrimSpace(policy.Primary) == "" {
		return nil, invalidConfig("a primary model is required")
	}
	batchCfg, err := m.defaults.resolveBatchConfig(cfg.BatchConfig)
	if err != nil {
		return nil, err
	}

	totalPages, estimated := sel.End, false
	if m.pages != nil {
		totalPages, estimated = m.pages.DiscoverPageCount(ctx, ref, sel.End)
	}
	if totalPages <= 0 {
		return nil, invalidConfig("page count for %s could not be determined", ref)
	}
	end := sel.End
	if end == 0 {
		end = totalPages
	}
	if start > end {
		return nil, invalidConfig("page_start %d is past the last page %d", start, end)
	}

	ranges := PartitionPages(start, end, batchCfg.BatchSize)
	now := m.now()
	job := &store.Job{
		ID:                 uuid.New().String(),
		PlanID:             cfg.PlanID,
		UserID:             cfg.UserID,
		DocumentRef:        ref,
		Mode:               mode,
		ModelPolicy:        policy,
		BatchConfig:        batchCfg,
		Status:             store.JobQueued,
		PageStart:          start,
		PageEnd:            end,
		TotalPages:         totalPages,
		PageCountEstimated: estimated,
		TotalBatches:       len(ranges),
		ErrorLog:           []store.ErrorEntry{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	batches := make([]*store.Batch, len(ranges))
	for i, r := range ranges {
		batches[i] = &store.Batch{
			ID:         uuid.New().String(),
			JobID:      job.ID,
			BatchIndex: i,
			PageStart:  r.Start,
			PageEnd:    r.End,
			Status:     store.BatchPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
	}

	if err := m.store.CreateJob(ctx, job, batches); err != nil {
		return nil, &PersistenceError{Op: "job " + job.ID, Err: err}
	}

	logArgs := []any{"job_id", job.ID, "document", ref, "mode", mode,
		"pages", fmt.Sprintf("%d-%d", start, end), "batches", job.TotalBatches}
	if estimated {
		m.logger.Warn("job created with estimated page count", logArgs...)
	} else {
		m.logger.Info("job created", logArgs...)
	}
	return job, nil
}

// GetJobStatus returns the job record.
func (m *Manager) GetJobStatus(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// GetJobResult returns the final result of a complete job, or ErrNotReady.
func (m *Manager) GetJobResult(ctx context.Context, id string) (*takeoff.FinalResult, error) {
	job, err := m.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != store.JobComplete || job.FinalResult == nil {
		return nil, ErrNotReady
	}
	return job.FinalResult, nil
}

// ListJobs returns jobs matching filter.
func (m *Manager) ListJobs(ctx context.Context, filter store.JobFilter) ([]*store.Job, error) {
	return m.store.ListJobs(ctx, filter)
}

// ListBatches returns a job's batches in index order.
func (m *Manager) ListBatches(ctx context.Context, jobID string) ([]*store.Batch, error) {
	if _, err := m.GetJobStatus(ctx, jobID); err != nil {
		return nil, err
	}
	return m.store.ListBatches(ctx, jobID)
}

// UpdateJobProgress recomputes counters and status from the batch rows.
// Nothing is written when the derived fields already match, so repeated
// calls leave the job unchanged. Complete and failed jobs are never
// touched.
func (m *Manager) UpdateJobProgress(ctx context.Context, id string) (*store.Job, error) {
	job, err := m.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return job, nil
	}
	batches, err := m.store.ListBatches(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", id, err)
	}

	p := deriveProgress(job, batches)
	if progressUnchanged(job, p) {
		return job, nil
	}
	now := m.now()
	if p.Status == store.JobComplete {
		p.CompletedAt = &now
	}

	ok, err := m.store.SaveJobProgress(ctx, id, p, now)
	if err != nil {
		return nil, fmt.Errorf("save progress for %s: %w", id, err)
	}
	if !ok {
		// Raced with a merge or an explicit failure.
		return m.GetJobStatus(ctx, id)
	}

	job.Status = p.Status
	job.CompletedBatches = p.CompletedBatches
	job.FailedBatches = p.FailedBatches
	job.ProgressPercent = p.ProgressPercent
	job.ErrorLog = p.ErrorLog
	job.UpdatedAt = now
	if p.CompletedAt != nil {
		job.CompletedAt = p.CompletedAt
	}
	m.logger.Debug("job progress", "job_id", id, "status", p.Status,
		"completed", p.CompletedBatches, "failed", p.FailedBatches, "total", job.TotalBatches)
	return job, nil
}

func deriveProgress(job *store.Job, batches []*store.Batch) store.Progress {
	p := store.Progress{ErrorLog: errorLog(batches)}
	started := false
	for _, b := range batches {
		switch b.Status {
		case store.BatchCompleted:
			p.CompletedBatches++
			started = true
		case store.BatchFailed:
			p.FailedBatches++
			started = true
		case store.BatchProcessing:
			started = true
		}
	}
	p.ProgressPercent = percent(p.CompletedBatches, job.TotalBatches)

	switch {
	case job.TotalBatches > 0 && p.CompletedBatches == job.TotalBatches:
		p.Status = store.JobComplete
	case p.CompletedBatches > 0:
		p.Status = store.JobPartial
	case job.Status == store.JobQueued && !started:
		p.Status = store.JobQueued
	default:
		p.Status = store.JobRunning
	}
	return p
}

// percent rounds to the nearest whole percent but reports 100 only when
// every batch is done, so a partial job never reads as complete.
func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(done) / float64(total)))
	if p >= 100 && done < total {
		return 99
	}
	return p
}

func errorLog(batches []*store.Batch) []store.ErrorEntry {
	log := []store.ErrorEntry{}
	for _, b := range batches {
		if b.Status != store.BatchFailed {
			continue
		}
		log = append(log, store.ErrorEntry{
			BatchIndex: b.BatchIndex,
			PageStart:  b.PageStart,
			PageEnd:    b.PageEnd,
			Message:    b.ErrorMessage,
			At:         b.UpdatedAt,
		})
	}
	return log
}

func progressUnchanged(job *store.Job, p store.Progress) bool {
	if job.Status != p.Status ||
		job.CompletedBatches != p.CompletedBatches ||
		job.FailedBatches != p.FailedBatches ||
		job.ProgressPercent != p.ProgressPercent ||
		len(job.ErrorLog) != len(p.ErrorLog) {
		return false
	}
	for i, e := range job.ErrorLog {
		o := p.ErrorLog[i]
		if e.BatchIndex != o.BatchIndex || e.Message != o.Message || !e.At.Equal(o.At) {
			return false
		}
	}
	return true
}

// FailJob marks a job failed. Batch failures never do this on their own;
// it is the caller's policy decision.
func (m *Manager) FailJob(ctx context.Context, id, reason string) (*store.Job, error) {
	job, err := m.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == store.JobFailed {
		return job, nil
	}
	batches, err := m.store.ListBatches(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", id, err)
	}

	now := m.now()
	log := errorLog(batches)
	if reason != "" {
		log = append(log, store.ErrorEntry{BatchIndex: -1, Message: reason, At: now})
	}
	ok, err := m.store.FailJob(ctx, id, log, now)
	if err != nil {
		return nil, fmt.Errorf("fail job %s: %w", id, err)
	}
	job, err = m.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok && job.Status != store.JobFailed {
		return job, fmt.Errorf("%w: job %s is %s", ErrJobClosed, id, job.Status)
	}
	m.logger.Warn("job marked failed", "job_id", id, "reason", reason)
	return job, nil
}

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
