package jobs

import (
	"context"
	"fmt"

	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// MergeOptions controls MergeJobResults.
type MergeOptions struct {
	// RequireFullCoverage refuses to merge while any batch is not completed.
	RequireFullCoverage bool
}

// MergeJobResults folds every completed batch into the job's final result
// and marks the job complete. It refuses with ErrBatchesUnfinished while any
// batch is pending or processing, since a complete job is never processed
// again. Failed batches are left out and reported as missing pages in the
// coverage block.
func (m *Manager) MergeJobResults(ctx context.Context, id string, opts MergeOptions) (*store.Job, error) {
	job, err := m.GetJobStatus(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == store.JobFailed {
		return nil, fmt.Errorf("%w: job %s is failed", ErrJobClosed, id)
	}
	batches, err := m.store.ListBatches(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list batches for %s: %w", id, err)
	}

	var (
		partials   []takeoff.Partial
		missing    []takeoff.PageRange
		failed     int
		unfinished int
	)
	for _, b := range batches {
		if b.Status == store.BatchCompleted {
			partials = append(partials, takeoff.Partial{
				BatchIndex: b.BatchIndex,
				Pages:      b.Pages(),
				Result:     b.Result,
			})
			continue
		}
		switch b.Status {
		case store.BatchFailed:
			failed++
		case store.BatchPending, store.BatchProcessing:
			unfinished++
		}
		missing = appendRange(missing, b.Pages())
	}

	if unfinished > 0 {
		return nil, fmt.Errorf("%w: job %s has %d of %d batches left to process",
			ErrBatchesUnfinished, id, unfinished, len(batches))
	}

	if len(partials) == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNoCompletedBatches, id)
	}
	if (opts.RequireFullCoverage || m.defaults.RequireFullCoverage) && len(partials) < len(batches) {
		return nil, fmt.Errorf("%w: job %s has %d of %d batches completed",
			ErrIncompleteCoverage, id, len(partials), len(batches))
	}

	final := takeoff.Merge(partials)
	final.Coverage.BatchesTotal = len(batches)
	final.Coverage.MissingPages = missing
	final.MergedAt = m.now()

	job.FinalResult = final
	job.CompletedBatches = len(partials)
	job.FailedBatches = failed
	job.ErrorLog = errorLog(batches)

	ok, err := m.store.CompleteJob(ctx, id, job, final.MergedAt)
	if err != nil {
		return nil, &PersistenceError{Op: "merge " + id, Err: err}
	}
	if !ok {
		return nil, fmt.Errorf("%w: job %s was failed during merge", ErrJobClosed, id)
	}
	m.metrics.ObserveMerge()

	args := []any{"job_id", id, "batches", len(partials), "of", len(batches),
		"items", len(final.Items), "risks", len(final.QualityAnalysis.Risks)}
	if len(missing) > 0 {
		args = append(args, "missing_ranges", len(missing))
		m.logger.Warn("merged partial job result", args...)
	} else {
		m.logger.Info("merged job result", args...)
	}
	return m.GetJobStatus(ctx, id)
}

// appendRange adds r, joining it to the previous range when they touch.
func appendRange(ranges []takeoff.PageRange, r takeoff.PageRange) []takeoff.PageRange {
	if n := len(ranges); n > 0 && ranges[n-1].End+1 == r.Start {
		ranges[n-1].End = r.End
		return ranges
	}
	return append(ranges, r)
}
