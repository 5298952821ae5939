package jobs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by GetJobResult while a job has no final
	// result. It is a status, not a failure.
	ErrNotReady = errors.New("job result not ready")

	// ErrNoCompletedBatches means a merge was requested for a job with no
	// completed batch.
	ErrNoCompletedBatches = errors.New("no completed batches to merge")

	// ErrIncompleteCoverage means a merge required every batch to complete
	// and some did not.
	ErrIncompleteCoverage = errors.New("not every batch completed")

	// ErrBatchesUnfinished means a merge was requested while some batch is
	// still pending or processing.
	ErrBatchesUnfinished = errors.New("batches still pending or processing")

	// ErrInvalidConfig marks job configuration errors. The job is never
	// created.
	ErrInvalidConfig = errors.New("invalid job config")

	// ErrJobClosed is returned when work is requested on a failed job.
	ErrJobClosed = errors.New("job is closed")
)

// PersistenceError wraps a storage failure during job creation. A job for
// which it is returned must not be processed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
