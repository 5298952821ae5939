package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/trigger"
)

// ProcessRequest is the body of POST /api/jobs/{id}/process. All fields are
// optional.
type ProcessRequest struct {
	// MaxBatches caps claimed batches; 0 uses the job's concurrency.
	MaxBatches int `json:"max_batches,omitempty"`
	// TimeoutMS stops new batches from starting; 0 uses the worker budget.
	TimeoutMS int64 `json:"timeout_ms,omitempty"`
	// Merge merges the job once every batch is terminal. Nil uses
	// worker.auto_merge.
	Merge *bool `json:"merge,omitempty"`
	// Async hands the request to the NATS queue instead of processing
	// in this request.
	Async bool `json:"async,omitempty"`
}

// ProcessResponse reports one worker invocation.
type ProcessResponse struct {
	Result *jobs.ProcessResult `json:"result,omitempty"`
	Merged bool                `json:"merged"`
	Failed bool                `json:"failed,omitempty"`
	Queued bool                `json:"queued,omitempty"`
}

// ProcessJobEndpoint handles POST /api/jobs/{id}/process.
type ProcessJobEndpoint struct{}

func (e *ProcessJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/process", e.handler
}

func (e *ProcessJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Process batches
//	@Description	Claim and process up to max_batches pending batches of a job, then update its progress
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Job ID"
//	@Param			request	body		ProcessRequest	false	"Invocation limits"
//	@Success		200		{object}	ProcessResponse
//	@Success		202		{object}	ProcessResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/process [post]
func (e *ProcessJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxBatches < 0 || req.TimeoutMS < 0 {
		writeError(w, http.StatusBadRequest, "max_batches and timeout_ms must not be negative")
		return
	}

	ctx := r.Context()
	logger := svcctx.LoggerFrom(ctx)

	if req.Async {
		nc, subject := svcctx.NATSFrom(ctx)
		if nc == nil {
			writeError(w, http.StatusBadRequest, "async processing requires the nats trigger")
			return
		}
		if err := trigger.Publish(nc, subject, trigger.ProcessRequest{
			JobID:      id,
			MaxBatches: req.MaxBatches,
			TimeoutMS:  req.TimeoutMS,
		}); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, ProcessResponse{Queued: true})
		return
	}

	worker := svcctx.WorkerFrom(ctx)
	jm := svcctx.JobManagerFrom(ctx)
	if worker == nil || jm == nil {
		writeError(w, http.StatusServiceUnavailable, "worker not initialized")
		return
	}

	budget := time.Duration(req.TimeoutMS) * time.Millisecond
	merge := false
	if cm := svcctx.ConfigFrom(ctx); cm != nil {
		wc := cm.Get().Worker
		if budget == 0 {
			budget = wc.Budget()
		}
		merge = wc.AutoMerge
	}
	if req.Merge != nil {
		merge = *req.Merge
	}

	svcctx.MetricsFrom(ctx).ObserveInvocation(trigger.TriggerHTTP)
	res, err := worker.ProcessBatches(ctx, id, req.MaxBatches, budget)
	if err != nil {
		writeJobError(w, err)
		return
	}

	resp := ProcessResponse{Result: res}
	if merge && res.Done() {
		outcome, err := trigger.MergeOrFail(ctx, jm, id, logger)
		if err != nil {
			writeJobError(w, err)
			return
		}
		resp.Merged = outcome == trigger.OutcomeMerged
		resp.Failed = outcome == trigger.OutcomeFailed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ProcessJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		req     ProcessRequest
		merge   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "process <id>",
		Short: "Run one worker invocation for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("merge") {
				req.Merge = &merge
			}
			req.TimeoutMS = timeout.Milliseconds()
			client := api.NewClient(getServerURL())
			var resp ProcessResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/process", req, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&req.MaxBatches, "max-batches", 0, "Batches to claim (default: job concurrency)")
	cmd.Flags().DurationVar(&timeout, "budget", 0, "Stop starting batches after this long (default: worker budget)")
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge when every batch is terminal (default: worker.auto_merge)")
	cmd.Flags().BoolVar(&req.Async, "async", false, "Queue the request on NATS instead of waiting")
	return cmd
}
