package endpoints

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// MergeRequest is the body of POST /api/jobs/{id}/merge.
type MergeRequest struct {
	RequireFullCoverage bool `json:"require_full_coverage,omitempty"`
}

// MergeJobEndpoint handles POST /api/jobs/{id}/merge.
type MergeJobEndpoint struct{}

func (e *MergeJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/merge", e.handler
}

func (e *MergeJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Merge batch results
//	@Description	Fold completed batches into the final result and mark the job complete
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Job ID"
//	@Param			request	body		MergeRequest	false	"Merge options"
//	@Success		200		{object}	store.Job
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/merge [post]
func (e *MergeJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.MergeJobResults(r.Context(), r.PathValue("id"), jobs.MergeOptions{
		RequireFullCoverage: req.RequireFullCoverage,
	})
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *MergeJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req MergeRequest
	cmd := &cobra.Command{
		Use:   "merge <id>",
		Short: "Merge completed batches into the final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var job store.Job
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/merge", req, &job); err != nil {
				return err
			}
			return api.Output(job.FinalResult)
		},
	}
	cmd.Flags().BoolVar(&req.RequireFullCoverage, "require-full-coverage", false, "Refuse to merge unless every batch completed")
	return cmd
}

// ResultResponse carries the final result, or only a status while the job
// is not ready.
type ResultResponse struct {
	Status string               `json:"status"`
	Result *takeoff.FinalResult `json:"result,omitempty"`
}

// JobResultEndpoint handles GET /api/jobs/{id}/result.
type JobResultEndpoint struct{}

func (e *JobResultEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/result", e.handler
}

func (e *JobResultEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get final result
//	@Description	Returns 202 with status not_ready until the job has been merged
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	ResultResponse
//	@Success		202	{object}	ResultResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/result [get]
func (e *JobResultEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	result, err := jm.GetJobResult(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, jobs.ErrNotReady):
		writeJSON(w, http.StatusAccepted, ResultResponse{Status: "not_ready"})
	case err != nil:
		writeJobError(w, err)
	default:
		writeJSON(w, http.StatusOK, ResultResponse{Status: "ready", Result: result})
	}
}

func (e *JobResultEndpoint) Command(getServerURL func() string) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Get a job's final result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ResultResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/result", &resp); err != nil {
				return err
			}
			if resp.Result == nil {
				return api.Output(resp)
			}
			if output != "" {
				return api.OutputToFile(resp.Result, output)
			}
			return api.Output(resp.Result)
		},
	}
	cmd.Flags().StringVarP(&output, "file", "f", "", "Write the result to a .json or .yaml file")
	return cmd
}

// FailRequest is the body of POST /api/jobs/{id}/fail.
type FailRequest struct {
	Reason string `json:"reason"`
}

// FailJobEndpoint handles POST /api/jobs/{id}/fail.
type FailJobEndpoint struct{}

func (e *FailJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/fail", e.handler
}

func (e *FailJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Mark a job failed
//	@Description	Stops further processing; completed batches stay readable
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"Job ID"
//	@Param			request	body		FailRequest	false	"Reason"
//	@Success		200		{object}	store.Job
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs/{id}/fail [post]
func (e *FailJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req FailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.FailJob(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (e *FailJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var req FailRequest
	cmd := &cobra.Command{
		Use:   "fail <id>",
		Short: "Mark a job failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var job store.Job
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/fail", req, &job); err != nil {
				return err
			}
			return api.Output(job)
		},
	}
	cmd.Flags().StringVar(&req.Reason, "reason", "", "Why the job is abandoned")
	return cmd
}
