package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/metrics"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// GetJobResponse is a job with usage aggregated over its batches.
type GetJobResponse struct {
	*store.Job
	Usage *metrics.Summary `json:"usage,omitempty"`
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job by ID
//	@Description	Job status and progress plus token, cost and latency totals across its batches
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	GetJobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	job, err := jm.GetJobStatus(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	resp := GetJobResponse{Job: job}
	if batches, err := jm.ListBatches(r.Context(), id); err == nil {
		resp.Usage = metrics.Summarize(batches)
	} else {
		svcctx.LoggerFrom(r.Context()).Warn("list batches for usage", "job_id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp GetJobResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// ListBatchesResponse lists a job's batches.
type ListBatchesResponse struct {
	JobID   string         `json:"job_id"`
	Batches []*store.Batch `json:"batches"`
}

// ListBatchesEndpoint handles GET /api/jobs/{id}/batches.
type ListBatchesEndpoint struct{}

func (e *ListBatchesEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/batches", e.handler
}

func (e *ListBatchesEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List batches
//	@Description	Batches of a job in index order, with results, metrics and errors
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	ListBatchesResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/batches [get]
func (e *ListBatchesEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	batches, err := jm.ListBatches(r.Context(), id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	if batches == nil {
		batches = []*store.Batch{}
	}
	writeJSON(w, http.StatusOK, ListBatchesResponse{JobID: id, Batches: batches})
}

func (e *ListBatchesEndpoint) Command(getServerURL func() string) *cobra.Command {
	var table bool
	cmd := &cobra.Command{
		Use:   "batches <id>",
		Short: "List a job's batches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListBatchesResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/batches", &resp); err != nil {
				return err
			}
			if table {
				return PrintBatchTable(resp.Batches)
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&table, "table", false, "Print a compact table instead of structured output")
	return cmd
}

// PrintBatchTable prints one line per batch.
func PrintBatchTable(batches []*store.Batch) error {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tPAGES\tSTATUS\tRETRIES\tMODEL\tERROR")
	for _, b := range batches {
		model := ""
		if b.Metrics != nil {
			model = b.Metrics.Provider + ":" + b.Metrics.Model
		}
		fmt.Fprintf(tw, "%d\t%d-%d\t%s\t%d\t%s\t%s\n",
			b.BatchIndex, b.PageStart, b.PageEnd, b.Status, b.RetryCount, model, b.ErrorMessage)
	}
	return tw.Flush()
}
