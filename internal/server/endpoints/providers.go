package endpoints

import (
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// ProviderStatus is a registered provider and its shared rate-limit state.
type ProviderStatus struct {
	Name            string     `json:"name"`
	Client          string     `json:"client"`
	Consecutive429s int        `json:"consecutive_429s"`
	BackoffUntil    *time.Time `json:"backoff_until,omitempty"`
	BackoffMS       int64      `json:"backoff_remaining_ms"`
	Last429At       *time.Time `json:"last_429_at,omitempty"`
}

// ListProvidersResponse lists providers.
type ListProvidersResponse struct {
	Providers []ProviderStatus `json:"providers"`
}

// ListProvidersEndpoint handles GET /api/providers.
type ListProvidersEndpoint struct{}

func (e *ListProvidersEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/providers", e.handler
}

func (e *ListProvidersEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List providers
//	@Description	Registered LLM providers with the rate-limit backoff shared by all workers
//	@Tags			providers
//	@Produce		json
//	@Success		200	{object}	ListProvidersResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/providers [get]
func (e *ListProvidersEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	registry := svcctx.RegistryFrom(ctx)
	st := svcctx.StoreFrom(ctx)
	limiter := svcctx.LimiterFrom(ctx)
	if registry == nil || st == nil || limiter == nil {
		writeError(w, http.StatusServiceUnavailable, "providers not initialized")
		return
	}

	resp := ListProvidersResponse{Providers: []ProviderStatus{}}
	for _, name := range registry.ListLLM() {
		ps := ProviderStatus{Name: name}
		if client, err := registry.GetLLM(name); err == nil {
			ps.Client = client.Name()
		}
		state, err := st.GetProviderState(ctx, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if state != nil {
			ps.Consecutive429s = state.Consecutive429s
			ps.BackoffUntil = state.BackoffUntil
			ps.Last429At = state.Last429At
		}
		if d, err := limiter.BackoffRemaining(ctx, name); err == nil {
			ps.BackoffMS = d.Milliseconds()
		}
		resp.Providers = append(resp.Providers, ps)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListProvidersEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers and their rate-limit backoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListProvidersResponse
			if err := client.Get(cmd.Context(), "/api/providers", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
