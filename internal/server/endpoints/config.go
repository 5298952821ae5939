package endpoints

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/svcctx"
)

// ConfigResponse lists effective configuration entries.
type ConfigResponse struct {
	File    string         `json:"file,omitempty"`
	Entries []config.Entry `json:"entries"`
}

// ListConfigEndpoint handles GET /api/config.
type ListConfigEndpoint struct{}

func (e *ListConfigEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/config", e.handler
}

func (e *ListConfigEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		List configuration
//	@Description	Effective configuration after file, environment and defaults. Secrets are masked.
//	@Tags			config
//	@Produce		json
//	@Param			prefix	query		string	false	"Key prefix, e.g. worker."
//	@Success		200		{object}	ConfigResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/config [get]
func (e *ListConfigEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	cm := svcctx.ConfigFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config not available")
		return
	}
	writeJSON(w, http.StatusOK, ConfigResponse{
		File:    cm.ConfigFileUsed(),
		Entries: cm.Entries(r.URL.Query().Get("prefix")),
	})
}

func (e *ListConfigEndpoint) Command(getServerURL func() string) *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the server's effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/config"
			if prefix != "" {
				path += "?prefix=" + url.QueryEscape(prefix)
			}
			client := api.NewClient(getServerURL())
			var resp ConfigResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "Filter by key prefix (e.g., 'defaults.')")
	return cmd
}

// GetConfigEndpoint handles GET /api/config/{key...}.
type GetConfigEndpoint struct{}

func (e *GetConfigEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/config/{key...}", e.handler
}

func (e *GetConfigEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Get a configuration value
//	@Tags			config
//	@Produce		json
//	@Param			key	path		string	true	"Key, e.g. defaults.batch_size"
//	@Success		200	{object}	config.Entry
//	@Failure		400	{object}	ErrorResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/config/{key} [get]
func (e *GetConfigEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	key, err := url.PathUnescape(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key encoding")
		return
	}

	cm := svcctx.ConfigFrom(r.Context())
	if cm == nil {
		writeError(w, http.StatusServiceUnavailable, "config not available")
		return
	}

	entry, err := cm.Entry(key)
	switch {
	case errors.Is(err, config.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, config.ErrUnknownKey):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, entry)
	}
}

func (e *GetConfigEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get one configuration value from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var entry config.Entry
			if err := client.Get(cmd.Context(), "/api/config/"+url.PathEscape(args[0]), &entry); err != nil {
				return err
			}
			return api.Output(entry)
		},
	}
}
