package main

import (
	"os"

	"github.com/jackzampolin/takeoff/internal/api"
	"github.com/jackzampolin/takeoff/internal/server/endpoints"
)

// serverEnv overrides the default --server URL.
const serverEnv = "TAKEOFF_SERVER"

var serverURL string

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func defaultServerURL() string {
	if v := os.Getenv(serverEnv); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func init() {
	reg := api.NewRegistry()
	for _, ep := range endpoints.All() {
		reg.Register(ep)
	}
	apiCmd := reg.BuildCommands(getServerURL)

	// Persistent so all subcommands inherit it
	apiCmd.PersistentFlags().StringVar(
		&serverURL, "server", defaultServerURL(), "Server URL (env: "+serverEnv+")",
	)
	rootCmd.AddCommand(apiCmd)
}
