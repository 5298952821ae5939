package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/takeoff/internal/config"
	"github.com/jackzampolin/takeoff/internal/home"
	"github.com/jackzampolin/takeoff/internal/pgcontainer"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage a local Postgres container for the job store",
	Long: `Manage a local Postgres container.

SQLite is the default store. Run several workers against one database by
starting Postgres and pointing database.dsn at it:

  takeoff db start
  export TAKEOFF_DATABASE_DRIVER=postgres
  export TAKEOFF_DATABASE_DSN=$(takeoff db dsn)

Data is persisted to ~/.takeoff/postgres/.`,
}

var dbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Postgres container",
	Long: `Start the Postgres container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.ValidateExisting(ctx); err != nil {
			return fmt.Errorf("existing container incompatible: %w", err)
		}

		fmt.Fprintln(os.Stderr, "Starting Postgres...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start Postgres: %w", err)
		}

		fmt.Printf("Postgres is running at %s\n", mgr.DSN())
		return nil
	},
}

var dbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the Postgres container",
	Long: `Stop the Postgres container.

This stops the container but preserves data. Use 'takeoff db start'
to restart it later.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Stop(cmd.Context()); err != nil {
			return fmt.Errorf("failed to stop Postgres: %w", err)
		}
		fmt.Println("Postgres stopped")
		return nil
	},
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show Postgres container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case pgcontainer.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("DSN: %s\n", mgr.DSN())
		case pgcontainer.StatusStopped:
			fmt.Printf("Status: %s (use 'takeoff db start' to start)\n", status)
		case pgcontainer.StatusNotFound:
			fmt.Printf("Status: %s (use 'takeoff db start' to create)\n", status)
		default:
			fmt.Printf("Status: %s\n", status)
		}
		return nil
	},
}

var logsTail string

var dbLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show Postgres container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(cmd.Context(), logsTail)
		if err != nil {
			return fmt.Errorf("failed to get logs: %w", err)
		}
		fmt.Print(logs)
		return nil
	},
}

var dbRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the Postgres container",
	Long: `Remove the Postgres container.

This stops and removes the container. Data in ~/.takeoff/postgres/
is NOT deleted - only the container is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Remove(cmd.Context()); err != nil {
			return fmt.Errorf("failed to remove container: %w", err)
		}
		fmt.Println("Postgres container removed (data preserved)")
		return nil
	},
}

var dbDSNCmd = &cobra.Command{
	Use:   "dsn",
	Short: "Print the connection string of the local container",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := getPostgresManager()
		if err != nil {
			return err
		}
		defer mgr.Close()
		fmt.Println(mgr.DSN())
		return nil
	},
}

func init() {
	dbCmd.AddCommand(dbStartCmd, dbStopCmd, dbStatusCmd, dbLogsCmd, dbRemoveCmd, dbDSNCmd)
	dbLogsCmd.Flags().StringVar(&logsTail, "tail", "100", "Number of lines to show from the end")
	rootCmd.AddCommand(dbCmd)
}

// getPostgresManager builds a container manager from the postgres config
// section with data under the home directory.
func getPostgresManager() (*pgcontainer.Manager, error) {
	h, err := getHome()
	if err != nil {
		return nil, err
	}
	cm, err := config.NewManager(cfgFile, h.Path())
	if err != nil {
		return nil, err
	}
	return newPostgresManager(cm.Get().Postgres, h)
}

func newPostgresManager(pc config.PostgresCfg, h *home.Dir) (*pgcontainer.Manager, error) {
	dataPath := h.PostgresDataDir()
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return pgcontainer.New(pgcontainer.Config{
		ContainerName: pc.ContainerName,
		Image:         pc.Image,
		DataPath:      dataPath,
		HostPort:      pc.Port,
		User:          pc.User,
		Password:      config.ResolveEnvVars(pc.Password),
		Database:      pc.Database,
	})
}
