package config

import (
	"fmt"
	"time"

	"github.com/jackzampolin/takeoff/internal/jobs"
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// Config holds takeoff configuration.
// Stored at: ./config.yaml or {home}/config.yaml
type Config struct {
	Database  DatabaseCfg            `mapstructure:"database" yaml:"database"`
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Storage   StorageCfg             `mapstructure:"storage" yaml:"storage"`
	Worker    WorkerCfg              `mapstructure:"worker" yaml:"worker"`
	NATS      NATSCfg                `mapstructure:"nats" yaml:"nats"`
	Postgres  PostgresCfg            `mapstructure:"postgres" yaml:"postgres"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server"`
}

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseCfg selects and tunes the job store.
type DatabaseCfg struct {
	Driver                  string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres, memory
	DSN                     string `mapstructure:"dsn" yaml:"dsn"`       // postgres only (supports ${ENV_VAR} syntax)
	Path                    string `mapstructure:"path" yaml:"path"`     // sqlite file; empty uses the home directory
	MaxConns                int32  `mapstructure:"max_conns" yaml:"max_conns"`
	MinConns                int32  `mapstructure:"min_conns" yaml:"min_conns"`
	StatementTimeoutSeconds int    `mapstructure:"statement_timeout_seconds" yaml:"statement_timeout_seconds"`
	ConnectAttempts         uint   `mapstructure:"connect_attempts" yaml:"connect_attempts"`
}

// ProviderCfg configures an LLM provider.
type ProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`             // "openrouter", "openai", "mock"
	Model     string  `mapstructure:"model" yaml:"model"`           // Default model
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`       // API key (supports ${ENV_VAR} syntax)
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url"`     // Optional endpoint override
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"` // Requests per second (0 = unlimited)
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg holds the job defaults applied to unset request fields.
type DefaultsCfg struct {
	Provider            string   `mapstructure:"provider" yaml:"provider"` // provider for model ids without a prefix
	PrimaryModel        string   `mapstructure:"primary_model" yaml:"primary_model"`
	FallbackModels      []string `mapstructure:"fallback_models" yaml:"fallback_models"`
	MaxTokens           int      `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature         float64  `mapstructure:"temperature" yaml:"temperature"`
	BatchSize           int      `mapstructure:"batch_size" yaml:"batch_size"`
	Concurrency         int      `mapstructure:"concurrency" yaml:"concurrency"`
	MaxRetries          int      `mapstructure:"max_retries" yaml:"max_retries"`
	TimeoutSeconds      int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	Mode                string   `mapstructure:"mode" yaml:"mode"`
	FallbackPageCount   int      `mapstructure:"fallback_page_count" yaml:"fallback_page_count"`
	RequireFullCoverage bool     `mapstructure:"require_full_coverage" yaml:"require_full_coverage"`
}

// StorageCfg locates source documents.
type StorageCfg struct {
	DocumentsDir       string `mapstructure:"documents_dir" yaml:"documents_dir"` // empty uses the home directory
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds" yaml:"http_timeout_seconds"`
	RenderDPI          int    `mapstructure:"render_dpi" yaml:"render_dpi"`
}

// WorkerCfg controls the background scheduler.
type WorkerCfg struct {
	IntervalSeconds   int  `mapstructure:"interval_seconds" yaml:"interval_seconds"`
	MaxBatches        int  `mapstructure:"max_batches" yaml:"max_batches"`
	BudgetSeconds     int  `mapstructure:"budget_seconds" yaml:"budget_seconds"`
	StaleAfterSeconds int  `mapstructure:"stale_after_seconds" yaml:"stale_after_seconds"`
	AutoMerge         bool `mapstructure:"auto_merge" yaml:"auto_merge"`
}

// NATSCfg configures the queue trigger.
type NATSCfg struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	URL     string `mapstructure:"url" yaml:"url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
	Queue   string `mapstructure:"queue" yaml:"queue"`
}

// PostgresCfg holds the local Postgres container configuration.
type PostgresCfg struct {
	// ContainerName is the Docker container name (default: takeoff-postgres)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: postgres:16-alpine)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 5432)
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// ServerCfg holds HTTP listener settings.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseCfg{
			Driver:                  DriverSQLite,
			MaxConns:                10,
			StatementTimeoutSeconds: 30,
			ConnectAttempts:         10,
		},
		Providers: map[string]ProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "anthropic/claude-sonnet-4",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 5,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 5,
				Enabled:   true,
			},
		},
		Defaults: DefaultsCfg{
			Provider:          "openrouter",
			PrimaryModel:      jobs.DefaultPrimaryModel,
			FallbackModels:    []string{jobs.DefaultFallbackModel},
			MaxTokens:         jobs.DefaultMaxTokens,
			Temperature:       jobs.DefaultTemperature,
			BatchSize:         jobs.DefaultBatchSize,
			Concurrency:       jobs.DefaultConcurrency,
			MaxRetries:        jobs.DefaultMaxRetries,
			TimeoutSeconds:    jobs.DefaultTimeoutSeconds,
			Mode:              string(takeoff.DefaultMode),
			FallbackPageCount: 100,
		},
		Storage: StorageCfg{
			HTTPTimeoutSeconds: 60,
			RenderDPI:          150,
		},
		Worker: WorkerCfg{
			IntervalSeconds:   10,
			MaxBatches:        jobs.DefaultConcurrency,
			BudgetSeconds:     240,
			StaleAfterSeconds: int(jobs.DefaultStaleAfter / time.Second),
			AutoMerge:         true,
		},
		NATS: NATSCfg{
			URL:     "nats://127.0.0.1:4222",
			Subject: "takeoff.jobs.process",
			Queue:   "takeoff-workers",
		},
		Postgres: PostgresCfg{
			ContainerName: "takeoff-postgres",
			Image:         "postgres:16-alpine",
			Port:          "5432",
			User:          "takeoff",
			Password:      "takeoff",
			Database:      "takeoff",
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// Validate checks values that would otherwise fail later at first use.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("database.driver %q must be one of sqlite, postgres, memory", c.Database.Driver)
	}
	if c.Database.Driver == DriverPostgres && ResolveEnvVars(c.Database.DSN) == "" {
		return fmt.Errorf("database.dsn is required for the postgres driver")
	}
	if _, err := takeoff.ParseMode(c.Defaults.Mode); err != nil {
		return fmt.Errorf("defaults.mode: %w", err)
	}
	if c.Defaults.BatchSize < 0 || c.Defaults.Concurrency < 0 || c.Defaults.MaxRetries < 0 {
		return fmt.Errorf("defaults batch values must not be negative")
	}
	for name, p := range c.Providers {
		if p.RateLimit < 0 {
			return fmt.Errorf("providers.%s.rate_limit must not be negative", name)
		}
	}
	return nil
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}

// JobDefaults converts the defaults section for the job manager. Zero values
// fall back to the built-in defaults there, except temperature, which always
// carries a value here and may be 0.
func (c *Config) JobDefaults() jobs.Defaults {
	d := c.Defaults
	var mode takeoff.Mode
	if m, err := takeoff.ParseMode(d.Mode); err == nil {
		mode = m
	}
	return jobs.Defaults{
		ModelPolicy: store.ModelPolicy{
			Primary:     d.PrimaryModel,
			Fallbacks:   d.FallbackModels,
			MaxTokens:   d.MaxTokens,
			Temperature: d.Temperature,
		},
		BatchConfig: store.BatchConfig{
			BatchSize:      d.BatchSize,
			Concurrency:    d.Concurrency,
			MaxRetries:     d.MaxRetries,
			TimeoutSeconds: d.TimeoutSeconds,
		},
		Mode:                mode,
		TemperatureSet:      true,
		RequireFullCoverage: d.RequireFullCoverage,
	}
}

// PostgresConfig converts the database section for store.OpenPostgres.
func (c *Config) PostgresConfig() store.PostgresConfig {
	return store.PostgresConfig{
		DSN:              ResolveEnvVars(c.Database.DSN),
		MaxConns:         c.Database.MaxConns,
		MinConns:         c.Database.MinConns,
		StatementTimeout: time.Duration(c.Database.StatementTimeoutSeconds) * time.Second,
		ConnectAttempts:  c.Database.ConnectAttempts,
	}
}

// Interval returns the scheduler tick.
func (w WorkerCfg) Interval() time.Duration {
	return time.Duration(w.IntervalSeconds) * time.Second
}

// Budget returns the per-invocation time budget.
func (w WorkerCfg) Budget() time.Duration {
	return time.Duration(w.BudgetSeconds) * time.Second
}

// StaleAfter returns the processing lease.
func (w WorkerCfg) StaleAfter() time.Duration {
	return time.Duration(w.StaleAfterSeconds) * time.Second
}
