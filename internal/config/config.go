// Package config loads takeoff configuration from a YAML file and
// TAKEOFF_-prefixed environment variables, and hot-reloads it on change.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/takeoff/internal/providers"
)

// EnvPrefix prefixes every environment override, e.g. TAKEOFF_DATABASE_DRIVER.
const EnvPrefix = "TAKEOFF"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	logger    *slog.Logger
}

// NewManager creates a new config manager and loads initial config.
// searchDir is added to the config search path when cfgFile is empty.
func NewManager(cfgFile, searchDir string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
		logger:    slog.Default(),
	}

	if err := cm.initViper(cfgFile, searchDir); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults, env overrides and the config file.
func (cm *Manager) initViper(cfgFile, searchDir string) error {
	v := cm.v
	setDefaults(v, DefaultConfig())

	// Environment variables with TAKEOFF_ prefix; nested keys use underscores.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if searchDir != "" {
			v.AddConfigPath(searchDir)
		}
		v.AddConfigPath("$HOME/.takeoff")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf key so environment overrides apply to
// nested values. Providers are a free-form map and are defaulted in load.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.max_conns", d.Database.MaxConns)
	v.SetDefault("database.min_conns", d.Database.MinConns)
	v.SetDefault("database.statement_timeout_seconds", d.Database.StatementTimeoutSeconds)
	v.SetDefault("database.connect_attempts", d.Database.ConnectAttempts)

	v.SetDefault("defaults.provider", d.Defaults.Provider)
	v.SetDefault("defaults.primary_model", d.Defaults.PrimaryModel)
	v.SetDefault("defaults.fallback_models", d.Defaults.FallbackModels)
	v.SetDefault("defaults.max_tokens", d.Defaults.MaxTokens)
	v.SetDefault("defaults.temperature", d.Defaults.Temperature)
	v.SetDefault("defaults.batch_size", d.Defaults.BatchSize)
	v.SetDefault("defaults.concurrency", d.Defaults.Concurrency)
	v.SetDefault("defaults.max_retries", d.Defaults.MaxRetries)
	v.SetDefault("defaults.timeout_seconds", d.Defaults.TimeoutSeconds)
	v.SetDefault("defaults.mode", d.Defaults.Mode)
	v.SetDefault("defaults.fallback_page_count", d.Defaults.FallbackPageCount)
	v.SetDefault("defaults.require_full_coverage", d.Defaults.RequireFullCoverage)

	v.SetDefault("storage.documents_dir", d.Storage.DocumentsDir)
	v.SetDefault("storage.http_timeout_seconds", d.Storage.HTTPTimeoutSeconds)
	v.SetDefault("storage.render_dpi", d.Storage.RenderDPI)

	v.SetDefault("worker.interval_seconds", d.Worker.IntervalSeconds)
	v.SetDefault("worker.max_batches", d.Worker.MaxBatches)
	v.SetDefault("worker.budget_seconds", d.Worker.BudgetSeconds)
	v.SetDefault("worker.stale_after_seconds", d.Worker.StaleAfterSeconds)
	v.SetDefault("worker.auto_merge", d.Worker.AutoMerge)

	v.SetDefault("nats.enabled", d.NATS.Enabled)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.subject", d.NATS.Subject)
	v.SetDefault("nats.queue", d.NATS.Queue)

	v.SetDefault("postgres.container_name", d.Postgres.ContainerName)
	v.SetDefault("postgres.image", d.Postgres.Image)
	v.SetDefault("postgres.port", d.Postgres.Port)
	v.SetDefault("postgres.user", d.Postgres.User)
	v.SetDefault("postgres.password", d.Postgres.Password)
	v.SetDefault("postgres.database", d.Postgres.Database)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultConfig().Providers
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SetLogger sets the logger used for reload events.
func (cm *Manager) SetLogger(logger *slog.Logger) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.logger = logger
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// Lookup returns the raw value of a dotted key, or false if it is unset.
func (cm *Manager) Lookup(key string) (any, bool) {
	if !cm.v.IsSet(key) {
		return nil, false
	}
	return cm.v.Get(key), true
}

// ConfigFileUsed returns the path of the loaded file, empty when none.
func (cm *Manager) ConfigFileUsed() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An invalid edit is
// logged and the previous config stays in effect.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()

		cm.mu.Lock()
		logger := cm.logger
		if err != nil {
			cm.mu.Unlock()
			logger.Warn("config reload failed, keeping previous config", "file", e.Name, "error", err)
			return
		}
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		logger.Info("config reloaded", "file", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		Default:      c.Defaults.Provider,
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, p := range c.Providers {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      p.Type,
			Model:     p.Model,
			APIKey:    ResolveEnvVars(p.APIKey),
			BaseURL:   p.BaseURL,
			RateLimit: p.RateLimit,
			Enabled:   p.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# Takeoff configuration
# API keys and the postgres dsn use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export OPENROUTER_API_KEY=xxx OPENAI_API_KEY=xxx
# Any key can be overridden from the environment, e.g. TAKEOFF_DATABASE_DRIVER=postgres

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
