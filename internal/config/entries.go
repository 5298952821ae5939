package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"
)

var (
	// ErrInvalidKey is returned when a config key contains invalid characters.
	ErrInvalidKey = errors.New("invalid config key")

	// ErrUnknownKey is returned when a key is neither set nor defaulted.
	ErrUnknownKey = errors.New("unknown config key")
)

// Entry is one effective configuration value.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

var descriptions = map[string]string{
	"database.driver":                    "Job store: sqlite, postgres or memory",
	"database.dsn":                       "Postgres connection string (supports ${ENV_VAR})",
	"database.path":                      "SQLite file (default: {home}/data/takeoff.db)",
	"database.max_conns":                 "Postgres pool size",
	"database.statement_timeout_seconds": "Postgres statement timeout",
	"database.connect_attempts":          "Postgres connection attempts at startup",
	"defaults.provider":                  "Provider for model ids without a provider prefix",
	"defaults.primary_model":             "Primary model as provider:model",
	"defaults.fallback_models":           "Fallback models tried after a rate limit; only the first is used",
	"defaults.max_tokens":                "Completion token limit per batch call",
	"defaults.temperature":               "Sampling temperature",
	"defaults.batch_size":                "Pages per batch",
	"defaults.concurrency":               "Batches processed in parallel per invocation",
	"defaults.max_retries":               "Attempts per batch before it is marked failed",
	"defaults.timeout_seconds":           "Per-call model timeout",
	"defaults.mode":                      "Analysis mode: takeoff, quality_analysis or both",
	"defaults.fallback_page_count":       "Page count used when a document cannot be inspected",
	"defaults.require_full_coverage":     "Refuse to merge until every batch completed",
	"storage.documents_dir":              "Root for relative document references (default: {home}/documents)",
	"storage.http_timeout_seconds":       "Timeout for documents fetched by URL",
	"storage.render_dpi":                 "Resolution of rendered page images",
	"worker.interval_seconds":            "Scheduler tick",
	"worker.max_batches":                 "Batches claimed per job per tick",
	"worker.budget_seconds":              "Time after which no new batch is started in one invocation",
	"worker.stale_after_seconds":         "Processing lease before a batch is reclaimed",
	"worker.auto_merge":                  "Merge jobs once no batch is pending or processing",
	"nats.enabled":                       "Consume process requests from NATS",
	"nats.url":                           "NATS server URL",
	"nats.subject":                       "Subject carrying process requests",
	"nats.queue":                         "Queue group shared by workers",
	"postgres.container_name":            "Local Postgres container name",
	"postgres.image":                     "Local Postgres image",
	"postgres.port":                      "Host port of the local Postgres container",
	"server.host":                        "HTTP listen host",
	"server.port":                        "HTTP listen port",
}

// Describe returns the documentation for a key, if any.
func Describe(key string) string {
	if d, ok := descriptions[key]; ok {
		return d
	}
	if strings.HasPrefix(key, "providers.") {
		switch key[strings.LastIndex(key, ".")+1:] {
		case "type":
			return "Provider type: openrouter, openai or mock"
		case "api_key":
			return "API key (supports ${ENV_VAR})"
		case "rate_limit":
			return "Requests per second (0 = unlimited)"
		}
	}
	return ""
}

// Entry returns the effective value of one key.
func (cm *Manager) Entry(key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	val, ok := cm.Lookup(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return &Entry{Key: key, Value: redact(key, val), Description: Describe(key)}, nil
}

// Entries returns every effective key under prefix, sorted. Secrets that
// are not ${ENV_VAR} references are masked.
func (cm *Manager) Entries(prefix string) []Entry {
	keys := cm.v.AllKeys()
	sort.Strings(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		out = append(out, Entry{Key: k, Value: redact(k, cm.v.Get(k)), Description: Describe(k)})
	}
	return out
}

func redact(key string, val any) any {
	s, ok := val.(string)
	if !ok || s == "" || envPattern.MatchString(s) {
		return val
	}
	for _, suffix := range []string{"api_key", "password", "dsn"} {
		if strings.HasSuffix(key, suffix) {
			return "********"
		}
	}
	return val
}
