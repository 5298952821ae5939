package jobs

import (
	"github.com/jackzampolin/takeoff/internal/store"
	"github.com/jackzampolin/takeoff/internal/takeoff"
)

// Built-in job defaults.
const (
	DefaultPrimaryModel  = "openrouter:anthropic/claude-sonnet-4"
	DefaultFallbackModel = "openrouter:openai/gpt-4o"
	DefaultMaxTokens     = 4096
	DefaultTemperature   = 0.2

	DefaultBatchSize      = 5
	DefaultConcurrency    = 3
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 120
)

// DefaultModelPolicy returns the built-in model policy: one primary model
// and one fallback.
func DefaultModelPolicy() store.ModelPolicy {
	return store.ModelPolicy{
		Primary:     DefaultPrimaryModel,
		Fallbacks:   []string{DefaultFallbackModel},
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// DefaultBatchConfig returns the built-in batch configuration.
func DefaultBatchConfig() store.BatchConfig {
	return store.BatchConfig{
		BatchSize:      DefaultBatchSize,
		Concurrency:    DefaultConcurrency,
		MaxRetries:     DefaultMaxRetries,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

// Defaults are applied to fields a job request leaves unset.
type Defaults struct {
	ModelPolicy store.ModelPolicy
	BatchConfig store.BatchConfig
	Mode        takeoff.Mode

	// TemperatureSet marks ModelPolicy.Temperature as configured, so an
	// explicit 0 is kept.
	TemperatureSet bool

	// RequireFullCoverage refuses merges unless every batch completed.
	RequireFullCoverage bool
}

// BuiltinDefaults returns the defaults used when nothing is configured.
func BuiltinDefaults() Defaults {
	return Defaults{
		ModelPolicy: DefaultModelPolicy(),
		BatchConfig: DefaultBatchConfig(),
		Mode:        takeoff.DefaultMode,
	}
}

// withBuiltins fills zero fields from the built-in values.
func (d Defaults) withBuiltins() Defaults {
	b := BuiltinDefaults()
	if d.ModelPolicy.Primary == "" {
		d.ModelPolicy.Primary = b.ModelPolicy.Primary
	}
	if d.ModelPolicy.Fallbacks == nil {
		d.ModelPolicy.Fallbacks = b.ModelPolicy.Fallbacks
	}
	if d.ModelPolicy.MaxTokens <= 0 {
		d.ModelPolicy.MaxTokens = b.ModelPolicy.MaxTokens
	}
	if !d.TemperatureSet && d.ModelPolicy.Temperature == 0 {
		d.ModelPolicy.Temperature = b.ModelPolicy.Temperature
	}
	if d.BatchConfig.BatchSize <= 0 {
		d.BatchConfig.BatchSize = b.BatchConfig.BatchSize
	}
	if d.BatchConfig.Concurrency <= 0 {
		d.BatchConfig.Concurrency = b.BatchConfig.Concurrency
	}
	if d.BatchConfig.MaxRetries <= 0 {
		d.BatchConfig.MaxRetries = b.BatchConfig.MaxRetries
	}
	if d.BatchConfig.TimeoutSeconds <= 0 {
		d.BatchConfig.TimeoutSeconds = b.BatchConfig.TimeoutSeconds
	}
	if d.Mode == "" {
		d.Mode = b.Mode
	}
	return d
}

// PolicyOverride is the caller's partial model policy. Nil Fallbacks keeps
// the default list; an empty list disables fallback.
type PolicyOverride struct {
	Primary     string   `json:"primary,omitempty"`
	Fallbacks   []string `json:"fallbacks,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
}

// BatchOverride is the caller's partial batch configuration. Zero fields
// take the default.
type BatchOverride struct {
	BatchSize      int `json:"batch_size,omitempty"`
	Concurrency    int `json:"concurrency,omitempty"`
	MaxRetries     int `json:"max_retries,omitempty"`
	TimeoutSeconds int `json:"timeout_s,omitempty"`
}

// PageSelection is an optional inclusive page range. Zero means unset.
type PageSelection struct {
	Start int `json:"start,omitempty"`
	End   int `json:"end,omitempty"`
}

// JobConfig is a job creation request.
type JobConfig struct {
	DocumentRef string          `json:"pdf_ref"`
	PlanID      string          `json:"plan_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	Mode        string          `json:"mode,omitempty"`
	Pages       *PageSelection  `json:"pages,omitempty"`
	ModelPolicy *PolicyOverride `json:"model_policy,omitempty"`
	BatchConfig *BatchOverride  `json:"batch_config,omitempty"`
}

func (d Defaults) resolvePolicy(o *PolicyOverride) store.ModelPolicy {
	p := d.ModelPolicy
	p.Fallbacks = append([]string(nil), p.Fallbacks...)
	if o == nil {
		return p
	}
	if o.Primary != "" {
		p.Primary = o.Primary
	}
	if o.Fallbacks != nil {
		p.Fallbacks = append([]string{}, o.Fallbacks...)
	}
	if o.MaxTokens > 0 {
		p.MaxTokens = o.MaxTokens
	}
	if o.Temperature != nil {
		p.Temperature = *o.Temperature
	}
	return p
}

func (d Defaults) resolveBatchConfig(o *BatchOverride) (store.BatchConfig, error) {
	c := d.BatchConfig
	if o == nil {
		return c, nil
	}
	if o.BatchSize < 0 || o.Concurrency < 0 || o.MaxRetries < 0 || o.TimeoutSeconds < 0 {
		return c, invalidConfig("batch config values must not be negative")
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Concurrency > 0 {
		c.Concurrency = o.Concurrency
	}
	if o.MaxRetries > 0 {
		c.MaxRetries = o.MaxRetries
	}
	if o.TimeoutSeconds > 0 {
		c.TimeoutSeconds = o.TimeoutSeconds
	}
	return c, nil
}

// PartitionPages splits [start, end] into contiguous ranges of at most size
// pages.
func PartitionPages(start, end, size int) []takeoff.PageRange {
	if size <= 0 || start < 1 || end < start {
		return nil
	}
	n := (end - start + size) / size
	out := make([]takeoff.PageRange, 0, n)
	for s := start; s <= end; s += size {
		e := s + size - 1
		if e > end {
			e = end
		}
		out = append(out, takeoff.PageRange{Start: s, End: e})
	}
	return out
}
