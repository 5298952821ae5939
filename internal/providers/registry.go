package providers

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry holds LLM clients by name. It supports config-driven
// instantiation and hot-reload, and is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	llmClients  map[string]LLMClient
	defaultName string
	logger      *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		llmClients: make(map[string]LLMClient),
		logger:     slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterLLM registers an LLM client by name.
func (r *Registry) RegisterLLM(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmClients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// UnregisterLLM removes an LLM client by name.
func (r *Registry) UnregisterLLM(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.llmClients, name)
}

// SetDefault names the provider used for bare model ids.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// GetLLM returns an LLM client by name.
func (r *Registry) GetLLM(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.llmClients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// ListLLM returns all registered LLM client names, sorted.
func (r *Registry) ListLLM() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.llmClients))
	for name := range r.llmClients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasLLM checks if an LLM client is registered.
func (r *Registry) HasLLM(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.llmClients[name]
	return ok
}

// ParseModelID splits "provider:model" into its parts. Ids without a known
// prefix return an empty provider.
//
// Model names may themselves contain colons (e.g. "openai/gpt-4o:free"), so
// only the first segment is treated as a provider, and only when it contains
// no slash.
func ParseModelID(id string) (provider, model string) {
	id = strings.TrimSpace(id)
	prefix, rest, ok := strings.Cut(id, ":")
	if !ok || prefix == "" || strings.Contains(prefix, "/") {
		return "", id
	}
	return prefix, rest
}

// Target is a model id resolved against the registry. Provider is the
// registry name the client was registered under, which is what rate-limit
// state and metrics are keyed by; two entries of the same client type stay
// independent.
type Target struct {
	Provider string
	Client   LLMClient
	Model    string
}

// Resolve maps a model id to a registered client and the model name to send.
// Bare ids go to the default provider, or the only registered one.
func (r *Registry) Resolve(id string) (Target, error) {
	provider, model := ParseModelID(id)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider != "" {
		client, ok := r.llmClients[provider]
		if !ok {
			return Target{}, fmt.Errorf("provider %q for model %q is not configured", provider, id)
		}
		return Target{Provider: provider, Client: client, Model: model}, nil
	}

	name := r.defaultName
	if name == "" && len(r.llmClients) == 1 {
		for only := range r.llmClients {
			name = only
		}
	}
	client, ok := r.llmClients[name]
	if !ok {
		return Target{}, fmt.Errorf("no provider for model %q", id)
	}
	return Target{Provider: name, Client: client, Model: model}, nil
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	// Default names the provider used for model ids without a prefix.
	Default string

	// LLMProviders maps provider names to their config
	LLMProviders map[string]LLMProviderConfig
}

// LLMProviderConfig matches config.LLMProviderCfg with resolved API key.
type LLMProviderConfig struct {
	Type      string  // "openrouter", "openai", "mock"
	Model     string  // Default model
	APIKey    string  // Resolved API key
	BaseURL   string  // Optional endpoint override
	RateLimit float64 // Requests per second
	Enabled   bool
}

// NewRegistryFromConfig creates a registry with providers based on configuration.
// Only enabled providers with valid API keys will be registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry based on new configuration.
// Providers that are no longer configured will be unregistered.
// Providers with changed settings will be re-registered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaultName = cfg.Default
	want := make(map[string]bool)

	for name, provCfg := range cfg.LLMProviders {
		if !provCfg.Enabled || (provCfg.APIKey == "" && provCfg.Type != MockClientName) {
			continue
		}
		want[name] = true

		existing, hasExisting := r.llmClients[name]
		if hasExisting && !needsLLMUpdate(existing, provCfg) {
			continue
		}
		client := createLLMClient(provCfg)
		if client == nil {
			if r.logger != nil {
				r.logger.Warn("unknown LLM provider type", "name", name, "type", provCfg.Type)
			}
			continue
		}
		r.llmClients[name] = client
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
			}
		}
	}

	for name := range r.llmClients {
		if !want[name] {
			delete(r.llmClients, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM client", "name", name)
			}
		}
	}
}

// createLLMClient creates an LLM client based on provider type.
func createLLMClient(cfg LLMProviderConfig) LLMClient {
	switch cfg.Type {
	case OpenRouterName:
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RPS:          cfg.RateLimit,
		})
	case OpenAIName:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			RPS:          cfg.RateLimit,
		})
	case MockClientName:
		return NewMockClient()
	default:
		return nil
	}
}

// needsLLMUpdate checks if an LLM client needs to be recreated.
func needsLLMUpdate(client LLMClient, cfg LLMProviderConfig) bool {
	switch c := client.(type) {
	case *OpenRouterClient:
		return cfg.Type != OpenRouterName ||
			c.apiKey != cfg.APIKey ||
			(cfg.Model != "" && c.defaultModel != cfg.Model) ||
			c.rps != cfg.RateLimit ||
			(cfg.BaseURL != "" && c.baseURL != cfg.BaseURL)
	case *OpenAIClient:
		return cfg.Type != OpenAIName ||
			c.apiKey != cfg.APIKey ||
			(cfg.Model != "" && c.defaultModel != cfg.Model) ||
			c.rps != cfg.RateLimit ||
			c.baseURL != cfg.BaseURL
	case *MockClient:
		return cfg.Type != MockClientName
	default:
		return true
	}
}
