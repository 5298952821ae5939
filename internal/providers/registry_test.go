package providers

import (
	"sync"
	"testing"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get LLM", func(t *testing.T) {
		r := NewRegistry()
		mock := NewMockClient()

		r.RegisterLLM("test-llm", mock)

		client, err := r.GetLLM("test-llm")
		if err != nil {
			t.Fatalf("GetLLM() error = %v", err)
		}
		if client != mock {
			t.Error("got different client than registered")
		}
		if !r.HasLLM("test-llm") {
			t.Error("HasLLM() = false")
		}
	})

	t.Run("get nonexistent LLM", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.GetLLM("nonexistent"); err == nil {
			t.Error("expected error for nonexistent LLM")
		}
	})

	t.Run("list providers sorted", func(t *testing.T) {
		r := NewRegistry()
		r.RegisterLLM("llm2", NewMockClient())
		r.RegisterLLM("llm1", NewMockClient())

		names := r.ListLLM()
		if len(names) != 2 || names[0] != "llm1" {
			t.Errorf("ListLLM() = %v", names)
		}
		r.UnregisterLLM("llm1")
		if r.HasLLM("llm1") {
			t.Error("llm1 should be unregistered")
		}
	})

	t.Run("concurrent access", func(t *testing.T) {
		r := NewRegistry()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(2)
			go func() {
				defer wg.Done()
				r.RegisterLLM("shared", NewMockClient())
			}()
			go func() {
				defer wg.Done()
				r.ListLLM()
				r.HasLLM("shared")
			}()
		}
		wg.Wait()
	})
}

func TestParseModelID(t *testing.T) {
	tests := []struct {
		id, provider, model string
	}{
		{"openrouter:anthropic/claude-sonnet-4", "openrouter", "anthropic/claude-sonnet-4"},
		{"openai:gpt-4o", "openai", "gpt-4o"},
		{"gpt-4o", "", "gpt-4o"},
		{"meta-llama/llama-3.1-8b-instruct:free", "", "meta-llama/llama-3.1-8b-instruct:free"},
		{" openai:gpt-4o-mini ", "openai", "gpt-4o-mini"},
	}
	for _, tt := range tests {
		p, m := ParseModelID(tt.id)
		if p != tt.provider || m != tt.model {
			t.Errorf("ParseModelID(%q) = (%q, %q), want (%q, %q)", tt.id, p, m, tt.provider, tt.model)
		}
	}
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry()
	or := NewMockClient()
	or.ProviderName = "openrouter"
	oa := NewMockClient()
	oa.ProviderName = "openai"
	r.RegisterLLM("openrouter", or)
	r.RegisterLLM("openai", oa)

	got, err := r.Resolve("openai:gpt-4o")
	if err != nil || got.Client != oa || got.Model != "gpt-4o" || got.Provider != "openai" {
		t.Errorf("Resolve(prefixed) = %+v, %v", got, err)
	}

	if _, err := r.Resolve("anthropic/claude-sonnet-4"); err == nil {
		t.Error("bare id with two providers and no default should fail")
	}

	r.SetDefault("openrouter")
	got, err = r.Resolve("anthropic/claude-sonnet-4")
	if err != nil || got.Client != or || got.Model != "anthropic/claude-sonnet-4" || got.Provider != "openrouter" {
		t.Errorf("Resolve(bare) = %+v, %v", got, err)
	}

	if _, err := r.Resolve("mistral:large"); err == nil {
		t.Error("unconfigured provider prefix should fail")
	}

	single := NewRegistry()
	single.RegisterLLM("openrouter", or)
	if got, err := single.Resolve("x/y"); err != nil || got.Client != or {
		t.Errorf("single provider should serve bare ids: %v", err)
	}
}

func TestRegistry_ResolveKeysByRegistryName(t *testing.T) {
	// Two entries backed by the same client type.
	a := NewMockClient()
	a.ProviderName = OpenRouterName
	b := NewMockClient()
	b.ProviderName = OpenRouterName

	r := NewRegistry()
	r.RegisterLLM("or-main", a)
	r.RegisterLLM("or-spare", b)

	orMain, err := r.Resolve("or-main:anthropic/claude-sonnet-4")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	spare, err := r.Resolve("or-spare:openai/gpt-4o")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if orMain.Provider != "or-main" || spare.Provider != "or-spare" {
		t.Errorf("providers = %q, %q; want registry names", orMain.Provider, spare.Provider)
	}
	if orMain.Client.Name() != spare.Client.Name() {
		t.Error("both clients should report the same type name")
	}
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := RegistryConfig{
		Default: "openrouter",
		LLMProviders: map[string]LLMProviderConfig{
			"openrouter": {Type: "openrouter", Model: "anthropic/claude-sonnet-4", APIKey: "k1", RateLimit: 5, Enabled: true},
			"openai":     {Type: "openai", Model: "gpt-4o", APIKey: "k2", Enabled: true},
			"disabled":   {Type: "openrouter", APIKey: "k3", Enabled: false},
			"no-key":     {Type: "openai", Enabled: true},
			"local":      {Type: "mock", Enabled: true},
			"unknown":    {Type: "carrier-pigeon", APIKey: "k", Enabled: true},
		},
	}
	r := NewRegistryFromConfig(cfg)

	for _, name := range []string{"openrouter", "openai", "local"} {
		if !r.HasLLM(name) {
			t.Errorf("expected %s to be registered", name)
		}
	}
	for _, name := range []string{"disabled", "no-key", "unknown"} {
		if r.HasLLM(name) {
			t.Errorf("%s should not be registered", name)
		}
	}

	c, _ := r.GetLLM("openrouter")
	if orc, ok := c.(*OpenRouterClient); !ok || orc.rps != 5 {
		t.Errorf("openrouter client = %T", c)
	}
}

func TestRegistry_Reload(t *testing.T) {
	cfg := RegistryConfig{
		LLMProviders: map[string]LLMProviderConfig{
			"openrouter": {Type: "openrouter", APIKey: "k1", Enabled: true},
			"openai":     {Type: "openai", APIKey: "k2", Enabled: true},
		},
	}
	r := NewRegistryFromConfig(cfg)
	before, _ := r.GetLLM("openrouter")

	t.Run("unchanged config keeps clients", func(t *testing.T) {
		r.Reload(cfg)
		after, _ := r.GetLLM("openrouter")
		if after != before {
			t.Error("client was recreated without a config change")
		}
	})

	t.Run("changed key recreates client", func(t *testing.T) {
		cfg.LLMProviders["openrouter"] = LLMProviderConfig{Type: "openrouter", APIKey: "rotated", Enabled: true}
		r.Reload(cfg)
		after, _ := r.GetLLM("openrouter")
		if after == before {
			t.Error("client should be recreated after key rotation")
		}
	})

	t.Run("removed provider is unregistered", func(t *testing.T) {
		delete(cfg.LLMProviders, "openai")
		r.Reload(cfg)
		if r.HasLLM("openai") {
			t.Error("openai should be unregistered")
		}
	})
}
