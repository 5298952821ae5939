package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenRouterClient_Chat(t *testing.T) {
	t.Run("successful chat", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != "POST" {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			if r.Header.Get("X-Title") != "Takeoff" {
				t.Errorf("missing X-Title header")
			}

			var req openRouterRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "anthropic/claude-sonnet-4" {
				t.Errorf("model = %s", req.Model)
			}
			if req.MaxTokens != 4096 || req.Temperature != 0.2 {
				t.Errorf("max_tokens/temperature = %d/%v", req.MaxTokens, req.Temperature)
			}
			if req.Usage == nil || !req.Usage.Include {
				t.Error("expected usage accounting to be requested")
			}

			resp := map[string]any{
				"id":    "test-id",
				"model": "anthropic/claude-sonnet-4",
				"choices": []map[string]any{
					{
						"message":       map[string]any{"role": "assistant", "content": `{"items": []}`},
						"finish_reason": "stop",
					},
				},
				"usage": map[string]any{
					"prompt_tokens":     1200,
					"completion_tokens": 300,
					"total_tokens":      1500,
					"cost":              0.0081,
				},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "test-key", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{
			Model:       "anthropic/claude-sonnet-4",
			Messages:    []Message{{Role: RoleUser, Content: "Analyze"}},
			MaxTokens:   4096,
			Temperature: 0.2,
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}
		if !result.Success {
			t.Error("expected Success = true")
		}
		if result.Content != `{"items": []}` {
			t.Errorf("Content = %q", result.Content)
		}
		if result.TotalTokens != 1500 || result.CostUSD != 0.0081 {
			t.Errorf("TotalTokens/CostUSD = %d/%v", result.TotalTokens, result.CostUSD)
		}
		if result.FinishReason != "stop" {
			t.Errorf("FinishReason = %q", result.FinishReason)
		}
	})

	t.Run("vision message with images", func(t *testing.T) {
		var got openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
		defer server.Close()

		png := []byte("\x89PNG\r\n\x1a\n0000")
		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "pages", Images: [][]byte{png, png}}},
		})
		if err != nil {
			t.Fatalf("Chat() error = %v", err)
		}

		parts, ok := got.Messages[0].Content.([]any)
		if !ok {
			t.Fatalf("content = %T, want multipart", got.Messages[0].Content)
		}
		if len(parts) != 3 {
			t.Fatalf("len(parts) = %d, want 3", len(parts))
		}
		img := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
		if !strings.HasPrefix(img, "data:image/png;base64,") {
			t.Errorf("image url = %.40s", img)
		}
	})

	t.Run("rate limited", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})

		rle, ok := IsRateLimitError(err)
		if !ok {
			t.Fatalf("expected RateLimitError, got %T: %v", err, err)
		}
		if rle.RetryAfter != 7*time.Second || rle.StatusCode != 429 || rle.Provider != OpenRouterName {
			t.Errorf("RateLimitError = %+v", rle)
		}
		if result == nil || result.Success || result.ErrorType != "rate_limited" {
			t.Errorf("result = %+v", result)
		}
	})

	t.Run("server error is an APIError", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
			t.Fatalf("err = %v, want APIError 502", err)
		}
		if calls != 1 {
			t.Errorf("calls = %d, want a single attempt", calls)
		}
		if StatusCode(err) != http.StatusBadGateway {
			t.Errorf("StatusCode() = %d", StatusCode(err))
		}
	})

	t.Run("error in 200 body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"message":"provider overloaded","code":429}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
		if _, ok := IsRateLimitError(err); !ok {
			t.Errorf("err = %v, want RateLimitError", err)
		}
	})

	t.Run("empty choices", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"x","choices":[]}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		result, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
		if err == nil {
			t.Fatal("expected error for empty choices")
		}
		if result.ErrorType != "empty_response" {
			t.Errorf("ErrorType = %q", result.ErrorType)
		}
	})

	t.Run("request timeout", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Chat(context.Background(), &ChatRequest{
			Messages: []Message{{Role: RoleUser, Content: "x"}},
			Timeout:  50 * time.Millisecond,
		})
		if err == nil {
			t.Error("expected timeout error")
		}
	})
}

func TestOpenRouterClient_Config(t *testing.T) {
	c := NewOpenRouterClient(OpenRouterConfig{APIKey: "k"})
	if c.baseURL != OpenRouterBaseURL {
		t.Errorf("baseURL = %s", c.baseURL)
	}
	if c.defaultModel == "" {
		t.Error("expected a default model")
	}
	if c.Name() != OpenRouterName {
		t.Errorf("Name() = %s", c.Name())
	}
}
