package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockResponse is one scripted reply. A non-nil Err is returned instead of
// content.
type MockResponse struct {
	Content string
	Err     error
}

// MockClient is an LLMClient for testing.
type MockClient struct {
	// ProviderName overrides Name(); useful when a test needs two providers.
	ProviderName string

	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // Fail after N requests (0 = never)
	ResponseText string

	// Script is consumed in order, one entry per request. Once exhausted,
	// ResponseText is returned.
	Script []MockResponse

	// Handler, when set, computes the reply from the request and wins over
	// Script and ResponseText.
	Handler func(req *ChatRequest) (string, error)

	requestCount atomic.Int64

	mu       sync.Mutex
	requests []*ChatRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: `{"items": [], "quality_analysis": {"summary": "", "risks": [], "missing_info": [], "assumptions": [], "code_references": []}}`,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	if c.ProviderName != "" {
		return c.ProviderName
	}
	return MockClientName
}

// Chat returns the next scripted response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	var scripted *MockResponse
	if int(count) <= len(c.Script) {
		scripted = &c.Script[count-1]
	}
	c.mu.Unlock()

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  c.Name(),
		ModelUsed: req.Model,
	}
	fail := func(kind string, err error) (*ChatResult, error) {
		result.ErrorType = kind
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	if c.ShouldFail {
		return fail("mock_failure", fmt.Errorf("mock client configured to fail"))
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return fail("mock_failure", fmt.Errorf("mock client failed after %d requests", c.FailAfter))
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return fail("context_cancelled", ctx.Err())
		}
	}

	content := c.ResponseText
	switch {
	case c.Handler != nil:
		text, err := c.Handler(req)
		if err != nil {
			return fail("mock_failure", err)
		}
		content = text
	case scripted != nil:
		if scripted.Err != nil {
			if _, ok := IsRateLimitError(scripted.Err); ok {
				return fail("rate_limited", scripted.Err)
			}
			return fail("mock_failure", scripted.Err)
		}
		content = scripted.Content
	}

	promptTokens := 0
	for _, m := range req.Messages {
		promptTokens += len(m.Content) / 4 // Rough estimate
	}
	completionTokens := len(content) / 4

	result.Success = true
	result.Content = content
	result.FinishReason = "stop"
	result.PromptTokens = promptTokens
	result.CompletionTokens = completionTokens
	result.TotalTokens = promptTokens + completionTokens
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns the requests received so far.
func (c *MockClient) Requests() []*ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ChatRequest(nil), c.requests...)
}

// Reset clears the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

var _ LLMClient = (*MockClient)(nil)
