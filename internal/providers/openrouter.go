package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPS          float64 // Requests per second (0 = unlimited)
	HTTPClient   *http.Client
}

// OpenRouterClient implements LLMClient using the OpenRouter API.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rps          float64
	client       *http.Client
	limiter      *RateLimiter
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rps:          cfg.RPS,
		client:       client,
		limiter:      NewRateLimiter(cfg.RPS),
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Chat sends a single chat completion request.
func (c *OpenRouterClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	result := &ChatResult{
		RequestID: requestID,
		Provider:  OpenRouterName,
		ModelUsed: model,
	}
	fail := func(kind string, err error) (*ChatResult, error) {
		result.ErrorType = kind
		result.ErrorMessage = err.Error()
		result.ExecutionTime = time.Since(start)
		return result, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fail("rate_limiter", err)
	}

	orReq := openRouterRequest{
		Model:       model,
		Messages:    make([]openRouterMessage, 0, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Usage:       &openRouterUsageRequest{Include: true},
	}
	for _, m := range req.Messages {
		orMsg := openRouterMessage{Role: m.Role}
		if len(m.Images) > 0 {
			content := []openRouterContent{{Type: "text", Text: m.Content}}
			for _, img := range m.Images {
				content = append(content, openRouterContent{
					Type:     "image_url",
					ImageURL: &openRouterImageURL{URL: imageDataURL(img)},
				})
			}
			orMsg.Content = content
		} else {
			orMsg.Content = m.Content
		}
		orReq.Messages = append(orReq.Messages, orMsg)
	}

	orResp, err := c.doRequest(ctx, "/chat/completions", &orReq)
	if err != nil {
		if _, ok := IsRateLimitError(err); ok {
			c.limiter.Drain()
			return fail("rate_limited", err)
		}
		return fail("http_error", err)
	}

	if orResp.Error != nil {
		return fail("api_error", orResp.Error.asError())
	}
	if len(orResp.Choices) == 0 {
		return fail("empty_response", &APIError{Provider: OpenRouterName, Message: "no choices in response"})
	}

	choice := orResp.Choices[0]
	switch content := choice.Message.Content.(type) {
	case string:
		result.Content = content
	case nil:
	default:
		b, err := json.Marshal(content)
		if err != nil {
			return fail("content_marshal_error", fmt.Errorf("failed to marshal content: %w", err))
		}
		result.Content = string(b)
	}

	result.Success = true
	result.FinishReason = choice.FinishReason
	if orResp.Model != "" {
		result.ModelUsed = orResp.Model
	}
	result.PromptTokens = orResp.Usage.PromptTokens
	result.CompletionTokens = orResp.Usage.CompletionTokens
	result.TotalTokens = orResp.Usage.TotalTokens
	result.CostUSD = orResp.Usage.Cost
	result.ExecutionTime = time.Since(start)
	return result, nil
}

// doRequest performs one HTTP round trip and classifies the response.
func (c *OpenRouterClient) doRequest(ctx context.Context, path string, orReq *openRouterRequest) (*openRouterResponse, error) {
	body, err := json.Marshal(orReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/takeoff")
	req.Header.Set("X-Title", "Takeoff")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{
			Provider:   OpenRouterName,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    truncateBody(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: OpenRouterName, StatusCode: resp.StatusCode, Message: truncateBody(respBody)}
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &orResp, nil
}

// OpenRouter API types

type openRouterRequest struct {
	Model       string                  `json:"model"`
	Messages    []openRouterMessage     `json:"messages"`
	Temperature float64                 `json:"temperature,omitempty"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Usage       *openRouterUsageRequest `json:"usage,omitempty"`
}

type openRouterUsageRequest struct {
	Include bool `json:"include"`
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []openRouterContent
}

type openRouterContent struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int     `json:"prompt_tokens"`
		CompletionTokens int     `json:"completion_tokens"`
		TotalTokens      int     `json:"total_tokens"`
		Cost             float64 `json:"cost,omitempty"`
	} `json:"usage"`
	Error *openRouterError `json:"error,omitempty"`
}

// openRouterError is returned in a 200 body when the upstream model fails.
type openRouterError struct {
	Message string `json:"message"`
	Code    any    `json:"code,omitempty"` // string or int
}

func (e *openRouterError) asError() error {
	code := 0
	switch v := e.Code.(type) {
	case float64:
		code = int(v)
	case string:
		if v == "rate_limit_exceeded" {
			code = http.StatusTooManyRequests
		}
	}
	if code == http.StatusTooManyRequests {
		return &RateLimitError{Provider: OpenRouterName, StatusCode: code, Message: e.Message}
	}
	return &APIError{Provider: OpenRouterName, StatusCode: code, Message: e.Message}
}

var _ LLMClient = (*OpenRouterClient)(nil)
