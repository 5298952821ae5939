package providers

import (
	"context"
	"net/http"
	"time"
)

// LLMClient is the interface every chat provider implements.
//
// Clients make a single attempt per Chat call. Retries, backoff and
// fallback selection belong to the caller, which needs to see each
// rate-limit response to update shared backpressure state.
type LLMClient interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string
}

// Message represents a chat message.
type Message struct {
	Role    string   `json:"role"` // "system", "user", "assistant"
	Content string   `json:"content"`
	Images  [][]byte `json:"-"` // Rendered page images, sent as data URLs
}

// ChatRequest is a request to an LLM.
type ChatRequest struct {
	Messages []Message `json:"messages"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Timeout     time.Duration

	RequestID string `json:"-"`
}

// ChatResult is the response from one LLM call.
type ChatResult struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// CostUSD is the provider-reported cost, zero when the provider does not
	// report one.
	CostUSD       float64       `json:"cost_usd"`
	ExecutionTime time.Duration `json:"execution_time"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`
	RequestID string `json:"request_id"`

	Success      bool   `json:"success"`
	ErrorType    string `json:"error_type,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// imageDataURL encodes an image as a data URL, sniffing its content type.
func imageDataURL(img []byte) string {
	mime := http.DetectContentType(img)
	if mime == "application/octet-stream" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + base64Encode(img)
}
