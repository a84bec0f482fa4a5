package agent

import (
	"github.com/harun/taskchat/pkg/toolconn"
)

// Message represents a message in the model conversation
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters for one model call
type Request struct {
	Model        string
	Messages     []Message
	Tools        []toolconn.Tool
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the completed model turn
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ModelConfig configures which model serves a run
type ModelConfig struct {
	Provider    string  `json:"provider"` // "openai", "anthropic"
	Model       string  `json:"model"`
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// DefaultMaxTokens is applied when the configuration leaves MaxTokens unset
const DefaultMaxTokens = 4096
