package config

import (
	"fmt"
)

// Config represents the main taskchat configuration
type Config struct {
	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tool backend (MCP server) connections
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Chat orchestration
	Chat ChatConfig `json:"chat" mapstructure:"chat"`

	// AI providers
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Thread storage
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`

	// Tokens maps bearer tokens to user IDs for the built-in verifier
	Tokens map[string]string `json:"tokens,omitempty" mapstructure:"tokens"`
}

// ToolsConfig holds tool backend connection configuration
type ToolsConfig struct {
	ServerURL             string `json:"server_url" mapstructure:"server_url"`
	ServerName            string `json:"server_name" mapstructure:"server_name"`
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds" mapstructure:"connect_timeout_seconds"`
	IdleTTLSeconds        int    `json:"idle_ttl_seconds" mapstructure:"idle_ttl_seconds"`
}

// ChatConfig holds chat orchestration configuration
type ChatConfig struct {
	Provider          string  `json:"provider" mapstructure:"provider"` // openai, anthropic
	Model             string  `json:"model" mapstructure:"model"`
	BaseURL           string  `json:"base_url" mapstructure:"base_url"` // optional OpenAI-compatible endpoint
	Temperature       float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens         int     `json:"max_tokens" mapstructure:"max_tokens"`
	HistoryLimit      int     `json:"history_limit" mapstructure:"history_limit"`
	RunTimeoutSeconds int     `json:"run_timeout_seconds" mapstructure:"run_timeout_seconds"`
	MaxToolRounds     int     `json:"max_tool_rounds" mapstructure:"max_tool_rounds"`
}

// AIConfig holds provider credentials
type AIConfig struct {
	OpenAIAPIKey    string `json:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `json:"anthropic_api_key" mapstructure:"anthropic_api_key"`
}

// StorageConfig holds thread store configuration
type StorageConfig struct {
	Path              string `json:"path" mapstructure:"path"`
	RetentionSchedule string `json:"retention_schedule" mapstructure:"retention_schedule"`
	RetentionDays     int    `json:"retention_days" mapstructure:"retention_days"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Tools: ToolsConfig{
			ServerName:            "todo-mcp",
			ConnectTimeoutSeconds: 30,
			IdleTTLSeconds:        600,
		},
		Chat: ChatConfig{
			Provider:          "openai",
			Model:             "gpt-4o-mini",
			Temperature:       0.7,
			MaxTokens:         4096,
			HistoryLimit:      20,
			RunTimeoutSeconds: 120,
			MaxToolRounds:     8,
		},
		Storage: StorageConfig{
			RetentionSchedule: "0 3 * * *",
			RetentionDays:     90,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port: %d", c.Gateway.Port)
	}
	if err := v.ValidateToolServerURL(c.Tools.ServerURL); err != nil {
		return err
	}
	if c.Tools.IdleTTLSeconds <= 0 {
		return fmt.Errorf("tools idle TTL must be positive, got %d", c.Tools.IdleTTLSeconds)
	}
	if c.Tools.ConnectTimeoutSeconds <= 0 {
		return fmt.Errorf("tools connect timeout must be positive, got %d", c.Tools.ConnectTimeoutSeconds)
	}
	if err := v.ValidateProvider(c.Chat.Provider); err != nil {
		return err
	}
	if err := v.ValidateModel(c.Chat.Model); err != nil {
		return err
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat history limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("chat temperature must be between 0 and 2, got %f", c.Chat.Temperature)
	}

	switch c.Chat.Provider {
	case "openai":
		if err := v.ValidateAPIKey(c.AI.OpenAIAPIKey, "openai"); err != nil {
			return err
		}
	case "anthropic":
		if err := v.ValidateAPIKey(c.AI.AnthropicAPIKey, "anthropic"); err != nil {
			return err
		}
	}

	return nil
}
