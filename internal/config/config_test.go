package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 600, cfg.Tools.IdleTTLSeconds)
	assert.Equal(t, 30, cfg.Tools.ConnectTimeoutSeconds)
	assert.Equal(t, "openai", cfg.Chat.Provider)
	assert.Equal(t, 20, cfg.Chat.HistoryLimit)
	assert.Equal(t, 120, cfg.Chat.RunTimeoutSeconds)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Equal(t, 90, cfg.Storage.RetentionDays)
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Tools.ServerURL = "https://tools.example.com/mcp"
		cfg.AI.OpenAIAPIKey = "sk-test123456789"
		return cfg
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing tool server URL", func(t *testing.T) {
		cfg := valid()
		cfg.Tools.ServerURL = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "tool server URL")
	})

	t.Run("invalid gateway port", func(t *testing.T) {
		cfg := valid()
		cfg.Gateway.Port = 0

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "port")
	})

	t.Run("zero idle TTL", func(t *testing.T) {
		cfg := valid()
		cfg.Tools.IdleTTLSeconds = 0

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "idle TTL")
	})

	t.Run("unsupported provider", func(t *testing.T) {
		cfg := valid()
		cfg.Chat.Provider = "cohere"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported provider")
	})

	t.Run("missing provider credential", func(t *testing.T) {
		cfg := valid()
		cfg.Chat.Provider = "anthropic"
		cfg.AI.AnthropicAPIKey = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "anthropic")
	})

	t.Run("temperature out of range", func(t *testing.T) {
		cfg := valid()
		cfg.Chat.Temperature = 3.5

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "temperature")
	})
}
