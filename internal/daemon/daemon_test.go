package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/taskchat/internal/config"
	"github.com/harun/taskchat/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Gateway.Host = "127.0.0.1"
	cfg.Gateway.Port = 18100
	cfg.Tools.ServerURL = "https://tools.example.com/mcp"
	cfg.AI.OpenAIAPIKey = "sk-test"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "threads.db")
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })
	return log
}

func TestNew(t *testing.T) {
	t.Run("should require config and logger", func(t *testing.T) {
		_, err := New(nil, testLogger(t), Options{})
		assert.ErrorContains(t, err, "config")

		_, err = New(testConfig(t), nil, Options{})
		assert.ErrorContains(t, err, "logger")
	})

	t.Run("should reject invalid configuration", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Tools.ServerURL = ""

		_, err := New(cfg, testLogger(t), Options{})
		assert.ErrorContains(t, err, "invalid configuration")
	})

	t.Run("should build the full module graph", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Gateway.Port = 18099

		d, err := New(cfg, testLogger(t), Options{Tokens: map[string]string{"tok": "user-1"}})
		require.NoError(t, err)

		assert.NotNil(t, d.store)
		assert.NotNil(t, d.cache)
		assert.NotNil(t, d.retention)
		assert.NotNil(t, d.gateway)
		assert.False(t, d.IsRunning())
	})
}

func TestDaemonLifecycle(t *testing.T) {
	cfg := testConfig(t)
	cfg.Gateway.Port = 18098

	d, err := New(cfg, testLogger(t), Options{})
	require.NoError(t, err)

	t.Run("should start and stop", func(t *testing.T) {
		require.NoError(t, d.Start())
		assert.True(t, d.IsRunning())
		assert.True(t, d.retention.IsRunning())

		require.NoError(t, d.Stop())
		assert.False(t, d.IsRunning())
	})

	t.Run("should reject stop when not running", func(t *testing.T) {
		assert.Error(t, d.Stop())
	})
}

func TestModelConfig(t *testing.T) {
	t.Run("should select the anthropic key for anthropic", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Chat.Provider = "anthropic"
		cfg.Chat.Model = "claude-sonnet-4-5"
		cfg.AI.AnthropicAPIKey = "sk-ant-test"
		cfg.Gateway.Port = 18097

		d, err := New(cfg, testLogger(t), Options{})
		require.NoError(t, err)

		model := d.modelConfig()
		assert.Equal(t, "anthropic", model.Provider)
		assert.Equal(t, "sk-ant-test", model.APIKey)
	})
}
