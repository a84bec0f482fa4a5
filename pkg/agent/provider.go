package agent

import (
	"context"
	"fmt"
)

// Provider is a streaming model API client. Stream makes one model call,
// invoking onDelta for each text fragment as it arrives, and returns the
// completed turn including any tool calls the model requested.
type Provider interface {
	Stream(ctx context.Context, request Request, onDelta func(text string)) (*Response, error)

	// Name returns the provider name
	Name() string
}

// ProviderCreator creates model providers from configuration
type ProviderCreator interface {
	NewProvider(cfg ModelConfig) (Provider, error)
}

// ProviderFactory creates model providers
type ProviderFactory struct{}

// NewProvider creates a provider for the configured backend. An explicit
// BaseURL routes through the OpenAI-compatible surface, which also covers
// Gemini and local inference servers.
func (f *ProviderFactory) NewProvider(cfg ModelConfig) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicProvider(cfg.APIKey), nil
	case "openai", "gemini":
		return NewOpenAIProvider(cfg.APIKey, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
