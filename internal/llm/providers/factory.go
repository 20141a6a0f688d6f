package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/chatcore/internal/llm"
)

// Supported provider kinds.
const (
	KindNone      = "none"
	KindOpenAI    = "openai"
	KindAnthropic = "anthropic"
	KindGoogle    = "google"
	KindBedrock   = "bedrock"
)

// Config selects and configures one provider.
type Config struct {
	Kind    string
	APIKey  string
	BaseURL string
	Model   string

	// Bedrock only.
	Region          string
	AccessKeyID     string
	SecretAccessKey string

	MaxRetries int
	RetryDelay time.Duration
}

// New builds the provider named by cfg.Kind. Kind "none" or empty returns a
// nil provider, which callers treat as generation being unavailable.
func New(ctx context.Context, cfg Config) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindNone:
		return nil, nil
	case KindOpenAI:
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case KindAnthropic:
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case KindGoogle:
		return NewGoogleProvider(ctx, GoogleConfig{
			APIKey:       cfg.APIKey,
			DefaultModel: cfg.Model,
			MaxRetries:   cfg.MaxRetries,
			RetryDelay:   cfg.RetryDelay,
		})
	case KindBedrock:
		return NewBedrockProvider(ctx, BedrockConfig{
			Region:          cfg.Region,
			AccessKeyID:     cfg.AccessKeyID,
			SecretAccessKey: cfg.SecretAccessKey,
			DefaultModel:    cfg.Model,
			MaxRetries:      cfg.MaxRetries,
			RetryDelay:      cfg.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Kind)
	}
}
