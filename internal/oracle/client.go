// Package oracle wraps a black-box language model behind a typed decision
// contract: item text in, a validated Decision (or nothing) out.
package oracle

import (
	"context"
	"fmt"
	"time"
)

// Client defines the minimal interface for LLM providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ClientConfig selects and configures an LLM provider.
type ClientConfig struct {
	Provider string // "gemini"
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// NewClient creates an LLM client for the configured provider.
func NewClient(cfg ClientConfig) (Client, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClientWithConfig(GeminiConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
