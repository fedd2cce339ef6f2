package provider

import (
	"context"
	"errors"
	"fmt"
	"os"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenRouter implements Adapter against OpenRouter's OpenAI-compatible API.
// Reasoning-heavy models reachable there tend to leak their deliberation into
// the visible output, so completions pass through narrative extraction before
// being returned. Because that cleanup needs the whole text, this adapter has
// no native streaming; callers fall back to simulated streaming.
type OpenRouter struct {
	inner *OpenAI
}

// NewOpenRouter creates an OpenRouter-backed adapter.
func NewOpenRouter(cfg Config) (*OpenRouter, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing API key (set OPENROUTER_API_KEY or provide in config)", ErrInvalidConfig)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openRouterBaseURL
	}

	inner, err := NewOpenAI(Config{APIKey: apiKey, Model: cfg.Model, BaseURL: baseURL})
	if err != nil {
		return nil, err
	}
	return &OpenRouter{inner: inner}, nil
}

// Name returns the adapter identifier.
func (o *OpenRouter) Name() string { return "openrouter" }

// Supports reports text-only capability.
func (o *OpenRouter) Supports(m Modality) bool { return m == ModalityText }

// Generate sends the request and returns the completion with reasoning
// preamble and meta-commentary stripped.
func (o *OpenRouter) Generate(ctx context.Context, req Request) (*Result, error) {
	res, err := o.inner.Generate(ctx, req)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			perr.Provider = o.Name()
		}
		return nil, err
	}

	cleaned := ExtractNarrative(res.Content)
	if cleaned == "" {
		return nil, newError(o.Name(), 0, "completion empty after narrative extraction", nil)
	}
	res.Content = cleaned
	return res, nil
}
