// Package llm implements the LLM provider backends for Concerto
// connections. Each provider satisfies runtime.ModelProvider so the VM
// stays decoupled from any specific SDK or wire format.
package llm

import (
	"fmt"
	"time"

	"github.com/concerto-lang/concerto/internal/manifest"
	"github.com/concerto-lang/concerto/internal/runtime"
)

// ProviderError classifies a backend failure so retry policy can
// distinguish recoverable errors (rate limits) from fatal ones (auth).
type ProviderError struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Message, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Code)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRateLimitError checks if the error is a rate limit error.
func IsRateLimitError(err error) bool {
	if pe, ok := err.(*ProviderError); ok {
		return pe.Code == "rate_limit" || pe.Code == "rate_limit_exceeded"
	}
	return false
}

// IsAuthError checks if the error is an authentication error.
func IsAuthError(err error) bool {
	if pe, ok := err.(*ProviderError); ok {
		return pe.Code == "authentication_error" || pe.Code == "invalid_api_key"
	}
	return false
}

// New builds the provider backing one manifest connection, plus the
// runtime retry config derived from its retry section. A non-zero
// rate_limit wraps the provider in a token bucket so every call waits
// for a slot before reaching the backend.
func New(conn manifest.ConnectionConfig) (runtime.ModelProvider, runtime.RetryConfig, error) {
	retry := retryFromManifest(conn.Retry)

	provider, err := newBackend(conn)
	if err != nil {
		return nil, retry, err
	}
	return runtime.NewRateLimitedProvider(provider, conn.RateLimit), retry, nil
}

func newBackend(conn manifest.ConnectionConfig) (runtime.ModelProvider, error) {
	switch conn.Provider {
	case "anthropic":
		key, err := conn.APIKey()
		if err != nil {
			return nil, err
		}
		return NewAnthropicProvider(key, conn.DefaultModel), nil
	case "google", "gemini":
		key, err := conn.APIKey()
		if err != nil {
			return nil, err
		}
		return NewGeminiProvider(key, conn.DefaultModel)
	case "ollama":
		return NewOllamaProvider(conn.BaseURL, conn.DefaultModel), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", conn.Provider)
	}
}

func retryFromManifest(r manifest.RetryConfig) runtime.RetryConfig {
	cfg := runtime.DefaultRetryConfig()
	if r.MaxAttempts > 0 {
		cfg.MaxAttempts = r.MaxAttempts
	}
	switch r.Backoff {
	case "linear":
		cfg.Backoff = runtime.BackoffLinear
	case "exponential":
		cfg.Backoff = runtime.BackoffExponential
	}
	if r.InitialDelayMs > 0 {
		cfg.InitialDelay = time.Duration(r.InitialDelayMs) * time.Millisecond
	}
	if r.MaxDelayMs > 0 {
		cfg.MaxDelay = time.Duration(r.MaxDelayMs) * time.Millisecond
	}
	return cfg
}

// requestMessages normalises a runtime request into role/content turns;
// a bare prompt becomes a single user message.
func requestMessages(req runtime.ModelRequest) []runtime.ModelMessage {
	if len(req.Messages) > 0 {
		return req.Messages
	}
	return []runtime.ModelMessage{{Role: "user", Content: req.Prompt}}
}
