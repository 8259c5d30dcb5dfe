// Package llm provides text completion clients for the language model providers the
// profiler can talk to. Every client is safe for concurrent use.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider names accepted by New
const (
	ProviderOllama    = "ollama"
	ProviderCohere    = "cohere"
	ProviderAnthropic = "anthropic"
)

// maxResponseSize limits the provider response body
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// ErrEmptyCompletion is returned when the provider answered without any text
var ErrEmptyCompletion = errors.New("empty completion")

// Options tunes a single completion
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Completer turns a prompt into generated text
type Completer interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// CompleterFunc adapts a function to the Completer interface
type CompleterFunc func(ctx context.Context, prompt string, opts Options) (string, error)

// Complete calls f
func (f CompleterFunc) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	return f(ctx, prompt, opts)
}

// Config selects and configures a provider
type Config struct {
	Provider string        `mapstructure:"provider"`
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Retry    RetryConfig   `mapstructure:"retry"`
}

// DefaultConfig selects Ollama. An empty BaseURL or Model takes the provider's default.
func DefaultConfig() Config {
	return Config{
		Provider: ProviderOllama,
		Timeout:  180 * time.Second,
		Retry:    DefaultRetryConfig(),
	}
}

// Validate rejects unknown providers and missing credentials
func (c Config) Validate() error {
	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts must not be negative")
	}
	switch strings.ToLower(c.Provider) {
	case ProviderOllama, "":
		return nil
	case ProviderCohere, ProviderAnthropic:
		if c.APIKey == "" {
			return fmt.Errorf("%s API key is required", strings.ToLower(c.Provider))
		}
		return nil
	default:
		return fmt.Errorf("unknown llm provider: %q", c.Provider)
	}
}

// New builds the client for cfg.Provider. Transient provider errors are retried
// unless cfg.Retry.MaxAttempts is 1.
func New(cfg Config) (Completer, error) {
	completer, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Retry.MaxAttempts == 1 {
		return completer, nil
	}
	return WithRetry(completer, cfg.Retry), nil
}

func newProvider(cfg Config) (Completer, error) {
	httpClient := newHTTPClient(cfg.Timeout)

	switch strings.ToLower(cfg.Provider) {
	case ProviderOllama, "":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, httpClient), nil
	case ProviderCohere:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("cohere API key is required")
		}
		return NewCohereClient(cfg.BaseURL, cfg.Model, cfg.APIKey, httpClient), nil
	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return NewAnthropicClient(cfg.BaseURL, cfg.Model, cfg.APIKey, httpClient), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// TransientError is a provider failure that may succeed later (rate limits, 5xx)
type TransientError struct {
	err error
}

func (e *TransientError) Error() string { return e.err.Error() }
func (e *TransientError) Unwrap() error { return e.err }

// FatalError is a provider failure that will not succeed on retry
type FatalError struct {
	err error
}

func (e *FatalError) Error() string { return e.err.Error() }
func (e *FatalError) Unwrap() error { return e.err }

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// IsFatal reports whether err is permanent
func IsFatal(err error) bool {
	var fatal *FatalError
	return errors.As(err, &fatal)
}

// statusError classifies a non-2xx provider response
func statusError(provider string, status int, body []byte) error {
	err := fmt.Errorf("%s API error: status %d: %s", provider, status, truncate(string(body), 200))
	if status == http.StatusTooManyRequests || status >= 500 {
		return &TransientError{err: err}
	}
	return &FatalError{err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
