package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel is used when no model is configured
const DefaultAnthropicModel = "claude-3-5-haiku-latest"

// defaultAnthropicMaxTokens applies when the caller leaves MaxTokens unset; the API requires one.
const defaultAnthropicMaxTokens = 1024

// AnthropicClient calls the Messages API through the official SDK
type AnthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropicClient creates a client. Retries are left to the caller.
func NewAnthropicClient(baseURL, model, apiKey string, httpClient *http.Client) *AnthropicClient {
	if model == "" {
		model = DefaultAnthropicModel
	}
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

// Complete sends the prompt as a single user message and concatenates the text blocks
func (c *AnthropicClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
				return "", &TransientError{err: fmt.Errorf("anthropic API error: %w", err)}
			}
			return "", &FatalError{err: fmt.Errorf("anthropic API error: %w", err)}
		}
		return "", &TransientError{err: fmt.Errorf("anthropic request failed: %w", err)}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptyCompletion
	}

	return text.String(), nil
}
