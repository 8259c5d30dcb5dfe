package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Cohere defaults
const (
	DefaultCohereBaseURL = "https://api.cohere.ai"
	DefaultCohereModel   = "command-xlarge-nightly"
)

type cohereRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature"`
}

type cohereResponse struct {
	ID          string `json:"id"`
	Generations []struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"generations"`
}

// CohereClient calls the Cohere generate endpoint
type CohereClient struct {
	baseURL    string
	model      string
	apiKey     string
	httpClient *http.Client
}

// NewCohereClient creates a client; empty base URL and model fall back to defaults
func NewCohereClient(baseURL, model, apiKey string, httpClient *http.Client) *CohereClient {
	if baseURL == "" {
		baseURL = DefaultCohereBaseURL
	}
	if model == "" {
		model = DefaultCohereModel
	}
	if httpClient == nil {
		httpClient = newHTTPClient(0)
	}
	return &CohereClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// Complete returns the text of the first generation
func (c *CohereClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(cohereRequest{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &TransientError{err: fmt.Errorf("cohere request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError("cohere", resp.StatusCode, data)
	}

	var result cohereResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("failed to parse cohere response: %w", err)
	}

	if len(result.Generations) == 0 || strings.TrimSpace(result.Generations[0].Text) == "" {
		return "", ErrEmptyCompletion
	}

	return result.Generations[0].Text, nil
}
