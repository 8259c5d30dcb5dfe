// Package client calls a running profiler service.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/profiler/models"
)

// defaultTimeout covers a full pipeline run on the server
const defaultTimeout = 15 * time.Minute

// APIError is a non-200 response from the service
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("profiler API error (%d): %s", e.StatusCode, e.Message)
}

// Client talks to the profiler HTTP API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithToken sends token as a bearer credential
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.httpClient = h
	}
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ExtractInfo asks the service to profile companyURL
func (c *Client) ExtractInfo(ctx context.Context, companyURL string) (models.ExtractionResult, error) {
	return c.extract(ctx, companyURL, false)
}

// Refresh profiles companyURL, bypassing any stored result
func (c *Client) Refresh(ctx context.Context, companyURL string) (models.ExtractionResult, error) {
	return c.extract(ctx, companyURL, true)
}

func (c *Client) extract(ctx context.Context, companyURL string, force bool) (models.ExtractionResult, error) {
	query := url.Values{}
	query.Set("url", companyURL)
	if force {
		query.Set("force", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/extract-info?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call profiler: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var result models.ExtractionResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

// errorMessage pulls the "error" field from a failure body, falling back to the raw text
func errorMessage(body []byte) string {
	var failure models.ErrorResponse
	if err := json.Unmarshal(body, &failure); err == nil && failure.Error != "" {
		return failure.Error
	}
	return strings.TrimSpace(string(body))
}
