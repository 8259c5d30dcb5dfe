package profiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/docutag/profiler/metrics"
)

// Fetcher retrieves the body of a page
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchConfig contains fetcher configuration
type FetchConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"` // Total attempts per URL
	Timeout      time.Duration `mapstructure:"timeout"`     // Per-attempt request timeout
	RetryDelay   time.Duration `mapstructure:"retry_delay"` // Constant wait between attempts
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// DefaultFetchConfig returns default fetcher configuration
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		MaxRetries:   3,
		Timeout:      120 * time.Second,
		RetryDelay:   2 * time.Second,
		UserAgent:    "Mozilla/5.0 (compatible; Profiler/1.0)",
		MaxBodyBytes: 10 * 1024 * 1024,
	}
}

// withDefaults fills zero values. A negative RetryDelay retries without waiting.
func (c FetchConfig) withDefaults() FetchConfig {
	defaults := DefaultFetchConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaults.RetryDelay
	}
	if c.UserAgent == "" {
		c.UserAgent = defaults.UserAgent
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaults.MaxBodyBytes
	}
	return c
}

// FetchError is returned once every attempt for a URL has failed.
// Callers treat it as "no content" for that page.
type FetchError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// HTTPFetcher fetches pages over HTTP with bounded retries
type HTTPFetcher struct {
	httpClient   *http.Client
	maxRetries   int
	timeout      time.Duration
	userAgent    string
	maxBodyBytes int64
	newBackoff   func() backoff.BackOff
	logger       *zap.Logger
	metrics      *metrics.Metrics
}

// FetcherOption configures an HTTPFetcher
type FetcherOption func(*HTTPFetcher)

// WithBackoff replaces the wait policy between attempts. The factory is called once per Fetch.
func WithBackoff(newBackoff func() backoff.BackOff) FetcherOption {
	return func(f *HTTPFetcher) {
		f.newBackoff = newBackoff
	}
}

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *HTTPFetcher) {
		f.httpClient = c
	}
}

// WithFetchLogger sets the logger
func WithFetchLogger(l *zap.Logger) FetcherOption {
	return func(f *HTTPFetcher) {
		f.logger = l
	}
}

// WithFetchMetrics records attempts in m
func WithFetchMetrics(m *metrics.Metrics) FetcherOption {
	return func(f *HTTPFetcher) {
		f.metrics = m
	}
}

// NewHTTPFetcher creates a fetcher whose client propagates trace context
func NewHTTPFetcher(config FetchConfig, opts ...FetcherOption) *HTTPFetcher {
	config = config.withDefaults()

	delay := max(config.RetryDelay, 0)
	f := &HTTPFetcher{
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		maxRetries:   config.MaxRetries,
		timeout:      config.Timeout,
		userAgent:    config.UserAgent,
		maxBodyBytes: config.MaxBodyBytes,
		newBackoff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(delay)
		},
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch makes up to maxRetries attempts and returns the UTF-8 body of the first 2xx response.
func (f *HTTPFetcher) Fetch(ctx context.Context, targetURL string) (string, error) {
	attempts := 0
	var body string

	operation := func() error {
		attempts++
		text, err := f.get(ctx, targetURL)
		if err != nil {
			f.metrics.Fetch("error")
			return err
		}
		f.metrics.Fetch("success")
		body = text
		return nil
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Warn("fetch attempt failed",
			zap.String("url", targetURL),
			zap.Int("attempt", attempts),
			zap.Duration("retry_in", wait),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackoff(), uint64(f.maxRetries-1)), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		f.logger.Error("giving up on page",
			zap.String("url", targetURL),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return "", &FetchError{URL: targetURL, Attempts: attempts, Err: err}
	}

	return body, nil
}

// get performs a single attempt
func (f *HTTPFetcher) get(ctx context.Context, targetURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return "", &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, f.maxBodyBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("failed to detect charset: %w", err)
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}

	return string(data), nil
}

// IsFetchError reports whether err came from an exhausted fetch
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}
