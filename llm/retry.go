package llm

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryConfig controls how transient provider errors are retried
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"` // Total calls per completion; 1 disables retries
	BackoffBase time.Duration `mapstructure:"backoff_base"`
	MaxBackoff  time.Duration `mapstructure:"max_backoff"`
}

// DefaultRetryConfig returns the retry policy used by New
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// RetryingCompleter retries TransientError failures of the wrapped completer.
// Fatal errors and empty completions are returned at once.
type RetryingCompleter struct {
	next        Completer
	maxAttempts int
	newBackoff  func() backoff.BackOff
}

// WithRetry wraps next with cfg's retry policy
func WithRetry(next Completer, cfg RetryConfig) *RetryingCompleter {
	defaults := DefaultRetryConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaults.BackoffBase
	}
	if cfg.MaxBackoff < cfg.BackoffBase {
		cfg.MaxBackoff = max(defaults.MaxBackoff, cfg.BackoffBase)
	}

	return &RetryingCompleter{
		next:        next,
		maxAttempts: cfg.MaxAttempts,
		newBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = cfg.BackoffBase
			b.MaxInterval = cfg.MaxBackoff
			b.MaxElapsedTime = 0
			return b
		},
	}
}

// Complete calls the wrapped completer until it succeeds, fails permanently or runs out of attempts
func (r *RetryingCompleter) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var text string
	attempt := 0

	operation := func() error {
		attempt++
		out, err := r.next.Complete(ctx, prompt, opts)
		if err != nil {
			if IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		text = out
		return nil
	}

	notify := func(err error, wait time.Duration) {
		zap.L().Warn("transient model error, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.newBackoff(), uint64(r.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		return "", err
	}
	return text, nil
}
