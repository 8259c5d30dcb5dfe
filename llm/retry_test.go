package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scripted returns the queued results in order and counts calls
func scripted(calls *int, results ...error) Completer {
	return CompleterFunc(func(context.Context, string, Options) (string, error) {
		err := results[min(*calls, len(results)-1)]
		*calls++
		if err != nil {
			return "", err
		}
		return "Yes", nil
	})
}

func withoutWaiting(r *RetryingCompleter) *RetryingCompleter {
	r.newBackoff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func TestRetryRecoversFromTransientErrors(t *testing.T) {
	calls := 0
	overloaded := &TransientError{err: errors.New("status 529")}
	c := withoutWaiting(WithRetry(scripted(&calls, overloaded, overloaded, nil), RetryConfig{MaxAttempts: 3}))

	text, err := c.Complete(context.Background(), "prompt", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Yes", text)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	c := withoutWaiting(WithRetry(scripted(&calls, &TransientError{err: errors.New("status 503")}), RetryConfig{MaxAttempts: 3}))

	_, err := c.Complete(context.Background(), "prompt", Options{})
	assert.True(t, IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentErrors(t *testing.T) {
	for name, failure := range map[string]error{
		"fatal": &FatalError{err: errors.New("status 401")},
		"empty": ErrEmptyCompletion,
	} {
		t.Run(name, func(t *testing.T) {
			calls := 0
			c := withoutWaiting(WithRetry(scripted(&calls, failure), RetryConfig{MaxAttempts: 5}))

			_, err := c.Complete(context.Background(), "prompt", Options{})
			assert.ErrorIs(t, err, failure)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	calls := 0
	c := WithRetry(scripted(&calls, &TransientError{err: errors.New("status 429")}), RetryConfig{MaxAttempts: 5})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "prompt", Options{})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDefaultRetryPolicy(t *testing.T) {
	c := WithRetry(CompleterFunc(nil), RetryConfig{})
	assert.Equal(t, 3, c.maxAttempts)
	// First wait is the base interval with the default 50% jitter
	assert.InDelta(t, float64(2*time.Second), float64(c.newBackoff().NextBackOff()), float64(time.Second))
}

func TestNewWrapsProviderWithRetry(t *testing.T) {
	client, err := New(Config{Provider: ProviderOllama, Retry: DefaultRetryConfig()})
	require.NoError(t, err)
	assert.IsType(t, &RetryingCompleter{}, client)

	client, err = New(Config{Provider: ProviderOllama, Retry: RetryConfig{MaxAttempts: 1}})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, client)
}
