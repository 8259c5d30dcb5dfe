package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/profiler/models"
)

// isolate runs the test from an empty directory so no stray config.yaml or .env is picked up
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, 10, cfg.Pipeline.Workers)
	assert.Equal(t, 5, cfg.Pipeline.RelevantCap)
	assert.Equal(t, time.Second, cfg.Pipeline.FieldInterval)
	assert.Equal(t, 3, cfg.Pipeline.Fetch.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Pipeline.Fetch.RetryDelay)
	assert.Equal(t, models.DefaultQuerySpec(), cfg.Pipeline.Queries)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.S3.Enabled())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PROFILER_LLM_PROVIDER", "cohere")
	t.Setenv("PROFILER_LLM_API_KEY", "key")
	t.Setenv("PROFILER_PIPELINE_WORKERS", "4")
	t.Setenv("PROFILER_PIPELINE_FETCH_RETRY_DELAY", "250ms")
	t.Setenv("PROFILER_PIPELINE_KEYWORDS", "about,team")
	t.Setenv("PROFILER_SERVER_ADDR", ":9090")
	t.Setenv("PROFILER_LLM_RETRY_MAX_ATTEMPTS", "1")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, "cohere", cfg.LLM.Provider)
	assert.Equal(t, "key", cfg.LLM.APIKey)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 250*time.Millisecond, cfg.Pipeline.Fetch.RetryDelay)
	assert.Equal(t, []string{"about", "team"}, cfg.Pipeline.Keywords)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 1, cfg.LLM.Retry.MaxAttempts)
}

func TestLoadFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "profiler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pipeline:
  relevant_cap: 3
  deterministic_order: true
  queries:
    - field: summary
      instruction: Summarize the company.
    - field: contact_info
      instruction: Extract contact information.
logging:
  level: debug
`), 0o644))

	cfg, err := Load(Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.RelevantCap)
	assert.True(t, cfg.Pipeline.DeterministicOrder)
	assert.Equal(t, []string{"summary", "contact_info"}, cfg.Pipeline.Queries.Fields())
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("PROFILER_PIPELINE_RELEVANT_CAP=2\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("PROFILER_PIPELINE_RELEVANT_CAP") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Pipeline.RelevantCap)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	_, err := Load(Options{File: filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	cfg := Default()
	cfg.LLM.Provider = "gpt-in-a-box"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LLM.Provider = "anthropic"
	assert.Error(t, cfg.Validate(), "anthropic needs an API key")

	cfg = Default()
	cfg.Pipeline.RelevantCap = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Tracing.SampleRatio = 2
	assert.Error(t, cfg.Validate())
}
