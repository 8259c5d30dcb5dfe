package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docutag/profiler/models"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "profiler version "+version)
}

func TestExtractRequiresURL(t *testing.T) {
	_, err := execute(t, "extract")
	assert.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	t.Setenv("PROFILER_LLM_PROVIDER", "nonsense")
	_, err := execute(t, "version")
	assert.Error(t, err)
}

func TestRemoteCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/extract-info", r.URL.Path)
		assert.Equal(t, "https://acme.test", r.URL.Query().Get("url"))
		assert.Equal(t, "true", r.URL.Query().Get("force"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(models.ExtractionResult{"summary": "Acme makes anvils."})
	}))
	defer server.Close()

	out, err := execute(t, "remote", "https://acme.test", "--server", server.URL, "--token", "secret", "--force")
	require.NoError(t, err)

	var result models.ExtractionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "Acme makes anvils.", result["summary"])
}
