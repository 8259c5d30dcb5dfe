package metrics

import (
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Fetch("success")
	m.Fetch("error")
	m.Fetch("error")
	m.Verdict("relevant")
	m.Field("failed")
	m.Run("success", 3*time.Second)
	m.Request("/extract-info", http.StatusOK, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchAttempts.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassifierVerdict.WithLabelValues("relevant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FieldExtractions.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/extract-info", "200")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Fetch("success")
		m.Verdict("relevant")
		m.Field("ok")
		m.Run("success", time.Second)
		m.Request("/health", 200, time.Millisecond)
	})
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Fetch("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `profiler_fetch_attempts_total{outcome="success"} 1`)
}

func TestRegisterDB(t *testing.T) {
	conn, err := sql.Open("postgres", "postgres://localhost/profiler?sslmode=disable")
	require.NoError(t, err)
	defer conn.Close()

	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NoError(t, m.RegisterDB(conn))

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "go_sql_max_open_connections")

	var nilMetrics *Metrics
	assert.NoError(t, nilMetrics.RegisterDB(conn))
}
