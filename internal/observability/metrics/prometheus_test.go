package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/dart/internal/suppression"
)

func newTestMetrics(t *testing.T) *PrometheusMetrics {
	t.Helper()
	pm, err := NewPrometheusMetrics(nil, nil)
	require.NoError(t, err)
	return pm
}

func TestNewPrometheusMetricsDefaults(t *testing.T) {
	pm := newTestMetrics(t)
	assert.Equal(t, "dart", pm.GetConfig().Namespace)
	assert.Equal(t, "/metrics", pm.GetConfig().Path)
	assert.False(t, pm.GetConfig().Enabled)
}

func TestRunStarted(t *testing.T) {
	pm := newTestMetrics(t)

	done := pm.RunStarted("http")
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.runsActive))

	done("success")
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.runsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.runsTotal.WithLabelValues("http", "success")))
	assert.Equal(t, 1, testutil.CollectAndCount(pm.runDuration))
}

func TestRecordRunStats(t *testing.T) {
	pm := newTestMetrics(t)

	pm.RecordRunStats(&suppression.Stats{
		Columns: []*suppression.ColumnStats{
			{
				Records: 25,
				Categories: map[suppression.Redaction]int{
					suppression.NotRedacted:          14,
					suppression.PrimarySuppression:   4,
					suppression.SecondarySuppression: 7,
				},
				Pipeline: &suppression.PipelineStats{
					Firings: map[string]int{suppression.RulePrimary: 4, suppression.RuleSum: 5},
				},
			},
		},
	})
	pm.RecordRunStats(nil)

	assert.Equal(t, 25.0, testutil.ToFloat64(pm.rowsProcessed))
	assert.Equal(t, 4.0, testutil.ToFloat64(pm.cellsSuppressed.WithLabelValues("Primary Suppression")))
	assert.Equal(t, 7.0, testutil.ToFloat64(pm.cellsSuppressed.WithLabelValues("Secondary Suppression")))
	assert.Equal(t, 2, testutil.CollectAndCount(pm.cellsSuppressed))
	assert.Equal(t, 5.0, testutil.ToFloat64(pm.ruleFirings.WithLabelValues("sum")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	pm := newTestMetrics(t)
	pm.RecordHTTPRequest("POST", "/api/v1/redact", "200", 15*time.Millisecond)
	pm.RecordCacheRequest("hit")
	pm.RecordSinkOperation("s3", "error", time.Millisecond)
	pm.RecordError("audit", "storage")

	rec := httptest.NewRecorder()
	pm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"dart_http_requests_total",
		"dart_cache_requests_total",
		"dart_sink_operations_total",
		"dart_errors_total",
	} {
		assert.True(t, strings.Contains(body, name), name)
	}
}
