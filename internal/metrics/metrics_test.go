package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Registration(t *testing.T) {
	assert.NotNil(t, BulkItems)
	assert.NotNil(t, BulkLatency)
	assert.NotNil(t, QueueFlushes)
	assert.NotNil(t, QueuePending)
	assert.NotNil(t, TaskTransitions)
	assert.NotNil(t, TaskDocuments)
	assert.NotNil(t, TaskThrottled)
	assert.NotNil(t, HTTPRequests)

	before := testutil.ToFloat64(BulkItems.WithLabelValues("index", "CREATED"))
	BulkItems.WithLabelValues("index", "CREATED").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(BulkItems.WithLabelValues("index", "CREATED")))

	ch := make(chan prometheus.Metric, 10)
	QueuePending.Collect(ch)
	assert.NotEmpty(t, ch)
}

func TestHandler(t *testing.T) {
	TaskTransitions.WithLabelValues("test", "running").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "docstore_task_transitions_total")
}
