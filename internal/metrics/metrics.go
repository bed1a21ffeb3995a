// Package metrics holds the prometheus collectors shared by the bulk,
// queue, mutation and server packages.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bulk execution
	BulkItems = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_bulk_items_total",
		Help: "The total number of bulk items executed",
	}, []string{"op", "status"})

	BulkLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "docstore_bulk_latency_seconds",
		Help:    "The latency of bulk executions",
		Buckets: prometheus.DefBuckets,
	})

	// Queue
	QueueFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_queue_flushes_total",
		Help: "The total number of queue flushes",
	}, []string{"outcome"})

	QueuePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docstore_queue_pending_items",
		Help: "The number of items buffered in bulk queues",
	})

	// Tasks
	TaskTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_task_transitions_total",
		Help: "The total number of task state transitions",
	}, []string{"action", "state"})

	TaskDocuments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_task_documents_total",
		Help: "The total number of documents processed by tasks",
	}, []string{"action", "outcome"})

	TaskThrottled = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docstore_task_throttle_seconds",
		Help:    "The throttle delay applied between task batches",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60},
	}, []string{"action"})

	// HTTP
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docstore_http_requests_total",
		Help: "The total number of HTTP requests served",
	}, []string{"method", "status"})
)

func init() {
	prometheus.MustRegister(BulkItems)
	prometheus.MustRegister(BulkLatency)
	prometheus.MustRegister(QueueFlushes)
	prometheus.MustRegister(QueuePending)
	prometheus.MustRegister(TaskTransitions)
	prometheus.MustRegister(TaskDocuments)
	prometheus.MustRegister(TaskThrottled)
	prometheus.MustRegister(HTTPRequests)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
