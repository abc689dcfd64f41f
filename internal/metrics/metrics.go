// Package metrics wires the Upload Manager and HTTP surface into
// Prometheus, following the same exposition shape as tusd's
// pkg/prometheuscollector, but built from promauto-registered
// collectors rather than a hand-rolled prometheus.Collector, since
// chunkd's counters and gauges are updated as events happen, with
// nothing to compute lazily at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter/gauge the Manager and HTTP layer report.
// Field names mirror tusd's handler.Metrics (UploadsCreated,
// UploadsFinished/UploadsTerminated -> UploadsCompleted/UploadsCancelled,
// BytesReceived) plus chunkd-specific additions (UsersCreated,
// ChunksReceived, OpenConnections, AssemblyFailures).
type Metrics struct {
	UsersCreated     prometheus.Counter
	UploadsCreated   prometheus.Counter
	UploadsCompleted prometheus.Counter
	UploadsCancelled prometheus.Counter
	ChunksReceived   prometheus.Counter
	BytesReceived    prometheus.Counter
	AssemblyFailures prometheus.Counter
	OpenConnections  prometheus.Gauge
	RequestsTotal    *prometheus.CounterVec
}

// New registers chunkd's metrics on reg and returns the Metrics handle. A
// nil reg creates the collectors without registering them anywhere, as
// promauto.With(nil) does.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		UsersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_users_created_total",
			Help: "Number of users identified for the first time.",
		}),
		UploadsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_uploads_created_total",
			Help: "Number of uploads created.",
		}),
		UploadsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_uploads_completed_total",
			Help: "Number of uploads successfully assembled.",
		}),
		UploadsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_uploads_cancelled_total",
			Help: "Number of uploads cancelled, with or without forgetting history.",
		}),
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_chunks_received_total",
			Help: "Number of chunk submissions accepted, including idempotent repeats.",
		}),
		BytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_bytes_received_total",
			Help: "Approximate number of chunk bytes accepted.",
		}),
		AssemblyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chunkd_assembly_failures_total",
			Help: "Number of times final assembly failed, usually due to a missing chunk.",
		}),
		OpenConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "chunkd_open_connections",
			Help: "Number of HTTP connections currently being served.",
		}),
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chunkd_requests_total",
			Help: "Total number of requests served, by method and route.",
		}, []string{"method", "route"}),
	}
}
