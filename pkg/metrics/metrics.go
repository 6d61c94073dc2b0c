// Package metrics declares the Prometheus metrics exported by the
// dispatch server and exposes them over /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vortexdock_tasks_total",
			Help: "Total number of tasks by status",
		},
		[]string{"status"},
	)

	WorkItemsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "vortexdock_work_items_total",
			Help: "Total number of work items by status",
		},
		[]string{"status"},
	)

	LeasesGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortexdock_leases_granted_total",
			Help: "Total number of work item leases granted by get_task",
		},
	)

	ResultsSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortexdock_results_submitted_total",
			Help: "Total number of submit_result calls by outcome",
		},
		[]string{"outcome"},
	)

	HeartbeatsReceivedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortexdock_heartbeats_received_total",
			Help: "Total number of heartbeat frames received from compute nodes",
		},
	)

	DispatchConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vortexdock_dispatch_connections_active",
			Help: "Number of currently open dispatch channel connections",
		},
	)

	DispatchAuthFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortexdock_dispatch_auth_failures_total",
			Help: "Total number of failed authentication attempts on the dispatch channel",
		},
	)

	DispatchRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortexdock_dispatch_request_duration_seconds",
			Help:    "Time taken to handle one dispatch frame, by frame type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"frame_type"},
	)

	ReclaimCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vortexdock_reclaim_cycle_duration_seconds",
			Help:    "Time taken for one reclaimer sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReclaimCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortexdock_reclaim_cycles_total",
			Help: "Total number of reclaimer sweeps completed",
		},
	)

	LeasesReclaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortexdock_leases_reclaimed_total",
			Help: "Total number of expired leases reclaimed, by outcome (requeued or failed)",
		},
		[]string{"outcome"},
	)

	FileUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortexdock_file_uploads_total",
			Help: "Total number of result file uploads by status",
		},
		[]string{"status"},
	)

	FileDownloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortexdock_file_downloads_total",
			Help: "Total number of receptor and ligand file downloads by status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksTotal,
		WorkItemsTotal,
		LeasesGrantedTotal,
		ResultsSubmittedTotal,
		HeartbeatsReceivedTotal,
		DispatchConnectionsActive,
		DispatchAuthFailuresTotal,
		DispatchRequestDuration,
		ReclaimCycleDuration,
		ReclaimCyclesTotal,
		LeasesReclaimedTotal,
		FileUploadsTotal,
		FileDownloadsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and recording its
// duration to a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
