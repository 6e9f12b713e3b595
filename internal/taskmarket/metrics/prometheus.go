package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	startTime = time.Now()

	// UptimeSeconds tracks the engine uptime in seconds
	UptimeSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "uptime_seconds",
		Help:      "Time passed since the task market engine started in seconds",
	})

	// Synchronization metrics
	SyncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "syncs_total",
		Help:      "Synchronization passes by outcome (ok, degraded, failed)",
	}, []string{"outcome"})

	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "sync_duration_seconds",
		Help:      "Time to build a full snapshot from the ledger",
		Buckets:   prometheus.DefBuckets,
	})

	PartialReadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "partial_reads_total",
		Help:      "Joins that failed and were degraded or omitted, by join",
	}, []string{"join"})

	// Snapshot contents
	TasksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "tasks_total",
		Help:      "Tasks in the current snapshot",
	})

	ActiveReviewsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "active_reviews_total",
		Help:      "Active reviews in the current snapshot",
	})

	// Write metrics
	WritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "writes_total",
		Help:      "Ledger writes by action and outcome",
	}, []string{"action", "outcome"})

	WriteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "write_duration_seconds",
		Help:      "Time from dispatch to reconciled snapshot",
		Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
	}, []string{"action"})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "notifications_total",
		Help:      "Notifications published by kind",
	}, []string{"kind"})

	// HTTP request metrics
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests received",
	}, []string{"method", "endpoint", "status_code"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "triggerx",
		Subsystem: "taskmarket",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request processing time",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint"})
)

// StartMetricsCollection updates the uptime gauge until ctx ends.
func StartMetricsCollection(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				UptimeSeconds.Set(time.Since(startTime).Seconds())
			}
		}
	}()
}
