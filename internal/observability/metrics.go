package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	runsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltci",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total workflow runs by terminal status.",
		},
		[]string{"workflow", "status"},
	)
	jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltci",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total job executions by outcome.",
		},
		[]string{"workflow", "job", "status"},
	)
	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boltci",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Job wall time in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"workflow", "job", "status"},
	)
	stepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltci",
			Subsystem: "steps",
			Name:      "runs_total",
			Help:      "Total step executions by outcome.",
		},
		[]string{"job", "type", "status"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "boltci",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests against the status API.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "boltci",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// RegisterMetrics installs the collectors exactly once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(runsFinished, jobRuns, jobDuration, stepRuns, httpRequests, httpDuration)
	})
}

// RecordRun counts one workflow run reaching a terminal status.
func RecordRun(workflow, status string) {
	RegisterMetrics()
	runsFinished.WithLabelValues(workflow, status).Inc()
}

// RecordJob counts one finished job execution.
func RecordJob(workflow, job, status string, duration time.Duration) {
	RegisterMetrics()
	jobRuns.WithLabelValues(workflow, job, status).Inc()
	jobDuration.WithLabelValues(workflow, job, status).Observe(duration.Seconds())
}

// RecordStep counts one finished step execution.
func RecordStep(job, stepType, status string) {
	RegisterMetrics()
	stepRuns.WithLabelValues(job, stepType, status).Inc()
}

// RecordHTTPRequest counts one status API request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
