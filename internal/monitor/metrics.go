package monitor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects queue, worker and stock lock metrics. A nil
// Metrics is valid and records nothing, tests and tools that do not
// serve /metrics pass nil.
type Metrics struct {
	jobsTotal       *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	stockLocks      *prometheus.GaugeVec
	checkoutsTotal  *prometheus.CounterVec
	enqueuedTotal   *prometheus.CounterVec
	maintenanceRuns *prometheus.CounterVec
}

// NewMetrics creates and registers the metric set
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{}

	m.jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of processed jobs by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	m.jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job handler duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	m.queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of messages by queue state",
		},
		[]string{"state"},
	)

	m.stockLocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stock_locks",
			Help:      "Stock lock table size by state",
		},
		[]string{"state"},
	)

	m.checkoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Total number of checkout attempts by outcome",
		},
		[]string{"outcome"},
	)

	m.enqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enqueued_total",
			Help:      "Total number of enqueued messages by type",
		},
		[]string{"type"},
	)

	m.maintenanceRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Total number of maintenance task runs by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	return m
}

// ObserveJob records a finished job
func (m *Metrics) ObserveJob(jobType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(jobType, outcome).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(duration.Seconds())
}

// SetQueueDepth records queue depth by state
func (m *Metrics) SetQueueDepth(state string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(state).Set(float64(n))
}

// SetStockLocks records lock table size by state
func (m *Metrics) SetStockLocks(state string, n int) {
	if m == nil {
		return
	}
	m.stockLocks.WithLabelValues(state).Set(float64(n))
}

// ObserveCheckout records a checkout attempt
func (m *Metrics) ObserveCheckout(outcome string) {
	if m == nil {
		return
	}
	m.checkoutsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnqueue records an enqueued message
func (m *Metrics) ObserveEnqueue(jobType string) {
	if m == nil {
		return
	}
	m.enqueuedTotal.WithLabelValues(jobType).Inc()
}

// ObserveMaintenance records a maintenance task run
func (m *Metrics) ObserveMaintenance(task, outcome string) {
	if m == nil {
		return
	}
	m.maintenanceRuns.WithLabelValues(task, outcome).Inc()
}
