// Package metrics registers Prometheus instrumentation for workflow
// execution. Registration happens once on first use; the /metrics
// endpoint is served by pkg/server.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	initOnce sync.Once

	workflowRunsCounter  *prometheus.CounterVec
	sessionBusyCounter   prometheus.Counter
	phaseDurationHist    *prometheus.HistogramVec
	phaseRetriesCounter  prometheus.Counter
	proberTimeoutCounter *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		workflowRunsCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_runs_total",
				Help: "Total number of workflow runs by workflow name and terminal status.",
			},
			[]string{"workflow", "status"},
		)

		sessionBusyCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_busy_rejections_total",
				Help: "Total number of workflow requests rejected because the session was held.",
			},
		)

		phaseDurationHist = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "phase_duration_seconds",
				Help:    "Duration of individual workflow phases in seconds.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"phase", "status"},
		)

		phaseRetriesCounter = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "phase_retries_total",
				Help: "Total number of phase retries after a confirmation timeout.",
			},
		)

		proberTimeoutCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prober_timeouts_total",
				Help: "Total number of readiness probes that exhausted their wait budget, by operation class.",
			},
			[]string{"class"},
		)

		prometheus.MustRegister(
			workflowRunsCounter,
			sessionBusyCounter,
			phaseDurationHist,
			phaseRetriesCounter,
			proberTimeoutCounter,
		)
	})
}

// ObserveWorkflow records one terminal workflow run.
func ObserveWorkflow(workflow, status string) {
	Init()
	workflowRunsCounter.WithLabelValues(workflow, status).Inc()
}

// ObserveSessionBusy records one immediate session-busy rejection.
func ObserveSessionBusy() {
	Init()
	sessionBusyCounter.Inc()
}

// ObservePhase records the duration and status of one phase attempt.
func ObservePhase(phase, status string, d time.Duration) {
	Init()
	phaseDurationHist.WithLabelValues(phase, status).Observe(d.Seconds())
}

// ObservePhaseRetry records one retry after a confirmation timeout.
func ObservePhaseRetry() {
	Init()
	phaseRetriesCounter.Inc()
}

// ObserveProberTimeout records one exhausted readiness probe.
func ObserveProberTimeout(class string) {
	Init()
	proberTimeoutCounter.WithLabelValues(class).Inc()
}
