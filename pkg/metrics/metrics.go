package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workflow metrics
	WorkflowsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlana_workflows_started_total",
			Help: "Total number of workflows started",
		},
	)

	WorkflowsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlana_workflows_completed_total",
			Help: "Total number of completed workflows by outcome",
		},
		[]string{"outcome"},
	)

	WorkflowsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "atlana_workflows_active",
			Help: "Number of workflows currently executing",
		},
	)

	// Step metrics
	StepsExecuted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlana_steps_executed_total",
			Help: "Total number of executed steps by command and outcome",
		},
		[]string{"command", "outcome"},
	)

	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "atlana_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"command"},
	)

	// Container metrics
	ContainerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "atlana_container_runs_total",
			Help: "Total number of container invocations by exit class",
		},
		[]string{"exit"},
	)

	LogWriteRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "atlana_log_write_retries_total",
			Help: "Total number of retried log file opens",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(WorkflowsStarted)
	prometheus.MustRegister(WorkflowsCompleted)
	prometheus.MustRegister(WorkflowsActive)
	prometheus.MustRegister(StepsExecuted)
	prometheus.MustRegister(StepDuration)
	prometheus.MustRegister(ContainerRuns)
	prometheus.MustRegister(LogWriteRetries)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
