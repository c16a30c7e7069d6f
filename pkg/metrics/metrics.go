package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replication metrics
	ReplicationJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_replication_jobs_total",
			Help: "Total number of replication jobs by result",
		},
		[]string{"result"},
	)

	ReplicationJobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coffer_replication_job_duration_seconds",
			Help:    "Replication job duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReplicationImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_replication_imports_total",
			Help: "Total number of processed imports by result",
		},
		[]string{"result"},
	)

	ReplicationSecretsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_replication_secrets_total",
			Help: "Total number of applied secret operations by type",
		},
		[]string{"operation"},
	)

	ApprovalsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_replication_approvals_total",
			Help: "Total number of approval requests created by replication",
		},
	)

	LockFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_replication_lock_failures_total",
			Help: "Total number of jobs that gave up waiting for secret locks",
		},
	)

	// Queue metrics
	QueueEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_queue_enqueued_total",
			Help: "Total number of jobs enqueued by queue",
		},
		[]string{"queue"},
	)

	QueueFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_queue_failed_total",
			Help: "Total number of failed job executions by queue",
		},
		[]string{"queue"},
	)

	QueueDeadLetteredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coffer_queue_deadlettered_total",
			Help: "Total number of jobs moved to the dead letter stream by queue",
		},
		[]string{"queue"},
	)

	QueueJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coffer_queue_job_duration_seconds",
			Help:    "Job handler duration in seconds by queue",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue"},
	)

	// Reconciler metrics
	ResyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_reconciler_resyncs_total",
			Help: "Total number of imports re-enqueued by the reconciler",
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coffer_reconciler_cycles_total",
			Help: "Total number of reconciliation sweeps",
		},
	)

	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coffer_reconciler_sweep_duration_seconds",
			Help:    "Reconciliation sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// State gauges
	ImportsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coffer_imports_total",
			Help: "Total number of replication imports by status",
		},
		[]string{"status"},
	)

	ApprovalRequestsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coffer_approval_requests_total",
			Help: "Total number of approval requests by status",
		},
		[]string{"status"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ReplicationJobsTotal)
	prometheus.MustRegister(ReplicationJobDuration)
	prometheus.MustRegister(ReplicationImportsTotal)
	prometheus.MustRegister(ReplicationSecretsTotal)
	prometheus.MustRegister(ApprovalsTotal)
	prometheus.MustRegister(LockFailuresTotal)
	prometheus.MustRegister(QueueEnqueuedTotal)
	prometheus.MustRegister(QueueFailedTotal)
	prometheus.MustRegister(QueueDeadLetteredTotal)
	prometheus.MustRegister(QueueJobDuration)
	prometheus.MustRegister(ResyncsTotal)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ImportsTotal)
	prometheus.MustRegister(ApprovalRequestsTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
