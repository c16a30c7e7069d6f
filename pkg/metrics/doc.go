/*
Package metrics provides Prometheus metrics collection and exposition for
Coffer.

The metrics package defines and registers all Coffer metrics using the
Prometheus client library, providing observability into replication
throughput, import health, queue behavior, and operation latency. Metrics
are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

Coffer's metrics system follows Prometheus conventions with instrumentation
across the queue runtime, the replication worker, and the reconciler:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Replication: jobs, imports, operations     │          │
	│  │  Queue: enqueued, failed, dead lettered     │          │
	│  │  Reconciler: resyncs triggered              │          │
	│  │  State gauges: imports, approval requests   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Metrics Catalog

Replication Metrics:

coffer_replication_jobs_total{result}:
  - Type: Counter
  - Description: Replication jobs by result (ok/noop/failed)
  - Example: coffer_replication_jobs_total{result="ok"} 120

coffer_replication_job_duration_seconds:
  - Type: Histogram
  - Description: End-to-end replication job duration
  - Buckets: Default Prometheus buckets

coffer_replication_imports_total{result}:
  - Type: Counter
  - Description: Per-import outcomes inside jobs (ok/failed)

coffer_replication_secrets_total{operation}:
  - Type: Counter
  - Description: Applied secret operations (create/update/delete)

coffer_replication_approvals_total:
  - Type: Counter
  - Description: Approval requests created by replication

coffer_replication_lock_failures_total:
  - Type: Counter
  - Description: Jobs that gave up waiting for secret locks

Queue Metrics:

coffer_queue_enqueued_total{queue}:
  - Type: Counter
  - Description: Jobs accepted per queue

coffer_queue_failed_total{queue}:
  - Type: Counter
  - Description: Handler failures per queue (before redelivery)

coffer_queue_deadlettered_total{queue}:
  - Type: Counter
  - Description: Jobs parked on the dead letter stream after exhausting
    their delivery budget

coffer_queue_job_duration_seconds{queue}:
  - Type: Histogram
  - Description: Handler duration per queue

Reconciler Metrics:

coffer_reconciler_resyncs_total:
  - Type: Counter
  - Description: Failed imports re-enqueued by the repair loop

coffer_reconciler_cycles_total:
  - Type: Counter
  - Description: Reconciliation sweeps completed

coffer_reconciler_sweep_duration_seconds:
  - Type: Histogram
  - Description: Duration of one sweep over the import rows

State Gauges (sampled by Collector every 15s):

coffer_imports_total{status}:
  - Type: Gauge
  - Description: Replication imports by status (ok/failed/pending)

coffer_approval_requests_total{status}:
  - Type: Gauge
  - Description: Approval requests by status (open/closed/merged)

# Core Components

Collector:
  - Periodically samples the store and updates state gauges
  - Started alongside the worker, stopped on shutdown
  - Sampling errors skip the cycle, never crash it

Timer:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

Health Endpoints:
  - /healthz: overall component health (JSON)
  - /readyz: readiness of critical components (store, keystore, queue)
  - /livez: process liveness

# Usage

Instrumenting an operation:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReplicationJobDuration)
	metrics.ReplicationJobsTotal.WithLabelValues("ok").Inc()

Exposing metrics:

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())

Starting the collector:

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

# Alerting Starting Points

  - rate(coffer_replication_jobs_total{result="failed"}[5m]) sustained
    above zero means jobs are dying after redelivery
  - coffer_imports_total{status="failed"} above zero for longer than the
    reconciler interval means repair is not catching up
  - any rate on coffer_queue_deadlettered_total deserves a look at the
    dead letter stream
  - p99 of coffer_replication_job_duration_seconds approaching the lock
    TTL means jobs risk losing their locks mid-flight

# See Also

  - pkg/replication for where replication metrics are recorded
  - pkg/queue for queue instrumentation
  - pkg/reconciler for the repair loop
  - Prometheus naming: https://prometheus.io/docs/practices/naming/
*/
package metrics
