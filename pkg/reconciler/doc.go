/*
Package reconciler provides automatic repair for failed replication imports.

A replication job promotes its source versions even when individual imports
fail, so a broken import does not heal on its own: nothing re-delivers the
missed changes until the source changes again. The reconciler closes that
gap by sweeping the import rows and re-enqueueing a full resync for every
import whose last run was stamped unsuccessful.

# Architecture

	┌────────────────────────────────────────────────┐
	│            Reconciliation sweep                │
	│            (every interval, 10m default)       │
	└───────────────────┬────────────────────────────┘
	                    │ ListReplicationImports
	                    ▼
	    IsReplicationSuccess == false
	    LastReplicated != zero          ──▶  Resync(importID)
	                    │                        │
	                    ▼                        ▼
	          skip the healthy ones    full-folder job on the
	                                   replication queue

# Failure Detection

An import is a repair candidate when its last attempt was recorded as
unsuccessful:

	IsReplicationSuccess: false
	ReplicationStatus:    "imported folder missing"
	LastReplicated:       2024-01-15 10:30:00

Imports that have never run carry a zero LastReplicated and are skipped;
their first delivery is the queue's job, not the reconciler's. Re-enqueueing
is idempotent from the store's point of view: the resync job stamps the
import again either way, so a destination that stays broken is retried once
per sweep and nothing accumulates.

# Usage

	rec := reconciler.NewReconciler(store, worker, reconciler.DefaultInterval)
	rec.Start()
	defer rec.Stop()

A zero interval disables the loop entirely, for deployments that prefer
triggering resyncs by hand.

# Integration Points

  - pkg/storage: ListReplicationImports supplies the candidates
  - pkg/replication: Worker.Resync builds and enqueues the repair job
  - pkg/metrics: sweep counter and duration, plus the resync counter
    incremented inside Resync

# Limitations

The reconciler retries indefinitely; an import whose destination folder is
gone for good keeps being re-enqueued once per sweep until the import row
is removed. Detection latency is bounded by the interval, which the default
trades for negligible load on the store.
*/
package reconciler
