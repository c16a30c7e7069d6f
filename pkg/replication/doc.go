/*
Package replication propagates secret changes from source folders to every
folder subscribed to them.

A subscription is a SecretImport row with IsReplication set: it names a
source location (environment id, path) and a destination folder. Replicated
copies never live in the destination folder itself; each import owns a
reserved child folder (__reserve_replication_<import id>) that the worker
creates on first use and owns exclusively.

# Pipeline

	       ┌─────────────────────────────────────────────────────┐
	job ──▶│ discover imports ─ refresh source versions ─ filter │
	       └──────────────────────────┬──────────────────────────┘
	                                  │ multi-key lock (per secret)
	                  ┌───────────────▼────────────────┐
	  per import ──▶  │ marker? ─ resolve path ─       │
	                  │ reserved folder ─ classify     │
	                  └───────────────┬────────────────┘
	            policy + user actor   │   otherwise
	          ┌───────────────────────┴──────────────────────┐
	          ▼                                              ▼
	   approval request                            write replicas + sync
	  (reviewed elsewhere)                        (cascades to subscribers)
	          └───────────────────────┬──────────────────────┘
	                                  │ marker + import stamp
	                  ┌───────────────▼────────────────┐
	                  │ mark source versions replicated│
	                  │ release locks                  │
	                  └────────────────────────────────┘

# Identity and classification

Replicas are matched to their source by blind index, not by id, so a secret
deleted and recreated at the source still converges onto its old replica.
The operation a job carries is only a hint: classify turns an update with no
local copy into a create, a create over an existing copy into an update, and
drops a delete with nothing to delete. Deletes always target the replica's
own id and only remove rows flagged IsReplicated, so secrets a user placed
in a reserved folder by hand survive.

# Failure handling

Import failures are isolated: the error is truncated and stamped on the
import row (ReplicationStatus, IsReplicationSuccess) and the loop moves on.
Source versions are promoted to replicated even when an import failed; the
stamped row is what the reconciler later feeds back into Resync. Two errors
break this pattern: a missing membership on the approval path aborts the
whole job, and a lost lock race fails the job before any state is written.

Each finished import leaves a short-lived success marker in redis keyed by
(job id, import id). A redelivered job skips the imports it already
finished, which keeps the at-least-once queue from double-writing.

# Integration Points

  - pkg/queue: Attach registers Handle on the secret-replication queue
  - pkg/syncer: the direct path fans landed changes out after commit
  - pkg/approval: policy lookup decides the routing per destination
  - pkg/keystore: per-secret locks and per-import success markers
  - pkg/storage: all durable reads and transactional writes
  - pkg/reconciler: drives Resync for imports with stamped failures

# Limitations

Resync replays every shared source secret as an update; replicas whose
source vanished while replication was broken are not garbage collected
until a delete event reaches them. Imports of one job are processed
sequentially, so one slow destination delays the rest of the job.
*/
package replication
