/*
Package keystore provides Redis-backed distributed locks and idempotency
markers for the replication engine.

Coffer may run several replication workers against one database. Two jobs
touching the same secrets must not interleave their diffs, and a redelivered
job must not re-apply an import that already succeeded. Both guarantees live
here, on top of a single shared Redis connection.

# Locks

A lock key is a Redis string holding the claimant's lock ID:

	secret-replication:lock:<secretID> = <uuid>

Lock claims each key with a single SETNX carrying the TTL, so at most one
worker ever wins a key. Only keys whose stored value matches our lock ID
are considered owned, and Unlock deletes owned keys only, so a worker can
never release another worker's claim. Refresh extends the TTL of owned
keys via GETEX and reports when ownership was lost, which the replication
worker treats as a signal to abandon the job.

AcquireLocks wraps Lock with Fibonacci backoff. Contention is expected to
be brief (jobs hold locks for one processing pass), so a few short retries
resolve most overlaps; persistent conflicts surface as ErrLockUnavailable
and the job is retried by the queue instead.

	┌─ worker A ──────────────┐      ┌─ worker B ──────────────┐
	│ AcquireLocks(ids, 5s)   │      │ AcquireLocks(ids, 5s)   │
	│   SETNX wins            │      │   SETNX loses           │
	│ ... process ...         │      │   backoff, retry        │
	│ Unlock (owned only)     │      │   SETNX wins            │
	└─────────────────────────┘      └─────────────────────────┘

# Idempotency Markers

A marker records that one import inside one job completed:

	secret-replication:success:<jobID>:<importID> = 1

Markers carry a short TTL. They only need to outlive the redelivery window
of a failed job, not the history of all replication. A redelivered job
checks the marker before touching an import and skips it when present.

# Usage

	keys, err := client.AcquireLocks(ctx, secretIDs, 5*time.Second)
	if err != nil {
		return err
	}
	defer client.Unlock(context.Background(), keys)

	done, err := client.HasMarker(ctx, keystore.SuccessKey(jobID, importID))
*/
package keystore
