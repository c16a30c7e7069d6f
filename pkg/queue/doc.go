/*
Package queue implements the job runtime on top of redis streams.

Each queue is a single stream. Every worker process joins the same consumer
group ("coffer-workers"), so redis delivers each entry to exactly one
process at a time while the group tracks unacknowledged deliveries in its
pending entries list.

# Architecture

	┌─────────────┐   XADD    ┌──────────────────────────────┐
	│  Enqueue    │──────────▶│  stream "secret-replication" │
	└─────────────┘           │  stream "secret-sync"        │
	                          └──────────────┬───────────────┘
	                                         │ XREADGROUP >
	                          ┌──────────────▼───────────────┐
	                          │  consume loops (per queue,   │
	                          │  Config.Workers consumers)   │
	                          └──────────────┬───────────────┘
	                                         │ dispatch
	                     ok / cancelled ─ XACK│       error ─ stays pending
	                                         │
	                          ┌──────────────▼───────────────┐
	                          │  reclaim loop: XAUTOCLAIM    │
	                          │  idle entries, dead-letter   │
	                          │  exhausted ones to <q>:dead  │
	                          └──────────────────────────────┘

# Delivery semantics

Delivery is at-least-once. A handler that returns nil acknowledges the
entry. A handler that returns an error leaves the entry in the pending
list; once it has been idle for Config.ReclaimMinIdle the reclaim loop
claims and redispatches it. An entry whose delivery count reaches
Config.MaxDeliveries is copied to the <queue>:dead stream and
acknowledged, so poison jobs cannot starve the queue. Handlers are
expected to be idempotent; the replication worker layers its own
per-import success markers on top (see pkg/keystore).

# Cancellation

Cancel writes a tombstone key (<queue>:cancel:<job id>) and cancels the
context of an in-flight handler. A queued copy that has not been
dispatched yet is acknowledged without running when the dispatcher sees
the tombstone. Tombstones expire after an hour.

# Usage

	runtime := queue.NewRuntime(redisClient, broker, queue.DefaultConfig())
	runtime.Register(queue.QueueSecretReplication, worker.Handle)

	if err := runtime.Start(ctx); err != nil {
		return err
	}
	defer runtime.Stop()

	payload, _ := json.Marshal(job)
	jobID, _ := security.NewJobID()
	err := runtime.Enqueue(ctx, queue.QueueSecretReplication, jobID, payload)

# Integration Points

  - pkg/replication: registers the replication handler, consumes job ids
  - pkg/syncer: enqueues sync requests and cascaded replication jobs
  - pkg/events: job lifecycle events (started/completed/failed/cancelled)
  - pkg/metrics: enqueue/failure/dead-letter counters, handler duration

# Limitations

Reads poll with a short interval instead of blocking on the server, which
keeps shutdown prompt at the cost of PollInterval of added latency on an
idle queue. Per-entry ordering across a queue is not guaranteed once
redeliveries interleave with fresh entries.
*/
package queue
