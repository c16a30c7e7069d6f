/*
Package events provides an in-memory event broker for Coffer's pub/sub
messaging.

The events package implements a lightweight event bus for broadcasting
replication lifecycle events to interested subscribers. It supports
asynchronous delivery over buffered channels, enabling loose coupling
between the queue runtime, the replication worker, and observers such as
the failure watcher and metrics.

# Architecture

Coffer's event system provides non-blocking pub/sub messaging with
buffered channels:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │              Event Broker                   │          │
	│  │  - In-memory message bus                    │          │
	│  │  - Topic-agnostic (all events broadcast)    │          │
	│  │  - Non-blocking publish                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          Event Distribution                 │          │
	│  │                                              │          │
	│  │  Publisher → Event Channel (buffer: 100)    │          │
	│  │       ↓                                      │          │
	│  │  Broadcast Loop                              │          │
	│  │       ↓                                      │          │
	│  │  Subscriber Channels (buffer: 50 each)      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Subscribers                      │          │
	│  │                                              │          │
	│  │  Failure watcher: log failed jobs + payload │          │
	│  │  Metrics: count lifecycle events            │          │
	│  │  Tests: await asynchronous outcomes         │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Event Types Catalog

Job Events:

EventJobStarted:
  - Published when: A queue worker picks up a job
  - Fields: Queue, JobID

EventJobCompleted:
  - Published when: A job handler returns without error
  - Fields: Queue, JobID

EventJobFailed:
  - Published when: A job handler returns an error
  - Fields: Queue, JobID, Payload (raw body), Error
  - Subscribers: Replication failure watcher logs payload and error so
    a poisoned job can be replayed by hand

EventJobCancelled:
  - Published when: A cancelled job is drained from its queue
  - Fields: Queue, JobID

Replication Events:

EventImportFailed:
  - Published when: One import inside a job fails while the job goes on
  - Fields: ImportID, FolderID, Error

EventApprovalCreated:
  - Published when: A policy routes a diff into an approval request
  - Fields: ImportID, FolderID, RequestID

EventSyncEnqueued:
  - Published when: A destination change is handed to the sync queue
  - Fields: Queue, JobID

EventReplicationEnqueued:
  - Published when: A job lands on the replication queue, producer or cascade
  - Fields: Queue, JobID

EventResyncRequested:
  - Published when: An operator or the reconciler rebuilds one import
  - Fields: JobID, ImportID

# Usage

Creating and Starting Broker:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

Subscribing to Events:

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			if event.Type == events.EventJobFailed {
				handleFailure(event)
			}
		}
	}()

Publishing Events:

	broker.Publish(&events.Event{
		Type:  events.EventJobFailed,
		Queue: "secret-replication",
		JobID: jobID,
		Error: err.Error(),
	})

# Design Patterns

Non-Blocking Publish:
  - Publish sends to a buffered channel and returns immediately
  - Slow subscribers skip events rather than stalling the worker
  - Trade-off: Throughput over guaranteed delivery

Fan-Out Pattern:
  - Single event broadcast to all subscribers
  - Each subscriber gets own channel and processing rate

# Limitations

  - In-memory only (no persistence, no replay)
  - Best-effort delivery; not a substitute for queue redelivery
  - No topic filtering; subscribers filter by Type

The durable path for job retries is the Redis stream in pkg/queue. Events
exist for observation, never for correctness.

# See Also

  - pkg/queue for the durable job lifecycle
  - pkg/replication for the failure watcher subscriber
*/
package events
