/*
Package health provides liveness probing for the collaborators the replication
worker depends on.

The worker is only useful while its secrets store and its redis keystore
answer. This package probes both on a fixed cadence and mirrors the verdicts
into the registry behind the /healthz and /readyz endpoints, so orchestrators
can restart or drain a worker whose backing services have gone away.

# Architecture

	┌─────────────────────────────────────────────────────┐
	│                      Monitor                        │
	│  • sweeps all checkers every Interval               │
	│  • tracks consecutive failures per component        │
	│  • publishes verdicts to the health registry        │
	└────────┬────────────────────────────────────────────┘
	         │
	    ┌────┴─────────────┐
	    ▼                  ▼
	┌────────────┐   ┌────────────┐
	│  Keystore  │   │   Store    │
	│  Checker   │   │  Checker   │
	└────────────┘   └────────────┘
	     │                 │
	     ▼                 ▼
	  redis PING      bolt read probe

# Probe Flow

 1. Monitor starts → immediate first sweep (readiness does not wait an interval)
 2. Every Interval: run each checker with a Timeout-bounded context
 3. Failure during StartPeriod → recorded but not counted
 4. Retries consecutive failures → component marked unhealthy
 5. First success → component healthy again
 6. Verdict feeds metrics.UpdateComponent, which /readyz reads

# Checkers

KeystoreChecker issues a redis PING through the keystore client. A failing
keystore means locks and idempotency markers cannot be taken, so replication
jobs would fail anyway.

StoreChecker lists the replication imports as a cheap read probe. It verifies
the bolt file is open and readable without touching any secret material.

Both return a standardized Result:

	type Result struct {
		Healthy   bool          // Probe passed?
		Message   string        // Human-readable detail
		CheckedAt time.Time     // When the probe ran
		Duration  time.Duration // How long it took
	}

# Failure Tolerance

A single failed probe never flips a component. Status counts consecutive
failures and only marks a component unhealthy once Config.Retries is reached;
one success resets the counter. Config.StartPeriod opens a grace window after
startup for collaborators that come up slower than the worker.

# Usage

	monitor := health.NewMonitor(health.DefaultConfig(),
		health.NewKeystoreChecker(keys),
		health.NewStoreChecker(store),
	)
	monitor.Start()
	defer monitor.Stop()

# Integration Points

  - pkg/metrics: verdicts land in the component registry behind /readyz
  - pkg/keystore: Ping is the keystore probe
  - pkg/storage: ListReplicationImports is the store probe
  - cmd/coffer: wires the monitor into the worker lifecycle

# Limitations

The monitor observes and reports only. It never restarts collaborators or
pauses the queue; a not-ready worker keeps processing whatever jobs it can
until the orchestrator acts on the readiness signal.
*/
package health
