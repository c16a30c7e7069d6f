/*
Package log provides structured logging for Coffer using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity level for production debugging.

# Architecture

Coffer's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("replication")             │          │
	│  │  - child loggers add job_id, import_id,     │          │
	│  │    folder_id via zerolog's With()           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "replication",              │          │
	│  │    "time": "2026-08-24T10:30:00Z",         │          │
	│  │    "message": "job completed"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF job completed component=replication │     │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Coffer packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - Further context (job ID, import ID, folder ID) comes from child
    loggers built with zerolog's With()

# Logging Conventions

Long-running components log start/stop at Info. The replication worker
logs per-job begin/end at Debug with job_id and secret/import counts,
per-import failures at Error with the truncated cause, and lock contention
or idempotency short-circuits at Debug. The queue runtime logs enqueue and
dead-letter events at Debug and Warn respectively.

# Usage

Initializing the Logger:

	import "github.com/cofferhq/coffer/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Worker started")
	log.Debug("Scanning replication imports")
	log.Warn("Lock contention detected")
	log.Error("Failed to connect to redis")
	log.Fatal("Cannot start without data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("job_id", job.ID).
		Int("imports", len(imports)).
		Msg("Replication job completed")

	log.Logger.Error().
		Err(err).
		Str("import_id", imp.ID).
		Msg("Per-import replication failed")

Component Loggers:

	// Create component-specific logger
	workerLog := log.WithComponent("replication")
	workerLog.Info().Msg("Subscribed to secret-replication queue")
	workerLog.Debug().Str("job_id", job.ID).Msg("Acquired secret locks")

	// Multiple context fields
	impLog := log.WithComponent("replication").
		With().Str("job_id", job.ID).
		Str("import_id", imp.ID).Logger()
	impLog.Info().Msg("Reserved folder created")
	impLog.Error().Err(err).Msg("Import failed")

# Integration Points

This package integrates with:

  - pkg/replication: Logs job lifecycle and per-import outcomes
  - pkg/queue: Logs delivery, redelivery, and dead-letter events
  - pkg/keystore: Logs lock acquisition failures
  - pkg/syncer: Logs downstream enqueue decisions
  - pkg/reconciler: Logs repair sweeps
  - cmd/coffer: Initializes the logger from configuration

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"replication","job_id":"job-7f3a","time":"2026-08-24T10:30:00Z","message":"Job completed"}
	{"level":"debug","component":"queue","queue":"secret-replication","time":"2026-08-24T10:30:01Z","message":"Message acked"}
	{"level":"error","component":"replication","import_id":"imp-19c2","error":"folder not found","time":"2026-08-24T10:30:02Z","message":"Import failed"}

Console Format (Development):

	10:30:00 INF Job completed component=replication job_id=job-7f3a
	10:30:01 DBG Message acked component=queue queue=secret-replication
	10:30:02 ERR Import failed component=replication import_id=imp-19c2 error="folder not found"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)
  - Amortized by buffer pooling

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Check: Log level configuration
  - Solution: Use Info level in production, rotate logs

Missing Context Fields:
  - Symptom: Logs missing component or ID fields
  - Cause: Using global Logger instead of context logger
  - Solution: Use WithComponent() or create child loggers

# Security

Log Content:
  - Never log ciphertexts, blind indices together with metadata, or any
    secret material
  - Log entity ids only: job, import, folder, secret ids are opaque
  - Truncated failure messages stored on import rows are also logged;
    producers must keep secret material out of error strings
  - Review logs before sharing externally

Log Access:
  - Restrict log file permissions (0640)
  - Limit log aggregation access (RBAC)
  - Audit log access in production
  - Encrypt logs at rest and in transit

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user data

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err()
  - Include context (job ID, import ID, folder ID)

Don't:
  - Log secret material of any kind
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
