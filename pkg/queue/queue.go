package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/log"
	"github.com/cofferhq/coffer/pkg/metrics"
	"github.com/cofferhq/coffer/pkg/security"
)

const (
	// QueueSecretReplication carries replication jobs for source folders
	QueueSecretReplication = "secret-replication"

	// QueueSecretSync carries folder sync requests
	QueueSecretSync = "secret-sync"

	// consumerGroup is the consumer group shared by every worker process
	consumerGroup = "coffer-workers"

	// cancelTTL bounds how long a cancellation tombstone outlives its job
	cancelTTL = time.Hour
)

// Handler processes a single job. A nil return acknowledges the message;
// an error leaves it pending so the reclaim loop can redeliver it.
type Handler func(ctx context.Context, jobID string, payload []byte) error

// Config holds queue runtime configuration
type Config struct {
	Workers         int           // consumers per queue
	PollInterval    time.Duration // wait between empty reads
	ReclaimInterval time.Duration // how often to sweep pending entries
	ReclaimMinIdle  time.Duration // pending age before an entry is redelivered
	MaxDeliveries   int           // delivery attempts before dead-lettering
}

// DefaultConfig returns the default queue configuration
func DefaultConfig() Config {
	return Config{
		Workers:         2,
		PollInterval:    250 * time.Millisecond,
		ReclaimInterval: 5 * time.Second,
		ReclaimMinIdle:  30 * time.Second,
		MaxDeliveries:   5,
	}
}

// Runtime consumes jobs from redis streams and dispatches them to
// registered handlers. All worker processes share one consumer group per
// queue, so each message is delivered to a single process at a time.
type Runtime struct {
	rdb      *redis.Client
	broker   *events.Broker
	cfg      Config
	consumer string
	logger   zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	inflight map[string]context.CancelFunc

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewRuntime creates a queue runtime on an existing redis connection
func NewRuntime(rdb *redis.Client, broker *events.Broker, cfg Config) *Runtime {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 5 * time.Second
	}
	if cfg.ReclaimMinIdle <= 0 {
		cfg.ReclaimMinIdle = 30 * time.Second
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = 5
	}

	host, err := os.Hostname()
	if err != nil {
		host = "coffer"
	}

	return &Runtime{
		rdb:      rdb,
		broker:   broker,
		cfg:      cfg,
		consumer: fmt.Sprintf("%s-%s", host, uuid.New().String()[:8]),
		logger:   log.WithComponent("queue"),
		handlers: make(map[string]Handler),
		inflight: make(map[string]context.CancelFunc),
	}
}

// Register installs the handler for a queue. Must be called before Start.
func (r *Runtime) Register(queue string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[queue] = h
}

// Enqueue appends a job to the queue stream, generating a job id when none
// is supplied. Transient redis failures are retried with fibonacci backoff
// before giving up.
func (r *Runtime) Enqueue(ctx context.Context, queue, jobID string, payload []byte) error {
	if jobID == "" {
		var err error
		if jobID, err = security.NewJobID(); err != nil {
			return err
		}
	}

	backoff := retry.WithMaxRetries(4, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: queue,
			Values: map[string]interface{}{"job_id": jobID, "body": payload},
		}).Err()
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s on %s: %w", jobID, queue, err)
	}

	metrics.QueueEnqueuedTotal.WithLabelValues(queue).Inc()
	switch queue {
	case QueueSecretReplication:
		r.broker.Publish(&events.Event{Type: events.EventReplicationEnqueued, Queue: queue, JobID: jobID})
	case QueueSecretSync:
		r.broker.Publish(&events.Event{Type: events.EventSyncEnqueued, Queue: queue, JobID: jobID})
	}

	r.logger.Debug().Str("queue", queue).Str("job_id", jobID).Msg("Job enqueued")
	return nil
}

// Cancel marks a job cancelled. A queued copy is dropped before dispatch;
// an in-flight handler has its context cancelled.
func (r *Runtime) Cancel(ctx context.Context, queue, jobID string) error {
	if err := r.rdb.Set(ctx, cancelKey(queue, jobID), "1", cancelTTL).Err(); err != nil {
		return fmt.Errorf("failed to record cancellation: %w", err)
	}

	r.mu.RLock()
	cancelJob, ok := r.inflight[jobKey(queue, jobID)]
	r.mu.RUnlock()
	if ok {
		cancelJob()
	}

	r.logger.Info().Str("queue", queue).Str("job_id", jobID).Msg("Job cancellation requested")
	return nil
}

func cancelKey(queue, jobID string) string {
	return queue + ":cancel:" + jobID
}

func jobKey(queue, jobID string) string {
	return queue + ":" + jobID
}
