package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/cofferhq/coffer/pkg/events"
	"github.com/cofferhq/coffer/pkg/metrics"
)

// Start creates the consumer groups and launches the consume and reclaim
// loops. It returns once the loops are running.
func (r *Runtime) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	r.cancel = cancel
	r.group = group

	r.mu.RLock()
	queues := make([]string, 0, len(r.handlers))
	for queue := range r.handlers {
		queues = append(queues, queue)
	}
	r.mu.RUnlock()

	for _, queue := range queues {
		if err := r.ensureGroup(groupCtx, queue); err != nil {
			cancel()
			return err
		}
	}

	for _, queue := range queues {
		queue := queue
		for i := 0; i < r.cfg.Workers; i++ {
			consumer := fmt.Sprintf("%s-%d", r.consumer, i)
			group.Go(func() error {
				r.consume(groupCtx, queue, consumer)
				return nil
			})
		}
		group.Go(func() error {
			r.reclaimLoop(groupCtx, queue)
			return nil
		})
	}

	r.logger.Info().Strs("queues", queues).Int("workers", r.cfg.Workers).Msg("Queue runtime started")
	return nil
}

// Stop cancels the loops and waits for in-flight handlers to return
func (r *Runtime) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	_ = r.group.Wait()
	r.logger.Info().Msg("Queue runtime stopped")
}

// ensureGroup creates the consumer group, tolerating an existing one
func (r *Runtime) ensureGroup(ctx context.Context, queue string) error {
	err := r.rdb.XGroupCreateMkStream(ctx, queue, consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group for %s: %w", queue, err)
	}
	return nil
}

// consume reads and dispatches messages until the context is cancelled
func (r *Runtime) consume(ctx context.Context, queue, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := r.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{queue, ">"},
			Count:    1,
			Block:    -1, // poll instead of blocking so shutdown stays prompt
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				r.logger.Warn().Err(err).Str("queue", queue).Msg("Failed to read from queue")
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.cfg.PollInterval):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				r.dispatch(ctx, queue, msg)
			}
		}
	}
}

// dispatch runs the registered handler for one message. Successful and
// cancelled jobs are acknowledged; failed jobs stay pending for redelivery.
func (r *Runtime) dispatch(ctx context.Context, queue string, msg redis.XMessage) {
	jobID, _ := msg.Values["job_id"].(string)
	body, _ := msg.Values["body"].(string)

	logger := r.logger.With().Str("queue", queue).Str("job_id", jobID).Logger()

	if jobID == "" {
		logger.Warn().Str("msg_id", msg.ID).Msg("Dropping message without job id")
		r.ack(ctx, queue, msg.ID)
		return
	}

	cancelled, err := r.isCancelled(ctx, queue, jobID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to check cancellation, proceeding")
	}
	if cancelled {
		r.ack(ctx, queue, msg.ID)
		r.broker.Publish(&events.Event{Type: events.EventJobCancelled, Queue: queue, JobID: jobID})
		logger.Info().Msg("Job cancelled before dispatch")
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[queue]
	r.mu.RUnlock()
	if !ok {
		logger.Error().Msg("No handler registered for queue")
		return
	}

	jobCtx, cancelJob := context.WithCancel(ctx)
	key := jobKey(queue, jobID)
	r.mu.Lock()
	r.inflight[key] = cancelJob
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
		cancelJob()
	}()

	r.broker.Publish(&events.Event{Type: events.EventJobStarted, Queue: queue, JobID: jobID})
	logger.Info().Msg("Job started")

	timer := metrics.NewTimer()
	handlerErr := handler(jobCtx, jobID, []byte(body))
	timer.ObserveDurationVec(metrics.QueueJobDuration, queue)

	switch {
	case handlerErr != nil && ctx.Err() != nil:
		// Shutdown interrupted the handler; the entry stays pending and is
		// redelivered after restart
		logger.Info().Msg("Job interrupted by shutdown")
	case handlerErr != nil && jobCtx.Err() != nil:
		r.ack(ctx, queue, msg.ID)
		r.broker.Publish(&events.Event{Type: events.EventJobCancelled, Queue: queue, JobID: jobID})
		logger.Info().Msg("Job cancelled")
	case handlerErr != nil:
		metrics.QueueFailedTotal.WithLabelValues(queue).Inc()
		r.broker.Publish(&events.Event{
			Type:    events.EventJobFailed,
			Queue:   queue,
			JobID:   jobID,
			Payload: body,
			Error:   handlerErr.Error(),
		})
		logger.Error().Err(handlerErr).Msg("Job failed")
	default:
		r.ack(ctx, queue, msg.ID)
		r.broker.Publish(&events.Event{Type: events.EventJobCompleted, Queue: queue, JobID: jobID})
		logger.Info().Msg("Job completed")
	}
}

// reclaimLoop periodically redelivers pending entries whose consumer died
// or whose handler failed
func (r *Runtime) reclaimLoop(ctx context.Context, queue string) {
	ticker := time.NewTicker(r.cfg.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.sweep(ctx, queue); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Str("queue", queue).Msg("Pending sweep failed")
			}
		}
	}
}

// sweep dead-letters exhausted entries and redelivers the rest
func (r *Runtime) sweep(ctx context.Context, queue string) error {
	pending, err := r.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: queue,
		Group:  consumerGroup,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, entry := range pending {
		if entry.Idle < r.cfg.ReclaimMinIdle {
			continue
		}
		if entry.RetryCount >= int64(r.cfg.MaxDeliveries) {
			if err := r.deadLetter(ctx, queue, entry.ID); err != nil {
				r.logger.Error().Err(err).Str("queue", queue).Str("msg_id", entry.ID).Msg("Failed to dead letter message")
			}
		}
	}

	claimed, _, err := r.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queue,
		Group:    consumerGroup,
		Consumer: r.consumer + "-reclaim",
		MinIdle:  r.cfg.ReclaimMinIdle,
		Start:    "0-0",
		Count:    100,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	}

	for _, msg := range claimed {
		r.dispatch(ctx, queue, msg)
	}

	return nil
}

// deadLetter copies an exhausted entry to the <queue>:dead stream and
// acknowledges the original
func (r *Runtime) deadLetter(ctx context.Context, queue, msgID string) error {
	msgs, err := r.rdb.XRange(ctx, queue, msgID, msgID).Result()
	if err != nil {
		return fmt.Errorf("failed to fetch message %s: %w", msgID, err)
	}

	if len(msgs) > 0 {
		err := r.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: queue + ":dead",
			Values: msgs[0].Values,
		}).Err()
		if err != nil {
			return fmt.Errorf("failed to append to dead letter stream: %w", err)
		}
	}

	if err := r.rdb.XAck(ctx, queue, consumerGroup, msgID).Err(); err != nil {
		return fmt.Errorf("failed to ack dead lettered message: %w", err)
	}

	metrics.QueueDeadLetteredTotal.WithLabelValues(queue).Inc()
	r.logger.Warn().Str("queue", queue).Str("msg_id", msgID).Msg("Message moved to dead letter stream")
	return nil
}

func (r *Runtime) ack(ctx context.Context, queue, msgID string) {
	if err := r.rdb.XAck(ctx, queue, consumerGroup, msgID).Err(); err != nil && ctx.Err() == nil {
		r.logger.Warn().Err(err).Str("queue", queue).Str("msg_id", msgID).Msg("Failed to ack message")
	}
}

func (r *Runtime) isCancelled(ctx context.Context, queue, jobID string) (bool, error) {
	_, err := r.rdb.Get(ctx, cancelKey(queue, jobID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
