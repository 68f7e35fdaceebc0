package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using Redis Streams with a consumer group.
// Messages stay pending until the handler returns nil; a claimer reassigns
// deliveries stuck past claimTimeout and moves repeat offenders to a
// dead-letter stream.
type RedisQueue struct {
	client        *redis.Client
	stream        string
	group         string
	maxWait       time.Duration
	claimInterval time.Duration // how often to check for stuck deliveries
	claimTimeout  time.Duration // consider a delivery stuck after this duration
	maxRetries    int64

	wg      sync.WaitGroup
	closing chan struct{}
}

// RedisQueueConfig holds configuration for RedisQueue
type RedisQueueConfig struct {
	Stream        string
	Group         string
	MaxJobTime    time.Duration
	ClaimInterval time.Duration
	ClaimTimeout  time.Duration
	MaxRetries    int64
}

// DefaultConfig returns default queue configuration
func DefaultConfig() RedisQueueConfig {
	return RedisQueueConfig{
		Stream:        "petavatar:dispatch",
		Group:         "workers",
		MaxJobTime:    4 * time.Minute,
		ClaimInterval: 10 * time.Second,
		ClaimTimeout:  5 * time.Minute,
		MaxRetries:    3,
	}
}

// NewRedisQueue creates a new Redis Streams based queue
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	q := &RedisQueue{
		client:        client,
		stream:        cfg.Stream,
		group:         cfg.Group,
		maxWait:       cfg.MaxJobTime,
		claimInterval: cfg.ClaimInterval,
		claimTimeout:  cfg.ClaimTimeout,
		maxRetries:    cfg.MaxRetries,
		closing:       make(chan struct{}),
	}

	// Create consumer group if it doesn't exist
	ctx := context.Background()
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	slog.Info("Redis queue initialized",
		"stream", q.stream,
		"group", q.group,
		"max_job_time", q.maxWait,
		"claim_timeout", q.claimTimeout)

	return q, nil
}

// Enqueue adds a dispatch message to the stream
func (q *RedisQueue) Enqueue(ctx context.Context, msg DispatchMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch: %w", err)
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"job_id": msg.JobID,
			"data":   string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to add dispatch to stream: %w", err)
	}

	slog.Debug("Dispatch enqueued", "job_id", msg.JobID, "key", msg.UploadKey)
	return nil
}

// Len returns approximate number of pending messages
func (q *RedisQueue) Len() int {
	ctx := context.Background()
	info, err := q.client.XInfoGroups(ctx, q.stream).Result()
	if err != nil {
		return 0
	}
	for _, g := range info {
		if g.Name == q.group {
			return int(g.Pending)
		}
	}
	return 0
}

// StartConsumers starts n consumer goroutines
func (q *RedisQueue) StartConsumers(ctx context.Context, n int, handler Handler) {
	for i := 0; i < n; i++ {
		q.wg.Add(1)
		go q.consumer(ctx, i+1, handler)
	}

	// Start claimer for stuck deliveries
	q.wg.Add(1)
	go q.claimer(ctx, handler)

	slog.Info("Started queue consumers", "count", n)
}

// consumer processes dispatches from the stream
func (q *RedisQueue) consumer(ctx context.Context, workerID int, handler Handler) {
	defer q.wg.Done()
	consumerName := fmt.Sprintf("worker-%d", workerID)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Consumer shutting down", "worker", workerID)
			return
		case <-q.closing:
			slog.Info("Consumer received close signal", "worker", workerID)
			return
		default:
		}

		// Read new messages (blocking with timeout)
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumerName,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    5 * time.Second,
		}).Result()

		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Error("Failed to read from stream", "error", err, "worker", workerID)
			time.Sleep(time.Second) // backoff on error
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.processMessage(ctx, msg, handler, workerID)
			}
		}
	}
}

// claimer reclaims stuck deliveries from dead consumers
func (q *RedisQueue) claimer(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closing:
			return
		case <-ticker.C:
			q.claimStuck(ctx, handler)
		}
	}
}

// claimStuck finds and reclaims deliveries that have been pending too long
func (q *RedisQueue) claimStuck(ctx context.Context, handler Handler) {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()

	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Error("Failed to get pending entries", "error", err)
		}
		return
	}

	for _, p := range pending {
		if p.Idle < q.claimTimeout {
			continue
		}

		msgs, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.stream,
			Group:    q.group,
			Consumer: "claimer",
			MinIdle:  q.claimTimeout,
			Messages: []string{p.ID},
		}).Result()

		if err != nil {
			slog.Error("Failed to claim stuck delivery", "message_id", p.ID, "error", err)
			continue
		}

		for _, msg := range msgs {
			slog.Warn("Reclaimed stuck delivery",
				"message_id", msg.ID,
				"idle_time", p.Idle,
				"retry_count", p.RetryCount)

			// Check retry count - if too many redeliveries, move to dead letter
			if p.RetryCount > q.maxRetries {
				q.moveToDeadLetter(ctx, msg, fmt.Sprintf("exceeded max retries: %d", p.RetryCount))
				continue
			}

			q.wg.Add(1)
			go func(m redis.XMessage) {
				defer q.wg.Done()
				q.processMessage(ctx, m, handler, 0)
			}(msg)
		}
	}
}

// processMessage handles a single message from the stream. The message is
// acknowledged only when the handler reports success, so a crashed worker
// leaves the delivery pending for the claimer.
func (q *RedisQueue) processMessage(ctx context.Context, msg redis.XMessage, handler Handler, workerID int) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		slog.Error("Invalid message format", "message_id", msg.ID)
		q.ackMessage(ctx, msg.ID)
		return
	}

	var dispatch DispatchMessage
	if err := json.Unmarshal([]byte(data), &dispatch); err != nil {
		slog.Error("Failed to unmarshal dispatch", "message_id", msg.ID, "error", err)
		q.ackMessage(ctx, msg.ID)
		return
	}

	slog.Info("Processing dispatch", "job_id", dispatch.JobID, "worker", workerID)

	runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
	err := handler(runCtx, dispatch)
	cancel()

	if err != nil {
		// No ack: the delivery stays pending and will be reclaimed or
		// dead-lettered by the claimer.
		slog.Error("Dispatch failed", "job_id", dispatch.JobID, "error", err, "worker", workerID)
		return
	}

	q.ackMessage(ctx, msg.ID)
}

// moveToDeadLetter moves an exhausted delivery to the dead letter stream
func (q *RedisQueue) moveToDeadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	dlStream := q.stream + ":deadletter"

	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlStream,
		Values: map[string]any{
			"original_id": msg.ID,
			"data":        msg.Values["data"],
			"reason":      reason,
			"moved_at":    time.Now().Format(time.RFC3339),
		},
	}).Result()

	if err != nil {
		slog.Error("Failed to move to dead letter", "message_id", msg.ID, "error", err)
	} else {
		slog.Warn("Moved dispatch to dead letter queue", "message_id", msg.ID, "reason", reason)
	}

	// Ack the original message
	q.ackMessage(ctx, msg.ID)
}

// ackMessage acknowledges a message
func (q *RedisQueue) ackMessage(ctx context.Context, messageID string) {
	err := q.client.XAck(ctx, q.stream, q.group, messageID).Err()
	if err != nil {
		slog.Error("Failed to ack message", "message_id", messageID, "error", err)
	}
}

// Close gracefully shuts down the queue
func (q *RedisQueue) Close() error {
	close(q.closing)
	q.wg.Wait()
	slog.Info("Queue closed gracefully")
	return nil
}

// isGroupExistsError checks if error is "BUSYGROUP Consumer Group name already exists"
func isGroupExistsError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}

// GetDeadLetterCount returns count of messages in the dead letter stream
func (q *RedisQueue) GetDeadLetterCount(ctx context.Context) (int64, error) {
	dlStream := q.stream + ":deadletter"
	return q.client.XLen(ctx, dlStream).Result()
}

// RetryDeadLetter moves a message from dead letter back to the main stream
func (q *RedisQueue) RetryDeadLetter(ctx context.Context, messageID string) error {
	dlStream := q.stream + ":deadletter"

	msgs, err := q.client.XRange(ctx, dlStream, messageID, messageID).Result()
	if err != nil {
		return fmt.Errorf("failed to read dead letter message: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("message not found: %s", messageID)
	}

	msg := msgs[0]
	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("invalid message format")
	}

	var dispatch DispatchMessage
	if err := json.Unmarshal([]byte(data), &dispatch); err != nil {
		return fmt.Errorf("failed to unmarshal dead letter payload: %w", err)
	}

	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"job_id": dispatch.JobID,
			"data":   data,
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to re-add dispatch: %w", err)
	}

	_, err = q.client.XDel(ctx, dlStream, messageID).Result()
	if err != nil {
		slog.Warn("Failed to delete from dead letter", "message_id", messageID, "error", err)
	}

	return nil
}
