package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type delivery struct {
	msg      DispatchMessage
	attempts int
}

// memQueue is a channel-backed Queue for tests and local runs. It mimics the
// at-least-once contract: a failed handler gets the message redelivered up to
// maxRetries times before it is dropped.
type memQueue struct {
	buf        chan delivery
	maxWait    time.Duration
	maxRetries int

	closeOnce sync.Once
	closing   chan struct{}
}

func NewMemoryQueue(buffer int, maxJobDuration time.Duration, maxRetries int) Queue {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &memQueue{
		buf:        make(chan delivery, buffer),
		maxWait:    maxJobDuration,
		maxRetries: maxRetries,
		closing:    make(chan struct{}),
	}
}

func (q *memQueue) Enqueue(ctx context.Context, msg DispatchMessage) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case q.buf <- delivery{msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *memQueue) StartConsumers(ctx context.Context, n int, handler Handler) {
	for i := 0; i < n; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.closing:
					return
				case d := <-q.buf:
					runCtx, cancel := context.WithTimeout(ctx, q.maxWait)
					err := handler(runCtx, d.msg)
					cancel()

					if err == nil {
						continue
					}

					d.attempts++
					if d.attempts > q.maxRetries {
						slog.Warn("dispatch dropped after retries",
							"job_id", d.msg.JobID, "attempts", d.attempts, "err", err)
						continue
					}
					slog.Error("dispatch failed, redelivering",
						"job_id", d.msg.JobID, "attempt", d.attempts, "err", err, "worker", workerID)
					select {
					case q.buf <- d:
					default:
						slog.Warn("queue full, dispatch dropped", "job_id", d.msg.JobID)
					}
				}
			}
		}(i + 1)
	}
}

func (q *memQueue) Len() int {
	return len(q.buf)
}

func (q *memQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closing) })
	return nil
}
