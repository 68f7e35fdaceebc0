package queue

import (
	"context"
	"time"
)

// DispatchMessage tells a worker which job to process and where its input
// lives. The job record itself stays in the job store; the message only
// carries the pointer.
type DispatchMessage struct {
	JobID        string    `json:"job_id"`
	UploadBucket string    `json:"upload_bucket"`
	UploadKey    string    `json:"upload_key"`
	Timestamp    time.Time `json:"timestamp"`
}

// Handler processes one dispatch. Returning nil acknowledges the message;
// returning an error leaves it pending for the claimer / dead-letter policy.
type Handler func(ctx context.Context, msg DispatchMessage) error

// Queue delivers dispatch messages to workers at least once.
type Queue interface {
	Enqueue(ctx context.Context, msg DispatchMessage) error
	StartConsumers(ctx context.Context, n int, handler Handler)
	Len() int
	Close() error
}
