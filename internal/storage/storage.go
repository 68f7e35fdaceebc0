package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes a stored object without fetching its body.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// Storage is bucket-addressed object storage. Keys are caller-chosen; the
// pipeline uses uploads/{job_id}/... for inputs and generated/{job_id}/... for
// artifacts.
type Storage interface {
	Put(ctx context.Context, bucket, key string, content io.Reader, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, string, error)
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	PresignGet(ctx context.Context, bucket, key string, expiration time.Duration) (string, error)
	PresignPut(ctx context.Context, bucket, key, contentType string, expiration time.Duration) (string, error)
	Delete(ctx context.Context, bucket, key string) error
}
