package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petavatar/petavatar/internal/common"
	"github.com/petavatar/petavatar/internal/jobstore"
	"github.com/petavatar/petavatar/internal/models"
	"github.com/petavatar/petavatar/internal/queue"
	"github.com/petavatar/petavatar/internal/storage"
	"github.com/petavatar/petavatar/internal/validation"
)

// StorageEvent is one object-created notification from the upload bucket.
type StorageEvent struct {
	Bucket string
	Key    string
}

// Summary reports the outcome of a storage event batch. Keys that do not
// follow the upload convention are skipped, never fatal.
type Summary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// UploadTicket is a presigned slot for a client to upload its image into.
type UploadTicket struct {
	JobID     string    `json:"job_id"`
	UploadURL string    `json:"upload_url"`
	Key       string    `json:"upload_key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Service converges the two ingestion triggers onto one job record.
// Whichever trigger arrives first creates the record; the other refreshes the
// upload reference. Both enqueue; the worker's guarded first transition
// absorbs duplicate dispatch.
type Service struct {
	store        jobstore.Store
	queue        queue.Queue
	storage      storage.Storage
	uploadBucket string
	maxSize      int64
	retention    time.Duration
	uploadTTL    time.Duration
}

type Config struct {
	UploadBucket  string
	MaxUploadSize int64
	Retention     time.Duration
	UploadURLTTL  time.Duration
}

func NewService(store jobstore.Store, q queue.Queue, st storage.Storage, cfg Config) *Service {
	return &Service{
		store:        store,
		queue:        q,
		storage:      st,
		uploadBucket: cfg.UploadBucket,
		maxSize:      cfg.MaxUploadSize,
		retention:    cfg.Retention,
		uploadTTL:    cfg.UploadURLTTL,
	}
}

// StartFromClientRequest validates the referenced object and starts (or joins)
// the job for it. Validation failures leave no record and dispatch nothing.
func (s *Service) StartFromClientRequest(ctx context.Context, storageURI string) (string, error) {
	bucket, key, err := validation.ParseStorageURI(storageURI)
	if err != nil {
		return "", err
	}

	info, err := s.storage.Stat(ctx, bucket, key)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return "", common.ValidationError{Field: "s3_uri", Message: "object does not exist"}
		}
		return "", fmt.Errorf("failed to stat upload object: %w", err)
	}

	if err := validation.ValidateUpload(info.ContentType, info.Size, s.maxSize); err != nil {
		return "", err
	}

	jobID, ok := validation.ExtractJobID(key)
	if !ok {
		jobID = uuid.New().String()
	}

	if err := s.converge(ctx, jobID, bucket, key); err != nil {
		return "", err
	}
	return jobID, nil
}

// StartFromStorageEvents runs the same converge-then-enqueue sequence for each
// record of an object-created batch. One bad record never fails the batch.
func (s *Service) StartFromStorageEvents(ctx context.Context, events []StorageEvent) Summary {
	var sum Summary
	for _, ev := range events {
		jobID, ok := validation.ExtractJobID(ev.Key)
		if !ok {
			slog.Info("skipping storage event outside upload convention", "key", ev.Key)
			sum.Skipped++
			continue
		}

		if err := s.converge(ctx, jobID, ev.Bucket, ev.Key); err != nil {
			slog.Error("failed to process storage event", "key", ev.Key, "job_id", jobID, "error", err)
			sum.Errors++
			continue
		}
		sum.Processed++
	}
	return sum
}

// CreateUpload mints a job id and a short-lived presigned PUT slot for it.
// No job record is created yet; the record appears via either trigger once
// the object exists.
func (s *Service) CreateUpload(ctx context.Context, contentType string) (*UploadTicket, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := validation.ValidateUpload(contentType, 1, s.maxSize); err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	key := fmt.Sprintf("uploads/%s/original", jobID)

	url, err := s.storage.PresignPut(ctx, s.uploadBucket, key, contentType, s.uploadTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &UploadTicket{
		JobID:     jobID,
		UploadURL: url,
		Key:       key,
		ExpiresAt: time.Now().Add(s.uploadTTL),
	}, nil
}

// converge creates the record if absent, refreshes the input reference if it
// already exists, and enqueues the dispatch either way.
func (s *Service) converge(ctx context.Context, jobID, bucket, key string) error {
	now := time.Now()
	created, err := s.store.CreateIfAbsent(ctx, &models.Job{
		JobID:        jobID,
		Status:       models.StatusQueued,
		UploadBucket: bucket,
		UploadKey:    key,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(s.retention),
	})
	if err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}

	if created {
		slog.Info("job created", "job_id", jobID, "key", key)
	} else {
		if err := s.store.RefreshInput(ctx, jobID, bucket, key); err != nil && !errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("failed to refresh job input: %w", err)
		}
		slog.Info("job already exists, refreshed input", "job_id", jobID, "key", key)
	}

	if err := s.queue.Enqueue(ctx, queue.DispatchMessage{
		JobID:        jobID,
		UploadBucket: bucket,
		UploadKey:    key,
		Timestamp:    now,
	}); err != nil {
		return fmt.Errorf("failed to enqueue dispatch: %w", err)
	}
	return nil
}
