package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/petavatar/petavatar/internal/common"
	"github.com/petavatar/petavatar/internal/generator"
	"github.com/petavatar/petavatar/internal/jobstore"
	"github.com/petavatar/petavatar/internal/models"
	"github.com/petavatar/petavatar/internal/queue"
	"github.com/petavatar/petavatar/internal/storage"
)

// Worker consumes dispatch messages and drives jobs to a terminal state.
// Every state change is a guarded transition, so duplicate deliveries and
// racing workers resolve through the job store, never through local state.
type Worker struct {
	store           jobstore.Store
	storage         storage.Storage
	generator       generator.Generator
	generatedBucket string
	maxAttempts     int
	baseDelay       time.Duration
}

type Config struct {
	GeneratedBucket string
	MaxAttempts     int
	BaseDelay       time.Duration
}

func New(store jobstore.Store, st storage.Storage, gen generator.Generator, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Worker{
		store:           store,
		storage:         st,
		generator:       gen,
		generatedBucket: cfg.GeneratedBucket,
		maxAttempts:     cfg.MaxAttempts,
		baseDelay:       cfg.BaseDelay,
	}
}

// Handler adapts the worker to the queue contract.
func (w *Worker) Handler() queue.Handler {
	return w.Handle
}

// Handle processes one dispatch. Returning nil acknowledges the message.
func (w *Worker) Handle(ctx context.Context, msg queue.DispatchMessage) error {
	job, err := w.store.Transition(ctx, msg.JobID,
		[]models.JobStatus{models.StatusQueued, models.StatusProcessing},
		models.StatusProcessing, jobstore.WithProgress(10))
	if err != nil {
		if errors.Is(err, common.ErrConflict) {
			// stale redelivery of finished work
			slog.Info("skipping dispatch for terminal job", "job_id", msg.JobID)
			return nil
		}
		if errors.Is(err, common.ErrNotFound) {
			// record vanished or expired; nothing to do with this dispatch
			slog.Warn("dispatch for unknown job", "job_id", msg.JobID)
			return nil
		}
		return fmt.Errorf("failed to claim job: %w", err)
	}

	bucket, key := msg.UploadBucket, msg.UploadKey
	if key == "" {
		bucket, key = job.UploadBucket, job.UploadKey
	}

	image, contentType, err := w.fetchInput(ctx, bucket, key)
	if err != nil {
		// missing or unreadable input cannot succeed on redelivery
		slog.Error("input fetch failed", "job_id", msg.JobID, "key", key, "error", err)
		w.markFailed(ctx, msg.JobID, "input image could not be read")
		return nil
	}

	sniffed := mimetype.Detect(image)
	if !strings.HasPrefix(sniffed.String(), "image/") {
		slog.Error("input is not an image", "job_id", msg.JobID, "detected", sniffed.String())
		w.markFailed(ctx, msg.JobID, "input object is not an image")
		return nil
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = sniffed.String()
	}

	if ok, err := w.checkpoint(ctx, msg.JobID, 20); err != nil {
		return err
	} else if !ok {
		return nil
	}
	if ok, err := w.checkpoint(ctx, msg.JobID, 30); err != nil {
		return err
	} else if !ok {
		return nil
	}

	var result *generator.Result
	err = retryWithBackoff(ctx, w.maxAttempts, w.baseDelay, generator.IsTransient, func() error {
		var genErr error
		result, genErr = w.generator.Generate(ctx, image, contentType, msg.JobID)
		return genErr
	})
	if err != nil {
		slog.Error("generation failed", "job_id", msg.JobID, "error", err)
		w.markFailed(ctx, msg.JobID, "identity generation failed")
		return fmt.Errorf("generation failed for job %s: %w", msg.JobID, err)
	}

	if ok, err := w.checkpoint(ctx, msg.JobID, 80); err != nil {
		return err
	} else if !ok {
		return nil
	}

	avatarKey := fmt.Sprintf("generated/%s/avatar.png", msg.JobID)
	if err := w.storage.Put(ctx, w.generatedBucket, avatarKey, bytes.NewReader(result.AvatarPNG), "image/png"); err != nil {
		slog.Error("avatar upload failed", "job_id", msg.JobID, "error", err)
		w.markFailed(ctx, msg.JobID, "failed to store generated avatar")
		return fmt.Errorf("avatar upload failed for job %s: %w", msg.JobID, err)
	}

	if ok, err := w.checkpoint(ctx, msg.JobID, 90); err != nil {
		return err
	} else if !ok {
		return nil
	}

	_, err = w.store.Transition(ctx, msg.JobID,
		[]models.JobStatus{models.StatusProcessing},
		models.StatusCompleted,
		jobstore.WithProgress(100),
		jobstore.WithResult(&models.JobResult{
			AvatarKey: avatarKey,
			Identity:  result.Identity,
			Analysis:  result.Analysis,
		}))
	if err != nil {
		if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound) {
			slog.Info("job finished elsewhere before completion", "job_id", msg.JobID)
			return nil
		}
		return fmt.Errorf("failed to complete job %s: %w", msg.JobID, err)
	}

	slog.Info("job completed", "job_id", msg.JobID, "avatar_key", avatarKey)
	return nil
}

func (w *Worker) fetchInput(ctx context.Context, bucket, key string) ([]byte, string, error) {
	rc, contentType, err := w.storage.Get(ctx, bucket, key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read input object: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("input object is empty")
	}
	return data, contentType, nil
}

// checkpoint records a progress milestone. A conflict or vanished record means
// another worker already drove the job to a terminal state; the caller should
// stop quietly. Any other store error is returned so the dispatch stays
// unacknowledged and gets redelivered.
func (w *Worker) checkpoint(ctx context.Context, jobID string, progress int) (bool, error) {
	_, err := w.store.Transition(ctx, jobID,
		[]models.JobStatus{models.StatusProcessing},
		models.StatusProcessing, jobstore.WithProgress(progress))
	if err != nil {
		if errors.Is(err, common.ErrConflict) || errors.Is(err, common.ErrNotFound) {
			slog.Info("checkpoint skipped, job no longer processing", "job_id", jobID, "progress", progress)
			return false, nil
		}
		return false, fmt.Errorf("checkpoint %d failed for job %s: %w", progress, jobID, err)
	}
	return true, nil
}

// markFailed persists the terminal failure with a sanitized message. A
// conflict here means the job already reached a terminal state.
func (w *Worker) markFailed(ctx context.Context, jobID, message string) {
	_, err := w.store.Transition(ctx, jobID,
		[]models.JobStatus{models.StatusQueued, models.StatusProcessing},
		models.StatusFailed, jobstore.WithError(message))
	if err != nil && !errors.Is(err, common.ErrConflict) && !errors.Is(err, common.ErrNotFound) {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}
