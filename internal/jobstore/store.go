package jobstore

import (
	"context"
	"time"

	"github.com/petavatar/petavatar/internal/models"
)

// Store is the single source of truth for job records. All status changes go
// through Transition, which applies the change only when the current status is
// one of the expected set, so concurrent workers and duplicate deliveries can
// never clobber finished work.
type Store interface {
	// CreateIfAbsent inserts the job if no record with the same job_id exists.
	// Returns false when the record was already there; the existing record is
	// left untouched either way.
	CreateIfAbsent(ctx context.Context, j *models.Job) (bool, error)

	// RefreshInput updates the upload reference on an existing record without
	// touching status or progress.
	RefreshInput(ctx context.Context, jobID, bucket, key string) error

	// Get returns the job or common.ErrNotFound.
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// Transition atomically moves the job to the new status iff its current
	// status is in expected. Returns the updated job, common.ErrNotFound when
	// no record exists, or common.ErrConflict when the guard fails.
	Transition(ctx context.Context, jobID string, expected []models.JobStatus, to models.JobStatus, opts ...TransitionOpt) (*models.Job, error)

	// DeleteExpired removes records whose expires_at is before now and
	// returns how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type transition struct {
	progress *int
	result   *models.JobResult
	errMsg   string
}

// TransitionOpt customizes a Transition call.
type TransitionOpt func(*transition)

// WithProgress sets the progress checkpoint. Progress never moves backwards:
// the stored value becomes max(current, n).
func WithProgress(n int) TransitionOpt {
	return func(t *transition) { t.progress = &n }
}

// WithResult attaches the completed result payload.
func WithResult(r *models.JobResult) TransitionOpt {
	return func(t *transition) { t.result = r }
}

// WithError attaches the sanitized failure message.
func WithError(msg string) TransitionOpt {
	return func(t *transition) { t.errMsg = msg }
}

func applyOpts(opts []TransitionOpt) transition {
	var t transition
	for _, o := range opts {
		o(&t)
	}
	return t
}
