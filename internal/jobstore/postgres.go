package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/petavatar/petavatar/internal/common"
	"github.com/petavatar/petavatar/internal/database"
	"github.com/petavatar/petavatar/internal/models"
)

// PostgresStore persists jobs in Postgres. Guarded transitions are a single
// conditional UPDATE, so two workers racing on the same job resolve without
// locks or transactions.
type PostgresStore struct {
	db database.Querier
}

func NewPostgresStore(db database.Querier) *PostgresStore {
	return &PostgresStore{db: db}
}

const jobColumns = `job_id, status, progress, upload_bucket, upload_key, error_message, result, created_at, updated_at, expires_at`

func (s *PostgresStore) CreateIfAbsent(ctx context.Context, j *models.Job) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO jobs (job_id, status, progress, upload_bucket, upload_key, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING`,
		j.JobID, j.Status, j.Progress, j.UploadBucket, j.UploadKey, j.CreatedAt, j.UpdatedAt, j.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("failed to create job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) RefreshInput(ctx context.Context, jobID, bucket, key string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE jobs SET upload_bucket = $2, upload_key = $3, updated_at = now()
		WHERE job_id = $1`,
		jobID, bucket, key)
	if err != nil {
		return fmt.Errorf("failed to refresh job input: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrJobNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_id = $1`, jobID)
	return scanJob(row)
}

func (s *PostgresStore) Transition(ctx context.Context, jobID string, expected []models.JobStatus, to models.JobStatus, opts ...TransitionOpt) (*models.Job, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrValidation, to)
	}
	t := applyOpts(opts)

	progress := -1 // negative means leave as is; GREATEST keeps it monotone anyway
	if t.progress != nil {
		progress = *t.progress
	}

	var resultJSON []byte
	if t.result != nil {
		var err error
		resultJSON, err = json.Marshal(t.result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
	}

	guards := make([]string, len(expected))
	for i, st := range expected {
		guards[i] = string(st)
	}

	row := s.db.QueryRow(ctx, `
		UPDATE jobs SET
			status = $2,
			progress = GREATEST(progress, $3),
			error_message = CASE WHEN $4 <> '' THEN $4 ELSE error_message END,
			result = COALESCE($5, result),
			updated_at = now()
		WHERE job_id = $1 AND status = ANY($6)
		RETURNING `+jobColumns,
		jobID, to, progress, t.errMsg, resultJSON, guards)

	j, err := scanJob(row)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	// Guard did not match: tell a vanished record apart from a status race.
	if _, getErr := s.Get(ctx, jobID); getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("job %s not in expected status: %w", jobID, common.ErrConflict)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM jobs WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j          models.Job
		resultJSON []byte
	)
	err := row.Scan(&j.JobID, &j.Status, &j.Progress, &j.UploadBucket, &j.UploadKey,
		&j.ErrorMessage, &resultJSON, &j.CreatedAt, &j.UpdatedAt, &j.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}
	if len(resultJSON) > 0 {
		var r models.JobResult
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job result: %w", err)
		}
		j.Result = &r
	}
	return &j, nil
}
