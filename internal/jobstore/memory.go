package jobstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/petavatar/petavatar/internal/common"
	"github.com/petavatar/petavatar/internal/models"
)

// MemoryStore keeps jobs in a mutex-guarded map. Same contract as the
// Postgres store; used in tests and STORE_MODE=memory local runs.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) CreateIfAbsent(_ context.Context, j *models.Job) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.JobID]; ok {
		return false, nil
	}
	s.jobs[j.JobID] = cloneJob(j)
	return true, nil
}

func (s *MemoryStore) RefreshInput(_ context.Context, jobID, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return common.ErrJobNotFound
	}
	j.UploadBucket = bucket
	j.UploadKey = key
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, common.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) Transition(_ context.Context, jobID string, expected []models.JobStatus, to models.JobStatus, opts ...TransitionOpt) (*models.Job, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", common.ErrValidation, to)
	}
	t := applyOpts(opts)

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return nil, common.ErrJobNotFound
	}

	matched := false
	for _, st := range expected {
		if j.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("job %s not in expected status: %w", jobID, common.ErrConflict)
	}

	j.Status = to
	if t.progress != nil && *t.progress > j.Progress {
		j.Progress = *t.progress
	}
	if t.errMsg != "" {
		j.ErrorMessage = t.errMsg
	}
	if t.result != nil {
		r := *t.result
		j.Result = &r
	}
	j.UpdatedAt = time.Now()
	return cloneJob(j), nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.jobs {
		if j.ExpiresAt.Before(now) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func cloneJob(j *models.Job) *models.Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}
