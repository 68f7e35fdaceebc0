package ingest

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petavatar/petavatar/internal/common"
	"github.com/petavatar/petavatar/internal/jobstore"
	"github.com/petavatar/petavatar/internal/models"
	"github.com/petavatar/petavatar/internal/queue"
	"github.com/petavatar/petavatar/internal/storage"
)

// capturingQueue records enqueued dispatches without delivering them.
type capturingQueue struct {
	mu   sync.Mutex
	msgs []queue.DispatchMessage
}

func (q *capturingQueue) Enqueue(ctx context.Context, msg queue.DispatchMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *capturingQueue) StartConsumers(ctx context.Context, n int, handler queue.Handler) {}

func (q *capturingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

func (q *capturingQueue) Close() error { return nil }

type fixture struct {
	store   *jobstore.MemoryStore
	queue   *capturingQueue
	storage storage.Storage
	svc     *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)

	f := &fixture{
		store:   jobstore.NewMemoryStore(),
		queue:   &capturingQueue{},
		storage: st,
	}
	f.svc = NewService(f.store, f.queue, f.storage, Config{
		UploadBucket:  "uploads",
		MaxUploadSize: 50 * 1024 * 1024,
		Retention:     7 * 24 * time.Hour,
		UploadURLTTL:  15 * time.Minute,
	})
	return f
}

func (f *fixture) putObject(t *testing.T, key string, data []byte) {
	t.Helper()
	require.NoError(t, f.storage.Put(context.Background(), "uploads", key, bytes.NewReader(data), "image/png"))
}

func TestStartFromClientRequest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.putObject(t, "uploads/job-a/original.png", []byte("image data"))

	jobID, err := f.svc.StartFromClientRequest(ctx, "s3://uploads/uploads/job-a/original.png")
	require.NoError(t, err)
	assert.Equal(t, "job-a", jobID)

	j, err := f.store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, j.Status)
	assert.Equal(t, "uploads/job-a/original.png", j.UploadKey)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), j.ExpiresAt, time.Minute)

	require.Equal(t, 1, f.queue.Len())
	assert.Equal(t, "job-a", f.queue.msgs[0].JobID)
}

func TestStartFromClientRequest_MintsIDOutsideConvention(t *testing.T) {
	f := setup(t)
	f.putObject(t, "incoming/photo.png", []byte("image data"))

	jobID, err := f.svc.StartFromClientRequest(context.Background(), "s3://uploads/incoming/photo.png")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	_, err = f.store.Get(context.Background(), jobID)
	assert.NoError(t, err)
}

func TestStartFromClientRequest_ValidationFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cases := []struct {
		name string
		uri  string
		prep func()
	}{
		{"malformed uri", "not-a-uri", nil},
		{"missing object", "s3://uploads/uploads/ghost/original.png", nil},
		{"disallowed content type", "s3://uploads/uploads/job-gif/original.gif", func() {
			f.putObject(t, "uploads/job-gif/original.gif", []byte("gif data"))
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.prep != nil {
				tc.prep()
			}
			_, err := f.svc.StartFromClientRequest(ctx, tc.uri)
			assert.ErrorIs(t, err, common.ErrValidation)
		})
	}

	// no record created, nothing dispatched
	assert.Equal(t, 0, f.queue.Len())
	_, err := f.store.Get(ctx, "job-gif")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestBothTriggersConvergeOnOneRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.putObject(t, "uploads/job-race/original.png", []byte("image data"))

	// client request and storage event arrive for the same upload
	jobID, err := f.svc.StartFromClientRequest(ctx, "s3://uploads/uploads/job-race/original.png")
	require.NoError(t, err)

	sum := f.svc.StartFromStorageEvents(ctx, []StorageEvent{
		{Bucket: "uploads", Key: "uploads/job-race/original.png"},
	})
	assert.Equal(t, Summary{Processed: 1}, sum)

	// one record, created once; the second trigger refreshed, not replaced
	j, err := f.store.Get(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, j.Status)

	// over-dispatch is allowed: both triggers enqueued
	assert.Equal(t, 2, f.queue.Len())
	for _, msg := range f.queue.msgs {
		assert.Equal(t, "job-race", msg.JobID)
	}
}

func TestSecondTriggerDoesNotResetProgress(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.putObject(t, "uploads/job-late/original.png", []byte("image data"))

	_, err := f.svc.StartFromClientRequest(ctx, "s3://uploads/uploads/job-late/original.png")
	require.NoError(t, err)

	// a worker has already begun
	_, err = f.store.Transition(ctx, "job-late",
		[]models.JobStatus{models.StatusQueued}, models.StatusProcessing, jobstore.WithProgress(30))
	require.NoError(t, err)

	// the late storage event must not touch status or progress
	sum := f.svc.StartFromStorageEvents(ctx, []StorageEvent{
		{Bucket: "uploads", Key: "uploads/job-late/original.png"},
	})
	assert.Equal(t, Summary{Processed: 1}, sum)

	j, err := f.store.Get(ctx, "job-late")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, j.Status)
	assert.Equal(t, 30, j.Progress)
}

func TestStartFromStorageEvents_SkipsForeignKeys(t *testing.T) {
	f := setup(t)

	sum := f.svc.StartFromStorageEvents(context.Background(), []StorageEvent{
		{Bucket: "uploads", Key: "generated/job-x/avatar.png"},
		{Bucket: "uploads", Key: "random/object.txt"},
		{Bucket: "uploads", Key: "uploads/"},
		{Bucket: "uploads", Key: "uploads/job-ok/original.png"},
	})

	assert.Equal(t, Summary{Processed: 1, Skipped: 3}, sum)
	assert.Equal(t, 1, f.queue.Len())
}

func TestCreateUpload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	ticket, err := f.svc.CreateUpload(ctx, "image/png")
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.JobID)
	assert.Equal(t, "uploads/"+ticket.JobID+"/original", ticket.Key)
	assert.NotEmpty(t, ticket.UploadURL)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), ticket.ExpiresAt, time.Minute)

	// no job record until an ingestion trigger fires
	_, err = f.store.Get(ctx, ticket.JobID)
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = f.svc.CreateUpload(ctx, "application/zip")
	assert.ErrorIs(t, err, common.ErrValidation)
}
