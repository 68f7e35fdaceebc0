package worker

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petavatar/petavatar/internal/generator"
	"github.com/petavatar/petavatar/internal/jobstore"
	"github.com/petavatar/petavatar/internal/models"
	"github.com/petavatar/petavatar/internal/queue"
	"github.com/petavatar/petavatar/internal/storage"
)

// minimal valid PNG header so content sniffing sees an image
var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, bytes.Repeat([]byte{0}, 64)...)

type fakeGenerator struct {
	calls  int
	errs   []error // consumed per call; nil entry means success
	result *generator.Result
}

func (f *fakeGenerator) Generate(ctx context.Context, image []byte, contentType, jobID string) (*generator.Result, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	if f.result != nil {
		return f.result, nil
	}
	return &generator.Result{
		Identity:  models.IdentityPackage{HumanName: "Margaret Whiskers", JobTitle: "Chief Financial Officer"},
		Analysis:  models.PetAnalysis{Species: "cat", Vibe: "CFO energy"},
		AvatarPNG: pngBytes,
	}, nil
}

type fixture struct {
	store   *jobstore.MemoryStore
	storage storage.Storage
	gen     *fakeGenerator
	worker  *Worker
}

func setup(t *testing.T) *fixture {
	t.Helper()
	st, err := storage.NewLocalStorage(t.TempDir(), "http://localhost:8080/files")
	require.NoError(t, err)

	f := &fixture{
		store:   jobstore.NewMemoryStore(),
		storage: st,
		gen:     &fakeGenerator{},
	}
	f.worker = New(f.store, f.storage, f.gen, Config{
		GeneratedBucket: "generated",
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
	})
	return f
}

func (f *fixture) seedJob(t *testing.T, jobID string, input []byte) queue.DispatchMessage {
	t.Helper()
	ctx := context.Background()
	key := "uploads/" + jobID + "/original"

	if input != nil {
		require.NoError(t, f.storage.Put(ctx, "uploads", key, bytes.NewReader(input), "image/png"))
	}

	now := time.Now()
	_, err := f.store.CreateIfAbsent(ctx, &models.Job{
		JobID:        jobID,
		Status:       models.StatusQueued,
		UploadBucket: "uploads",
		UploadKey:    key,
		CreatedAt:    now,
		UpdatedAt:    now,
		ExpiresAt:    now.Add(7 * 24 * time.Hour),
	})
	require.NoError(t, err)

	return queue.DispatchMessage{JobID: jobID, UploadBucket: "uploads", UploadKey: key, Timestamp: now}
}

func TestHandle_Success(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-ok", pngBytes)

	require.NoError(t, f.worker.Handle(ctx, msg))

	j, err := f.store.Get(ctx, "job-ok")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.Result)
	assert.Equal(t, "generated/job-ok/avatar.png", j.Result.AvatarKey)
	assert.Equal(t, "Margaret Whiskers", j.Result.Identity.HumanName)
	assert.Empty(t, j.ErrorMessage)

	// avatar artifact landed in storage
	_, err = f.storage.Stat(ctx, "generated", "generated/job-ok/avatar.png")
	assert.NoError(t, err)
}

func TestHandle_DuplicateDeliveryAfterCompletion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-dup", pngBytes)

	require.NoError(t, f.worker.Handle(ctx, msg))
	callsAfterFirst := f.gen.calls

	// redelivery of the same dispatch is acknowledged without reprocessing
	require.NoError(t, f.worker.Handle(ctx, msg))
	assert.Equal(t, callsAfterFirst, f.gen.calls)

	j, err := f.store.Get(ctx, "job-dup")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, j.Status)
}

func TestHandle_TransientGenerationFailureIsRetried(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-retry", pngBytes)

	f.gen.errs = []error{
		&openai.APIError{HTTPStatusCode: 429},
		&openai.APIError{HTTPStatusCode: 503},
		nil,
	}

	require.NoError(t, f.worker.Handle(ctx, msg))
	assert.Equal(t, 3, f.gen.calls)

	j, err := f.store.Get(ctx, "job-retry")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, j.Status)
}

func TestHandle_GenerationExhaustionFailsJob(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-exhaust", pngBytes)

	f.gen.errs = []error{
		&openai.APIError{HTTPStatusCode: 500},
		&openai.APIError{HTTPStatusCode: 500},
		&openai.APIError{HTTPStatusCode: 500},
	}

	err := f.worker.Handle(ctx, msg)
	assert.Error(t, err)
	assert.Equal(t, 3, f.gen.calls)

	j, getErr := f.store.Get(ctx, "job-exhaust")
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusFailed, j.Status)
	assert.Equal(t, "identity generation failed", j.ErrorMessage)
	assert.Nil(t, j.Result)
}

func TestHandle_StructuralGenerationErrorFailsWithoutRetry(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-structural", pngBytes)

	f.gen.errs = []error{errors.New("failed to parse model response")}

	err := f.worker.Handle(ctx, msg)
	assert.Error(t, err)
	assert.Equal(t, 1, f.gen.calls, "structural errors must not be retried")

	j, getErr := f.store.Get(ctx, "job-structural")
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusFailed, j.Status)
	// sanitized message, not the raw error
	assert.Equal(t, "identity generation failed", j.ErrorMessage)
}

func TestHandle_MissingInputIsTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-noinput", nil)

	// fetch failure acks the message and fails the job
	require.NoError(t, f.worker.Handle(ctx, msg))

	j, err := f.store.Get(ctx, "job-noinput")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, j.Status)
	assert.Equal(t, "input image could not be read", j.ErrorMessage)
	assert.Equal(t, 0, f.gen.calls)
}

func TestHandle_NonImageInputIsTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-notimage", []byte("just some text, definitely not a picture"))

	require.NoError(t, f.worker.Handle(ctx, msg))

	j, err := f.store.Get(ctx, "job-notimage")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, j.Status)
	assert.Equal(t, "input object is not an image", j.ErrorMessage)
	assert.Equal(t, 0, f.gen.calls)
}

// flakyStore fails the Transition calls listed in failOn, once each, with a
// transport-style error. Everything else passes through.
type flakyStore struct {
	jobstore.Store
	calls  int
	failOn map[int]bool
}

func (s *flakyStore) Transition(ctx context.Context, jobID string, expected []models.JobStatus, to models.JobStatus, opts ...jobstore.TransitionOpt) (*models.Job, error) {
	s.calls++
	if s.failOn[s.calls] {
		delete(s.failOn, s.calls)
		return nil, errors.New("store unavailable: connection reset")
	}
	return s.Store.Transition(ctx, jobID, expected, to, opts...)
}

func TestHandle_CheckpointStoreErrorIsRedelivered(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	msg := f.seedJob(t, "job-blip", pngBytes)

	// fail the progress-20 checkpoint once; call 1 is the claim transition
	flaky := &flakyStore{Store: f.store, failOn: map[int]bool{2: true}}
	f.worker = New(flaky, f.storage, f.gen, Config{
		GeneratedBucket: "generated",
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
	})

	err := f.worker.Handle(ctx, msg)
	require.Error(t, err, "a store error mid-flight must leave the dispatch unacknowledged")
	assert.Equal(t, 0, f.gen.calls)

	// the job is mid-flight, not terminal and not abandoned
	j, getErr := f.store.Get(ctx, "job-blip")
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusProcessing, j.Status)
	assert.Empty(t, j.ErrorMessage)

	// redelivery re-enters through the {queued, processing} guard and finishes
	require.NoError(t, f.worker.Handle(ctx, msg))

	j, getErr = f.store.Get(ctx, "job-blip")
	require.NoError(t, getErr)
	assert.Equal(t, models.StatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	require.NotNil(t, j.Result)
}

func TestHandle_UnknownJobIsAcked(t *testing.T) {
	f := setup(t)
	msg := queue.DispatchMessage{JobID: "never-created", UploadBucket: "uploads", UploadKey: "uploads/never-created/original"}

	require.NoError(t, f.worker.Handle(context.Background(), msg))
	assert.Equal(t, 0, f.gen.calls)
}
