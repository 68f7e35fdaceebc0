package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/petavatar/petavatar/internal/common"
	"github.com/petavatar/petavatar/internal/config"
	"github.com/petavatar/petavatar/internal/ingest"
	"github.com/petavatar/petavatar/internal/jobstore"
	"github.com/petavatar/petavatar/internal/models"
	"github.com/petavatar/petavatar/internal/secrets"
	"github.com/petavatar/petavatar/internal/storage"
)

type Handlers struct {
	Ingest   *ingest.Service
	Store    jobstore.Store
	Storage  storage.Storage
	Secrets  secrets.Provider
	Config   config.Config
	validate *validator.Validate
}

func (h *Handlers) Routers(r chi.Router) {
	if h.validate == nil {
		h.validate = validator.New()
	}

	r.Get("/health", h.health)
	r.Get("/ready", h.ready)

	// static file serving for local storage
	if h.Config.StorageMode == "local" || h.Config.StorageMode == "filesystem" {
		r.Get("/files/*", h.serveFiles)
	}

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(h.Secrets, h.Config.APIKeyHash))

		r.Post("/v1/uploads", h.createUpload)
		r.Post("/v1/process", h.process)
		r.Post("/v1/events/storage", h.storageEvents)
		r.Get("/v1/jobs/{job_id}", h.getJob)
		r.Get("/v1/jobs/{job_id}/result", h.getResult)
	})
}

func (h *Handlers) createUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContentType string `json:"content_type"`
	}
	// body is optional; content type defaults to image/jpeg
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	ticket, err := h.Ingest.CreateUpload(r.Context(), req.ContentType)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handlers) process(w http.ResponseWriter, r *http.Request) {
	var req struct {
		S3URI string `json:"s3_uri" validate:"required"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "s3_uri is required")
		return
	}

	jobID, err := h.Ingest.StartFromClientRequest(r.Context(), req.S3URI)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": jobID,
		"status": models.StatusQueued,
	})
}

// storageEventsRequest mirrors the S3 notification batch shape.
type storageEventsRequest struct {
	Records []struct {
		S3 struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

func (h *Handlers) storageEvents(w http.ResponseWriter, r *http.Request) {
	var req storageEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errTypeValidation, "invalid request body")
		return
	}

	events := make([]ingest.StorageEvent, 0, len(req.Records))
	for _, rec := range req.Records {
		// object keys arrive URL-encoded in storage notifications
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		events = append(events, ingest.StorageEvent{
			Bucket: rec.S3.Bucket.Name,
			Key:    key,
		})
	}

	sum := h.Ingest.StartFromStorageEvents(r.Context(), events)
	writeJSON(w, http.StatusOK, sum)
}

func (h *Handlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "missing job_id parameter")
		return
	}

	job, err := h.Store.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"job_id":   job.JobID,
		"status":   job.Status,
		"progress": job.Progress,
	}
	if job.Status == models.StatusFailed && job.ErrorMessage != "" {
		resp["error"] = job.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) getResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "missing job_id parameter")
		return
	}

	job, err := h.Store.Get(r.Context(), jobID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if job.Status != models.StatusCompleted {
		progress := job.Progress
		writeJSON(w, http.StatusConflict, errorBody{
			Error:     "job not completed, current status: " + string(job.Status),
			ErrorType: errTypeConflict,
			Timestamp: nowRFC3339(),
			Status:    string(job.Status),
			Progress:  &progress,
		})
		return
	}

	if job.Result == nil || job.Result.AvatarKey == "" {
		slog.Error("completed job has no avatar artifact", "job_id", jobID)
		writeError(w, http.StatusInternalServerError, errTypeInternal, "avatar image not found")
		return
	}

	avatarURL, err := h.Storage.PresignGet(r.Context(), h.Config.S3GeneratedBucket, job.Result.AvatarKey, h.Config.ResultURLTTL)
	if err != nil {
		slog.Error("failed to presign avatar URL", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, errTypeInternal, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":       job.JobID,
		"avatar_url":   avatarURL,
		"identity":     job.Result.Identity,
		"pet_analysis": job.Result.Analysis,
	})
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ready(w http.ResponseWriter, r *http.Request) {
	// readiness is store reachability; a missing probe record is healthy
	if _, err := h.Store.Get(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, common.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, errTypeInternal, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handlers) serveFiles(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/files/")
	bucket, key, found := strings.Cut(path, "/")
	if !found || key == "" {
		writeError(w, http.StatusBadRequest, errTypeValidation, "invalid file path")
		return
	}

	rc, contentType, err := h.Storage.Get(r.Context(), bucket, key)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentType)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Error("failed to stream file", "key", key, "error", err)
	}
}
