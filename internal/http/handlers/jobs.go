package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Cavedragon13/ai-image-organizer/internal/domain"
	"github.com/Cavedragon13/ai-image-organizer/internal/queue"
	"github.com/Cavedragon13/ai-image-organizer/internal/service"
)

type startJobRequest struct {
	InputFolder  string                    `json:"input_folder"`
	OutputFolder string                    `json:"output_folder"`
	Settings     service.SettingsOverrides `json:"settings"`
}

type jobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type jobResponse struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	Phase          string          `json:"phase"`
	InputFolder    string          `json:"input_folder"`
	OutputFolder   string          `json:"output_folder"`
	Settings       domain.Settings `json:"settings"`
	Progress       float64         `json:"progress"`
	TotalItems     int             `json:"total_items"`
	ProcessedItems int             `json:"processed_items"`
	CurrentItem    string          `json:"current_item,omitempty"`
	Error          *jobError       `json:"error,omitempty"`
	Result         *domain.Result  `json:"result,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	FinishedAt     *time.Time      `json:"finished_at,omitempty"`
}

func newJobResponse(job domain.Job) jobResponse {
	response := jobResponse{
		ID:             job.ID,
		Status:         string(job.Status),
		Phase:          string(job.Phase),
		InputFolder:    job.InputRoot,
		OutputFolder:   job.OutputRoot,
		Settings:       job.Settings,
		Progress:       job.Progress,
		TotalItems:     job.TotalItems,
		ProcessedItems: job.ProcessedItems,
		CurrentItem:    job.CurrentItem,
		Result:         job.Result,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		FinishedAt:     job.FinishedAt,
	}
	if strings.TrimSpace(job.ErrorMessage) != "" {
		response.Error = &jobError{Code: "processing_error", Message: job.ErrorMessage}
	}
	return response
}

func acceptedBody(jobID string, status domain.JobStatus, acceptedAt time.Time) map[string]any {
	return map[string]any{
		"job_id":      jobID,
		"status":      status,
		"status_url":  "/v1/jobs/" + jobID,
		"accepted_at": acceptedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (api *API) StartJob(w http.ResponseWriter, r *http.Request) {
	var request startJobRequest
	if err := decodeJSON(r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "invalid JSON payload")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	payloadHash := hashPayload(request)
	if idempotencyKey != "" {
		entry, reserved := api.idempotency.Reserve(idempotencyKey, payloadHash)
		if !reserved {
			api.replayIdempotent(w, r, entry, payloadHash)
			return
		}
	}
	submitted := false
	defer func() {
		if idempotencyKey != "" && !submitted {
			api.idempotency.Release(idempotencyKey)
		}
	}()

	job, err := api.jobs.Submit(r.Context(), service.SubmitRequest{
		InputFolder:  request.InputFolder,
		OutputFolder: request.OutputFolder,
		Settings:     request.Settings,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, r, http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), service.ErrInvalidRequest.Error()+": "))
		return
	case errors.Is(err, queue.ErrQueueBackpressure):
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, "queue_full", "job queue is full, retry later")
		return
	default:
		api.logger.Error("submit job failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to start job")
		return
	}

	submitted = true
	if idempotencyKey != "" {
		api.idempotency.Complete(idempotencyKey, job.ID)
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	w.Header().Set("Retry-After", "2")
	writeJSON(w, http.StatusAccepted, acceptedBody(job.ID, job.Status, job.CreatedAt))
}

func (api *API) replayIdempotent(w http.ResponseWriter, r *http.Request, entry idempotencyEntry, payloadHash uint64) {
	switch {
	case entry.PayloadHash != payloadHash:
		writeError(w, r, http.StatusConflict, "idempotency_conflict", "Idempotency-Key already used with different payload")
	case entry.JobID == "":
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusConflict, "idempotency_in_progress", "a request with this Idempotency-Key is still being processed")
	default:
		status := domain.JobStatusQueued
		if job, err := api.jobs.GetJob(r.Context(), entry.JobID); err == nil {
			status = job.Status
		}
		w.Header().Set("Retry-After", "2")
		writeJSON(w, http.StatusAccepted, acceptedBody(entry.JobID, status, entry.CreatedAt))
	}
}

func (api *API) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := api.jobs.ListJobs(r.Context())
	items := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, newJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (api *API) JobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := api.jobs.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobResponse(job))
}

func (api *API) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := api.jobs.CancelJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		api.writeJobError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newJobResponse(job))
}

func (api *API) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := api.jobs.DeleteJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		api.writeJobError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *API) writeJobError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrNotCancellable):
		writeError(w, r, http.StatusConflict, "job_finished", "job already finished")
	case errors.Is(err, domain.ErrJobActive):
		writeError(w, r, http.StatusConflict, "job_active", "job is still queued or running")
	default:
		api.logger.Error("job request failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to load job")
	}
}
