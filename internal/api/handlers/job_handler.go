package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/olumide-dev/brainpipe/internal/core"
	"github.com/olumide-dev/brainpipe/internal/pipeline"
)

// JobHandler exposes the pipeline's external operations: start analysis for a
// subject, poll a job's status/progress, redrive a job through the processing
// entry point, and retry a failed job.
type JobHandler struct {
	store       core.JobStore
	coordinator *pipeline.Coordinator
	processor   *pipeline.Processor
}

func NewJobHandler(store core.JobStore, coordinator *pipeline.Coordinator, processor *pipeline.Processor) *JobHandler {
	return &JobHandler{store: store, coordinator: coordinator, processor: processor}
}

// StartAnalysis kicks off document analysis for every document the subject has.
func (h *JobHandler) StartAnalysis(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	if subjectID == "" {
		http.Error(w, "subjectID is required", http.StatusBadRequest)
		return
	}

	job, err := h.coordinator.StartAnalysis(r.Context(), subjectID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

// GetJob returns the job row; status and progress_percent are the pipeline's
// externally polled signals.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.store.GetJobByID(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, job)
}

// ProcessJob is the shared processing entry point. Safe to call repeatedly
// for the same job.
func (h *JobHandler) ProcessJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	var body struct {
		Redrive bool `json:"redrive"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := h.processor.ProcessJob(r.Context(), jobID, body.Redrive); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "dispatched"})
}

// RetryJob resets a failed job to pending and redrives it. Jobs in any other
// status are rejected.
func (h *JobHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := h.store.ResetForRetry(r.Context(), jobID); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err := h.processor.ProcessJob(r.Context(), jobID, true); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
