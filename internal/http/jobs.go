package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/datapost/internal/store"
)

const maxRequestBodySize = 1 << 20 // 1MB for JSON bodies

// JobStore is the store surface the API needs.
type JobStore interface {
	Put(job store.Job) error
	Replace(name string, job store.Job) error
	Get(name string) (store.Job, error)
	List() []store.Job
	Remove(name string) error
}

// Registrar is the scheduler surface the API needs: timer maintenance plus
// the per-job run gate shared with scheduled fires.
type Registrar interface {
	Register(job store.Job) error
	Unregister(name string)
	TryAcquire(name string) bool
	Release(name string)
}

// Previewer executes a one-shot run and returns the result as CSV.
type Previewer interface {
	Preview(ctx context.Context, job store.Job) ([]byte, error)
}

// JobsHandler serves the management API.
type JobsHandler struct {
	store     JobStore
	scheduler Registrar
	previewer Previewer
	uploadDir string
}

// NewJobsHandler creates the management API handler.
func NewJobsHandler(st JobStore, sched Registrar, prev Previewer, uploadDir string) *JobsHandler {
	return &JobsHandler{store: st, scheduler: sched, previewer: prev, uploadDir: uploadDir}
}

// RegisterRoutes registers all management routes on the given mux.
func (h *JobsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /api/jobs", h.handleList)
	mux.HandleFunc("POST /api/jobs/create", h.handleCreate)
	mux.HandleFunc("POST /api/jobs/upload-file", h.handleUpload)
	mux.HandleFunc("GET /api/jobs/{name}", h.handleGet)
	mux.HandleFunc("PUT /api/jobs/{name}", h.handleUpdate)
	mux.HandleFunc("DELETE /api/jobs/{name}", h.handleDelete)
	mux.HandleFunc("POST /api/jobs/{name}/test", h.handleTest)
}

func (h *JobsHandler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "Scheduled Jobs Service",
		"status":  "running",
		"version": "1.0.0",
	})
}

func (h *JobsHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *JobsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	jobs := h.store.List()
	if jobs == nil {
		jobs = []store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *JobsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, err := h.store.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCreate validates the request, writes through the store, then arms
// the scheduler. A failed registration rolls the store write back so the
// two never disagree.
func (h *JobsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeJobRequest(w, r)
	if !ok {
		return
	}

	job := req.job()
	job.CreatedAt = time.Now().UTC()

	if err := h.store.Put(job); err != nil {
		if errors.Is(err, store.ErrNameInUse) {
			writeError(w, http.StatusBadRequest, "job with name '"+job.Name+"' already exists")
			return
		}
		slog.Error("failed to store job", "job", job.Name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	if err := h.scheduler.Register(job); err != nil {
		slog.Error("failed to schedule job, rolling back", "job", job.Name, "error", err)
		if rmErr := h.store.Remove(job.Name); rmErr != nil {
			slog.Error("rollback failed", "job", job.Name, "error", rmErr)
		}
		writeError(w, http.StatusInternalServerError, "failed to schedule job")
		return
	}

	slog.Info("job created", "job", job.Name, "schedule", job.Schedule)
	writeJSON(w, http.StatusCreated, job)
}

// handleUpdate replaces an existing job: unregister, replace in the store
// (created_at and last_run are preserved), re-register. An in-flight run
// keeps its old snapshot.
func (h *JobsHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := h.store.Get(name); err != nil {
		writeError(w, http.StatusNotFound, "job not found: "+name)
		return
	}

	req, ok := h.decodeJobRequest(w, r)
	if !ok {
		return
	}

	h.scheduler.Unregister(name)

	job := req.job()
	if err := h.store.Replace(name, job); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found: "+name)
			return
		}
		slog.Error("failed to replace job", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}

	updated, err := h.store.Get(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update job")
		return
	}
	if err := h.scheduler.Register(updated); err != nil {
		slog.Error("failed to reschedule job", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reschedule job")
		return
	}

	slog.Info("job updated", "job", name, "schedule", updated.Schedule)
	writeJSON(w, http.StatusOK, updated)
}

func (h *JobsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	// Scheduler first: a crash between the two leaves only a harmless
	// store orphan that the next boot scan re-registers.
	h.scheduler.Unregister(name)

	if err := h.store.Remove(name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found: "+name)
			return
		}
		slog.Error("failed to remove job", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	slog.Info("job deleted", "job", name)
	w.WriteHeader(http.StatusNoContent)
}

// handleTest runs the job once, synchronously, and returns the CSV. It
// shares the scheduler's run gate so a test cannot overlap a scheduled
// fire of the same job.
func (h *JobsHandler) handleTest(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	job, err := h.store.Get(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found: "+name)
		return
	}

	if !h.scheduler.TryAcquire(name) {
		writeError(w, http.StatusConflict, "a run of this job is already in progress")
		return
	}
	defer h.scheduler.Release(name)

	csvData, err := h.previewer.Preview(r.Context(), job)
	if err != nil {
		slog.Error("test run failed", "job", name, "error", err)
		writeError(w, http.StatusInternalServerError, "test run failed: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.WriteHeader(http.StatusOK)
	w.Write(csvData)
}

func (h *JobsHandler) decodeJobRequest(w http.ResponseWriter, r *http.Request) (*jobCreateRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req jobCreateRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return nil, false
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &req, true
}
