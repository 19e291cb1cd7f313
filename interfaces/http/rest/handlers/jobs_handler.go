package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kgraph/interfaces/http/rest/middleware"
	"kgraph/internal/domain"
	"kgraph/internal/jobs"
	"kgraph/internal/kgerrors"
	"kgraph/internal/store"
	"kgraph/pkg/api"
)

// JobsHandler handles job lifecycle endpoints.
type JobsHandler struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewJobsHandler creates a new jobs handler
func NewJobsHandler(queue *jobs.Queue, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{
		queue:  queue,
		logger: logger,
	}
}

// ListJobs handles GET /jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Ontology: r.URL.Query().Get("ontology"),
		Type:     domain.JobType(r.URL.Query().Get("type")),
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Statuses = append(filter.Statuses, domain.JobStatus(s))
			}
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, h.logger, kgerrors.Validation("limit must be a positive integer"))
			return
		}
		filter.Limit = n
	}

	list, err := h.queue.List(r.Context(), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]api.JobView, 0, len(list))
	for _, job := range list {
		if !middleware.OntologyAllowed(r.Context(), job.Ontology) {
			continue
		}
		views = append(views, jobView(job))
	}
	api.WriteData(w, http.StatusOK, views)
}

// GetJob handles GET /jobs/{jobID}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.fetch(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, jobView(job))
}

// ApproveJob handles POST /jobs/{jobID}/approve
func (h *JobsHandler) ApproveJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.fetch(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// The note body is optional; an empty one is fine.
	var req api.ApproveJobRequest
	if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil && !errors.Is(derr, io.EOF) {
		writeError(w, h.logger, kgerrors.Validation("invalid request body: %v", derr))
		return
	}

	approver := middleware.PrincipalFrom(r.Context())
	approved, err := h.queue.Approve(r.Context(), job.ID, approver)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if req.Note != "" {
		h.logger.Info("job approved with note",
			zap.String("job_id", approved.ID),
			zap.String("approver", approver),
			zap.String("note", req.Note))
	}
	api.WriteData(w, http.StatusOK, jobView(approved))
}

// CancelJob handles POST /jobs/{jobID}/cancel
func (h *JobsHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.fetch(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	cancelled, err := h.queue.Cancel(r.Context(), job.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	api.WriteData(w, http.StatusOK, jobView(cancelled))
}

// DeleteJob handles DELETE /jobs/{jobID}
func (h *JobsHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.fetch(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.queue.Delete(r.Context(), job.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fetch loads the path job and enforces the caller's ontology scopes.
func (h *JobsHandler) fetch(r *http.Request) (*domain.Job, error) {
	id := chi.URLParam(r, "jobID")
	if id == "" {
		return nil, kgerrors.Validation("job id is required")
	}
	job, err := h.queue.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if !middleware.OntologyAllowed(r.Context(), job.Ontology) {
		return nil, scopeRefusal(job.Ontology)
	}
	return job, nil
}

// jobView maps a job onto its wire representation.
func jobView(j *domain.Job) api.JobView {
	v := api.JobView{
		JobID:       j.ID,
		Type:        string(j.Type),
		Status:      string(j.Status),
		Principal:   j.Principal,
		Ontology:    j.Ontology,
		ContentHash: j.ContentHash,
		Filename:    j.Params.Filename,
		SourceURL:   j.Params.SourceURL,
		Progress: api.ProgressView{
			Stage:            j.Progress.Stage,
			ChunksTotal:      j.Progress.ChunksTotal,
			ChunksDone:       j.Progress.ChunksDone,
			Percent:          j.Progress.Percent,
			ConceptsCreated:  j.Progress.ConceptsCreated,
			ConceptsReused:   j.Progress.ConceptsReused,
			InstancesCreated: j.Progress.InstancesCreated,
			EdgesCreated:     j.Progress.EdgesCreated,
			NewTypesCreated:  j.Progress.NewTypesCreated,
			TokensIn:         int64(j.Progress.TokensIn),
			TokensOut:        int64(j.Progress.TokensOut),
		},
		Cost: api.CostView{
			EstimatedUSD: j.Cost.EstimatedUSD,
			ActualUSD:    j.Cost.ActualUSD,
		},
		Error:       j.Error,
		Protected:   j.Protected,
		SubmittedAt: j.SubmittedAt,
		ApprovedAt:  j.ApprovedAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		ExpiresAt:   j.ExpiresAt,
	}
	for _, ce := range j.ChunkErrors {
		v.ChunkErrors = append(v.ChunkErrors, api.ChunkError{
			ChunkIndex: ce.ChunkIndex,
			Message:    ce.Message,
			At:         ce.At,
		})
	}
	return v
}
