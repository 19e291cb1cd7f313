package handlers

import (
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"kgraph/interfaces/http/rest/middleware"
	"kgraph/internal/domain"
	"kgraph/internal/ingest"
	"kgraph/internal/jobs"
	"kgraph/internal/kgerrors"
	"kgraph/pkg/api"
)

// maxMultipartMemory bounds the in-memory part of an upload; the rest
// spills to temp files.
const maxMultipartMemory = 32 << 20

// IngestHandler handles document submission endpoints. Every submission is
// asynchronous: the payload is normalized, stored and queued, and the
// response carries the job to poll.
type IngestHandler struct {
	intake *ingest.Intake
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(intake *ingest.Intake, queue *jobs.Queue, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{
		intake: intake,
		queue:  queue,
		logger: logger,
	}
}

// IngestText handles POST /ingest/text
func (h *IngestHandler) IngestText(w http.ResponseWriter, r *http.Request) {
	var req api.IngestTextRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkScope(r, req.Ontology); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sub, err := h.intake.Text(req.Content, req.Filename, req.Ontology)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	params := domain.JobParams{
		TargetWords:  req.TargetWords,
		OverlapWords: req.OverlapWords,
		ProcessMode:  domain.ProcessMode(req.ProcessMode),
		AutoApprove:  req.AutoApprove,
		Force:        req.ForceReingest,
	}
	h.submit(w, r, domain.JobTypeIngestText, sub, params)
}

// IngestFile handles POST /ingest/file
func (h *IngestHandler) IngestFile(w http.ResponseWriter, r *http.Request) {
	data, filename, _, params, ontology, err := h.readUpload(r, "file")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkScope(r, ontology); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sub, err := h.intake.File(filename, data, ontology)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	jobType := domain.JobTypeIngestText
	if sub.Document.ContentType == domain.ContentTypeImage {
		jobType = domain.JobTypeIngestImage
	}
	h.submit(w, r, jobType, sub, params)
}

// IngestImage handles POST /ingest/image
func (h *IngestHandler) IngestImage(w http.ResponseWriter, r *http.Request) {
	data, filename, mimeType, params, ontology, err := h.readUpload(r, "file")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkScope(r, ontology); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sub, err := h.intake.Image(filename, data, mimeType, ontology)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.submit(w, r, domain.JobTypeIngestImage, sub, params)
}

// IngestURL handles POST /ingest/url
func (h *IngestHandler) IngestURL(w http.ResponseWriter, r *http.Request) {
	var req api.IngestURLRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.checkScope(r, req.Ontology); err != nil {
		writeError(w, h.logger, err)
		return
	}

	sub, err := h.intake.URL(r.Context(), req.URL, req.Ontology)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	params := domain.JobParams{
		TargetWords:  req.TargetWords,
		OverlapWords: req.OverlapWords,
		ProcessMode:  domain.ProcessMode(req.ProcessMode),
		AutoApprove:  req.AutoApprove,
		Force:        req.ForceReingest,
	}
	h.submit(w, r, domain.JobTypeIngestURL, sub, params)
}

// checkScope refuses an ontology outside the caller's allowlist. Blank
// ontologies fall through so intake can answer with a validation error.
func (h *IngestHandler) checkScope(r *http.Request, ontology string) error {
	if ontology != "" && !middleware.OntologyAllowed(r.Context(), ontology) {
		return scopeRefusal(ontology)
	}
	return nil
}

// submit queues an accepted submission and answers 202. A forced re-ingest
// that supersedes an earlier job is flagged as a duplicate with the prior
// job's id.
func (h *IngestHandler) submit(w http.ResponseWriter, r *http.Request, jobType domain.JobType, sub *ingest.Submission, params domain.JobParams) {
	ctx := r.Context()

	var priorID string
	if params.Force {
		if prior, err := h.queue.Prior(ctx, sub.Document.ContentHash); err == nil {
			priorID = prior.ID
		}
	}

	job, err := h.queue.Submit(ctx, jobType, sub, params, middleware.PrincipalFrom(ctx))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	accepted := api.JobAccepted{
		JobID:        job.ID,
		Status:       string(job.Status),
		ContentHash:  job.ContentHash,
		ChunkCount:   job.Progress.ChunksTotal,
		CostEstimate: job.Cost.EstimatedUSD,
	}
	if priorID != "" && priorID != job.ID {
		accepted.Duplicate = true
		accepted.ExistingJobID = priorID
	}
	api.WriteData(w, http.StatusAccepted, accepted)
}

// readUpload parses a multipart upload: the named file part plus the shared
// ingestion form fields.
func (h *IngestHandler) readUpload(r *http.Request, field string) (data []byte, filename, mimeType string, params domain.JobParams, ontology string, err error) {
	if err = r.ParseMultipartForm(maxMultipartMemory); err != nil {
		err = kgerrors.Validation("invalid multipart form: %v", err)
		return
	}
	file, header, ferr := r.FormFile(field)
	if ferr != nil {
		err = kgerrors.Validation("missing %q file field", field)
		return
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		err = kgerrors.Validation("reading upload: %v", err)
		return
	}

	filename = r.FormValue("filename")
	if filename == "" {
		filename = header.Filename
	}
	mimeType = header.Header.Get("Content-Type")
	ontology = r.FormValue("ontology")

	params = domain.JobParams{
		Caption:      r.FormValue("caption"),
		TargetWords:  formInt(r, "target_words"),
		OverlapWords: formInt(r, "overlap_words"),
		ProcessMode:  domain.ProcessMode(r.FormValue("process_mode")),
		AutoApprove:  formBool(r, "auto_approve"),
		Force:        formBool(r, "force_reingest") || formBool(r, "force"),
	}
	return
}

func formInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.FormValue(key))
	return n
}

func formBool(r *http.Request, key string) bool {
	b, _ := strconv.ParseBool(r.FormValue(key))
	return b
}
