// Package jobs runs the approval-gated ingestion pipeline. Submissions
// become persistent job records, the scheduler drains approved jobs into a
// bounded worker pool, and the worker walks each chunk through extraction,
// concept matching and edge building.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kgraph/internal/chunker"
	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/ingest"
	"kgraph/internal/kgerrors"
	"kgraph/internal/observability"
	"kgraph/internal/store"
)

// Token estimates used for pre-flight cost. The prompt overhead covers the
// system prompt and vocabulary list sent with every chunk.
const (
	promptOverheadTokens = 700
	outputTokensPerChunk = 800
	imageTokensEstimate  = 1500
)

// Queue owns job records and their transitions. It also tracks in-flight
// jobs so a cancel request can interrupt the worker context.
type Queue struct {
	graph     store.Graph
	objects   *ingest.ObjectStore
	publisher events.Publisher
	pricing   config.Pricing
	config    config.Jobs
	logger    *zap.Logger
	metrics   *observability.Collector

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	kick    chan struct{}
}

func NewQueue(graph store.Graph, objects *ingest.ObjectStore, publisher events.Publisher, pricing config.Pricing, cfg config.Jobs, logger *zap.Logger, metrics *observability.Collector) *Queue {
	if cfg.ApprovalTTL <= 0 {
		cfg.ApprovalTTL = 24 * time.Hour
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Queue{
		graph:     graph,
		objects:   objects,
		publisher: publisher,
		pricing:   pricing,
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		cancels:   make(map[string]context.CancelFunc),
		kick:      make(chan struct{}, 1),
	}
}

func newJobID() string {
	return "j_" + uuid.NewString()
}

// Submit records a new job for an intake submission. Content already queued
// under a live job, or already ingested as a document, is refused unless the
// submission carries force.
func (q *Queue) Submit(ctx context.Context, jobType domain.JobType, sub *ingest.Submission, params domain.JobParams, principal string) (*domain.Job, error) {
	doc := sub.Document
	params.Ontology = doc.Ontology
	params.Filename = doc.Filename
	if doc.SourceURL != "" {
		params.SourceURL = doc.SourceURL
	}

	prior, err := q.graph.FindJobByContentHash(ctx, doc.ContentHash)
	if err != nil && kgerrors.KindOf(err) != kgerrors.KindNotFound {
		return nil, err
	}
	if prior != nil && !prior.Status.Terminal() {
		return nil, kgerrors.Conflict("content already queued as job %s (%s)", prior.ID, prior.Status).
			WithDetail("existing_job_id", prior.ID)
	}

	existing, err := q.graph.FindDocumentByHash(ctx, doc.ContentHash)
	if err != nil && kgerrors.KindOf(err) != kgerrors.KindNotFound {
		return nil, err
	}
	if existing != nil && !params.Force {
		return nil, kgerrors.Conflict("content already ingested as document %s; set force to re-ingest", existing.ID).
			WithDetail("existing_document_id", existing.ID)
	}

	chunksTotal, estimate, err := q.estimate(jobType, sub, params)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &domain.Job{
		ID:          newJobID(),
		Type:        jobType,
		Status:      domain.JobSubmitted,
		Principal:   principal,
		Ontology:    doc.Ontology,
		ContentHash: doc.ContentHash,
		ObjectKey:   doc.ObjectKey,
		MimeType:    doc.MimeType,
		SizeBytes:   doc.SizeBytes,
		Params:      params,
		Cost:        domain.JobCost{EstimatedUSD: estimate},
		Progress:    domain.JobProgress{Stage: "queued", ChunksTotal: chunksTotal},
		SubmittedAt: now,
	}

	if params.AutoApprove {
		job.Transition(domain.JobApproved, now)
	} else {
		job.Transition(domain.JobAwaitingApproval, now)
		deadline := now.Add(q.config.ApprovalTTL)
		job.ExpiresAt = &deadline
	}

	if err := q.graph.PutJob(store.WithWriteIntent(ctx), job); err != nil {
		return nil, err
	}
	if q.metrics != nil {
		q.metrics.JobsSubmitted.WithLabelValues(string(jobType)).Inc()
	}

	q.publish(ctx, events.Event{
		Type:      events.TypeJobSubmitted,
		Aggregate: job.ID,
		Ontology:  job.Ontology,
		Detail: map[string]any{
			"job_type":      string(jobType),
			"chunks_total":  chunksTotal,
			"estimated_usd": estimate,
			"auto_approve":  params.AutoApprove,
		},
	})
	if job.Status == domain.JobApproved {
		q.publish(ctx, events.Event{Type: events.TypeJobApproved, Aggregate: job.ID, Ontology: job.Ontology})
		q.wake()
	}

	q.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("type", string(jobType)),
		zap.String("ontology", job.Ontology),
		zap.String("status", string(job.Status)),
		zap.Int("chunks", chunksTotal),
		zap.Float64("estimated_usd", estimate))
	return job, nil
}

// estimate sizes the job before it runs. Text payloads are chunked with the
// submitted parameters so the count matches what the worker will produce.
func (q *Queue) estimate(jobType domain.JobType, sub *ingest.Submission, params domain.JobParams) (chunks int, usd float64, err error) {
	if jobType == domain.JobTypeIngestImage {
		return 1, q.pricing.EmbedPerMTok * imageTokensEstimate / 1e6, nil
	}

	c, err := chunker.New(chunker.Config{TargetWords: params.TargetWords, OverlapWords: params.OverlapWords})
	if err != nil {
		return 0, 0, err
	}
	parts := c.Split(sub.Text)
	contentTokens := 0
	for _, p := range parts {
		contentTokens += chunker.EstimateTokens(p.Text)
	}

	in := contentTokens + len(parts)*promptOverheadTokens
	out := len(parts) * outputTokensPerChunk
	usd = float64(in)/1e6*q.pricing.InputPerMTok +
		float64(out)/1e6*q.pricing.OutputPerMTok +
		float64(contentTokens)/1e6*q.pricing.EmbedPerMTok
	return len(parts), usd, nil
}

// Approve moves an awaiting job into the runnable state. Approving past the
// deadline expires the job instead.
func (q *Queue) Approve(ctx context.Context, id, approver string) (*domain.Job, error) {
	job, err := q.graph.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	if job.Status == domain.JobAwaitingApproval && job.ExpiresAt != nil && now.After(*job.ExpiresAt) {
		if err := q.expire(ctx, job); err != nil {
			return nil, err
		}
		return nil, kgerrors.Conflict("approval window for job %s has expired", id)
	}
	if !job.Transition(domain.JobApproved, now) {
		return nil, kgerrors.Conflict("job %s is %s and cannot be approved", id, job.Status)
	}
	job.ApprovedBy = approver

	if err := q.graph.PutJob(store.WithWriteIntent(ctx), job); err != nil {
		return nil, err
	}
	q.publish(ctx, events.Event{
		Type:      events.TypeJobApproved,
		Aggregate: job.ID,
		Ontology:  job.Ontology,
		Detail:    map[string]any{"approved_by": approver},
	})
	q.wake()
	q.logger.Info("job approved", zap.String("job_id", id), zap.String("approved_by", approver))
	return job, nil
}

// Cancel terminates a job. Running jobs are interrupted; the worker observes
// the cancelled status at its next checkpoint and stops without overwriting
// the terminal state.
func (q *Queue) Cancel(ctx context.Context, id string) (*domain.Job, error) {
	job, err := q.graph.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	wasRunning := job.Status == domain.JobRunning
	if !job.Transition(domain.JobCancelled, time.Now().UTC()) {
		return nil, kgerrors.Conflict("job %s is %s and cannot be cancelled", id, job.Status)
	}

	if err := q.graph.PutJob(store.WithWriteIntent(ctx), job); err != nil {
		return nil, err
	}
	q.countFinished(domain.JobCancelled)
	q.publish(ctx, events.Event{Type: events.TypeJobCancelled, Aggregate: job.ID, Ontology: job.Ontology})
	if wasRunning {
		q.interrupt(id)
	}
	q.logger.Info("job cancelled", zap.String("job_id", id), zap.Bool("was_running", wasRunning))
	return job, nil
}

// Delete removes a terminal job record. The stored payload is removed too
// when no document refers to it.
func (q *Queue) Delete(ctx context.Context, id string) error {
	job, err := q.graph.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !job.Status.Terminal() {
		return kgerrors.Conflict("job %s is %s; cancel it before deleting", id, job.Status)
	}
	return q.purge(ctx, job)
}

// purge deletes the job record and its orphaned payload object.
func (q *Queue) purge(ctx context.Context, job *domain.Job) error {
	if err := q.graph.DeleteJob(store.WithWriteIntent(ctx), job.ID); err != nil {
		return err
	}
	if job.ObjectKey != "" {
		if _, err := q.graph.FindDocumentByHash(ctx, job.ContentHash); kgerrors.KindOf(err) == kgerrors.KindNotFound {
			if err := q.objects.Delete(job.ObjectKey); err != nil {
				q.logger.Warn("orphaned payload not deleted",
					zap.String("job_id", job.ID), zap.String("key", job.ObjectKey), zap.Error(err))
			}
		}
	}
	q.logger.Info("job deleted", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	return nil
}

// expire marks an awaiting job past its deadline.
func (q *Queue) expire(ctx context.Context, job *domain.Job) error {
	if !job.Transition(domain.JobExpired, time.Now().UTC()) {
		return kgerrors.Conflict("job %s is %s and cannot expire", job.ID, job.Status)
	}
	if err := q.graph.PutJob(store.WithWriteIntent(ctx), job); err != nil {
		return err
	}
	q.countFinished(domain.JobExpired)
	q.publish(ctx, events.Event{Type: events.TypeJobExpired, Aggregate: job.ID, Ontology: job.Ontology})
	q.logger.Info("job approval expired", zap.String("job_id", job.ID))
	return nil
}

func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	return q.graph.GetJob(ctx, id)
}

// Prior reports the job already recorded for a content hash, if any. Callers
// use it to flag a forced re-ingest as superseding earlier work.
func (q *Queue) Prior(ctx context.Context, contentHash string) (*domain.Job, error) {
	return q.graph.FindJobByContentHash(ctx, contentHash)
}

func (q *Queue) List(ctx context.Context, f store.JobFilter) ([]*domain.Job, error) {
	return q.graph.ListJobs(ctx, f)
}

// track registers a job as in flight. Reports false when the job is already
// claimed by another worker slot.
func (q *Queue) track(id string, cancel context.CancelFunc) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.cancels[id]; ok {
		return false
	}
	q.cancels[id] = cancel
	return true
}

func (q *Queue) untrack(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancels, id)
}

func (q *Queue) tracked(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.cancels[id]
	return ok
}

// interrupt cancels the context of an in-flight job, if any.
func (q *Queue) interrupt(id string) {
	q.mu.Lock()
	cancel := q.cancels[id]
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wake signals when newly runnable work appears, so the scheduler does not
// wait out its poll interval.
func (q *Queue) Wake() <-chan struct{} {
	return q.kick
}

func (q *Queue) wake() {
	select {
	case q.kick <- struct{}{}:
	default:
	}
}

func (q *Queue) countFinished(status domain.JobStatus) {
	if q.metrics != nil {
		q.metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	}
}

// publish sends an event without failing the calling operation.
func (q *Queue) publish(ctx context.Context, ev events.Event) {
	if err := q.publisher.Publish(ctx, ev); err != nil {
		q.logger.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

// Summary renders a short result line for a finished job.
func Summary(p domain.JobProgress) string {
	return fmt.Sprintf("%d/%d chunks, %d concepts (%d reused), %d instances, %d edges, %d new types",
		p.ChunksDone, p.ChunksTotal, p.ConceptsCreated, p.ConceptsReused,
		p.InstancesCreated, p.EdgesCreated, p.NewTypesCreated)
}
