package jobs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kgraph/internal/chunker"
	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/extract"
	"kgraph/internal/index"
	"kgraph/internal/ingest"
	"kgraph/internal/kgerrors"
	"kgraph/internal/matcher"
	"kgraph/internal/observability"
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/internal/vocab"
)

// storeAttempts bounds retries for graph writes before the whole job fails.
const storeAttempts = 3

var tracer = otel.Tracer("kgraph/internal/jobs")

// parallelChunkWorkers caps fan-out within one job in parallel mode.
const parallelChunkWorkers = 4

// promptLabelLimit caps how many existing concept labels are loaded per
// chunk to steer the extractor toward reuse.
const promptLabelLimit = 40

// errJobCancelled signals that the job reached a terminal state underneath
// the worker, which stops without touching the record again.
var errJobCancelled = errors.New("job cancelled")

// Worker executes one approved job end to end.
type Worker struct {
	graph     store.Graph
	objects   *ingest.ObjectStore
	extractor *extract.Extractor
	embedder  provider.Embedder
	matcher   *matcher.Matcher
	vocab     *vocab.Manager
	keywords  *index.Keyword
	ingestCfg config.Ingest
	pricing   config.Pricing
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Collector
}

// NewWorker wires the per-chunk pipeline. A nil keyword index disables
// keyword-search maintenance; everything else is required.
func NewWorker(graph store.Graph, objects *ingest.ObjectStore, extractor *extract.Extractor, embedder provider.Embedder, m *matcher.Matcher, v *vocab.Manager, keywords *index.Keyword, ingestCfg config.Ingest, pricing config.Pricing, publisher events.Publisher, logger *zap.Logger, metrics *observability.Collector) *Worker {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Worker{
		graph:     graph,
		objects:   objects,
		extractor: extractor,
		embedder:  embedder,
		matcher:   m,
		vocab:     v,
		keywords:  keywords,
		ingestCfg: ingestCfg,
		pricing:   pricing,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run picks up an approved job, moves it to running and executes it. A
// context cancelled mid-flight leaves the record running for stale recovery;
// a job cancelled through the queue stops cleanly at the next checkpoint.
func (w *Worker) Run(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "jobs.Run", trace.WithAttributes(attribute.String("job.id", id)))
	defer span.End()

	job, err := w.graph.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.JobApproved {
		w.logger.Debug("job no longer runnable", zap.String("job_id", id), zap.String("status", string(job.Status)))
		return nil
	}

	now := time.Now().UTC()
	job.Transition(domain.JobRunning, now)
	job.Progress.Stage = "starting"
	if err := w.persistJob(ctx, job); err != nil {
		if errors.Is(err, errJobCancelled) {
			return nil
		}
		return err
	}
	if w.metrics != nil {
		w.metrics.JobsRunning.Inc()
		defer w.metrics.JobsRunning.Dec()
	}
	w.publish(ctx, events.Event{Type: events.TypeJobStarted, Aggregate: job.ID, Ontology: job.Ontology})
	w.logger.Info("job started", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))

	execErr := w.execute(ctx, job)
	if execErr != nil {
		span.RecordError(execErr)
	}
	if err := w.finish(ctx, job, execErr); err != nil {
		if errors.Is(err, errJobCancelled) {
			w.logger.Info("job settled elsewhere", zap.String("job_id", job.ID))
			return nil
		}
		return err
	}
	return nil
}

func (w *Worker) execute(ctx context.Context, job *domain.Job) error {
	payload, err := w.objects.Get(job.ObjectKey)
	if err != nil {
		return kgerrors.Wrap(err, "load job payload")
	}
	if job.Type == domain.JobTypeIngestImage {
		return w.executeImage(ctx, job, payload)
	}
	return w.executeText(ctx, job, string(payload))
}

// executeText chunks the stored markdown and runs the per-chunk pipeline,
// serially by default so later chunks match concepts created by earlier ones.
func (w *Worker) executeText(ctx context.Context, job *domain.Job, text string) error {
	cfg := chunker.Config{TargetWords: job.Params.TargetWords, OverlapWords: job.Params.OverlapWords}
	if cfg.TargetWords == 0 && cfg.OverlapWords == 0 {
		cfg.TargetWords = w.ingestCfg.TargetWords
		cfg.OverlapWords = w.ingestCfg.OverlapWords
	}
	c, err := chunker.New(cfg)
	if err != nil {
		return err
	}
	chunks := c.Split(text)
	if len(chunks) == 0 {
		return kgerrors.Validation("document has no chunkable text")
	}

	job.Progress.ChunksTotal = len(chunks)
	job.Progress.Stage = "extracting"
	if err := w.persistJob(ctx, job); err != nil {
		return err
	}

	if job.Params.ProcessMode == domain.ProcessParallel {
		return w.runParallel(ctx, job, chunks)
	}
	return w.runSerial(ctx, job, chunks)
}

func (w *Worker) runSerial(ctx context.Context, job *domain.Job, chunks []chunker.Chunk) error {
	for _, chunk := range chunks {
		if err := w.checkpoint(ctx, job.ID); err != nil {
			return err
		}
		res, err := w.processChunk(ctx, job, chunk)
		if err != nil {
			return err
		}
		w.applyChunkResult(job, chunk.Index, res)
		if err := w.persistJob(ctx, job); err != nil {
			return err
		}
	}
	return w.settle(job, len(chunks))
}

func (w *Worker) runParallel(ctx context.Context, job *domain.Job, chunks []chunker.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelChunkWorkers)

	var mu sync.Mutex
	for _, chunk := range chunks {
		g.Go(func() error {
			if err := w.checkpoint(gctx, job.ID); err != nil {
				return err
			}
			res, err := w.processChunk(gctx, job, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			w.applyChunkResult(job, chunk.Index, res)
			return w.persistJob(gctx, job)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return w.settle(job, len(chunks))
}

// settle decides the job outcome after all chunks ran. Partial chunk
// failures complete with an error list; losing every chunk fails the job.
func (w *Worker) settle(job *domain.Job, total int) error {
	if total > 0 && len(job.ChunkErrors) == total {
		return kgerrors.Provider(false, nil, "all %d chunks failed extraction", total)
	}
	return nil
}

// chunkResult accumulates one chunk's contribution. failed carries a
// chunk-level problem (extraction or embedding) that skips the chunk without
// failing the job.
type chunkResult struct {
	failed      error
	concepts    int
	reused      int
	instances   int
	edges       int
	newTypes    int
	usage       provider.TokenUsage
	embedTokens int
}

// processChunk runs the pipeline for one chunk: extract, embed, match
// concepts, record instances, resolve types and write edges. The returned
// error is fatal for the whole job; chunk-level failures come back inside
// the result.
func (w *Worker) processChunk(ctx context.Context, job *domain.Job, chunk chunker.Chunk) (chunkResult, error) {
	ctx, span := tracer.Start(ctx, "jobs.processChunk", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.Int("chunk.index", chunk.Index),
	))
	defer span.End()

	var res chunkResult

	result, usage, err := w.extractor.Extract(ctx, extract.Request{
		ChunkText:      chunk.Text,
		Vocabulary:     w.vocab.ActiveNames(),
		ExistingLabels: w.existingLabels(ctx, job.Ontology),
	})
	res.usage = usage
	if err != nil {
		if ctx.Err() != nil {
			return res, kgerrors.Cancelled("process chunk")
		}
		res.failed = err
		return res, nil
	}

	var vecs [][]float32
	if len(result.Concepts) > 0 {
		texts := make([]string, len(result.Concepts))
		for i, c := range result.Concepts {
			cand := matcher.Candidate{Label: c.Label, Description: c.Description, SearchTerms: c.SearchTerms}
			texts[i] = cand.Text()
			res.embedTokens += chunker.EstimateTokens(texts[i])
		}
		vecs, err = w.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return res, kgerrors.Cancelled("process chunk")
			}
			res.failed = err
			return res, nil
		}
		if len(vecs) != len(texts) {
			res.failed = kgerrors.Provider(false, nil, "embedder returned %d vectors for %d texts", len(vecs), len(texts))
			return res, nil
		}
	}

	source := &domain.Source{
		ID:         domain.NewSourceID(job.ContentHash, chunk.Index),
		DocumentID: domain.NewDocumentID(job.ContentHash),
		Ontology:   job.Ontology,
		ChunkIndex: chunk.Index,
		FullText:   chunk.Text,
		ByteStart:  chunk.ByteStart,
		ByteEnd:    chunk.ByteEnd,
		CreatedAt:  time.Now().UTC(),
	}
	if err := w.withRetry(ctx, "put source", func() error {
		_, err := w.graph.PutSource(store.WithWriteIntent(ctx), source)
		return err
	}); err != nil {
		return res, err
	}

	ids := make(map[string]string, len(result.Concepts))
	for i, c := range result.Concepts {
		cand := matcher.Candidate{
			Label:       c.Label,
			Description: c.Description,
			SearchTerms: c.SearchTerms,
			Embedding:   vecs[i],
		}
		var match matcher.Match
		if err := w.withRetry(ctx, "match concept", func() error {
			var err error
			match, err = w.matcher.MatchOrCreate(ctx, cand, job.Ontology)
			return err
		}); err != nil {
			return res, err
		}
		ids[labelKey(c.Label)] = match.ConceptID
		if match.Reused {
			res.reused++
		} else {
			res.concepts++
		}
	}
	w.refreshKeywords(ctx, job, ids)

	for _, in := range result.Instances {
		inst := &domain.Instance{
			ConceptID: ids[labelKey(in.ConceptLabel)],
			SourceID:  source.ID,
			Quote:     in.Quote,
			CreatedAt: time.Now().UTC(),
		}
		var created bool
		if err := w.withRetry(ctx, "put instance", func() error {
			var err error
			created, err = w.graph.PutInstance(store.WithWriteIntent(ctx), inst)
			return err
		}); err != nil {
			return res, err
		}
		if created {
			res.instances++
		}
	}

	for _, r := range result.Relationships {
		resolved, err := w.vocab.Resolve(ctx, r.Type)
		if err != nil {
			if kgerrors.KindOf(err) == kgerrors.KindValidation {
				w.logger.Warn("unusable relationship type skipped",
					zap.String("job_id", job.ID), zap.String("type", r.Type))
				continue
			}
			return res, err
		}
		if resolved.Created {
			res.newTypes++
		}
		rel := &domain.Relationship{
			FromID:     ids[labelKey(r.FromLabel)],
			ToID:       ids[labelKey(r.ToLabel)],
			Type:       resolved.Name,
			Ontology:   job.Ontology,
			Confidence: r.Confidence,
			Evidence:   []string{source.ID},
			CreatedAt:  time.Now().UTC(),
		}
		var created bool
		if err := w.withRetry(ctx, "put relationship", func() error {
			var err error
			created, err = w.graph.PutRelationship(store.WithWriteIntent(ctx), rel)
			return err
		}); err != nil {
			return res, err
		}
		if created {
			res.edges++
		}
	}
	return res, nil
}

// refreshKeywords reindexes every concept a chunk touched, so keyword search
// sees new concepts and freshly merged search terms. Index trouble is logged
// and never fails the chunk.
func (w *Worker) refreshKeywords(ctx context.Context, job *domain.Job, ids map[string]string) {
	if w.keywords == nil || len(ids) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(ids))
	conceptIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		conceptIDs = append(conceptIDs, id)
	}
	concepts, err := w.graph.GetConcepts(ctx, conceptIDs)
	if err == nil {
		err = w.keywords.IndexConcepts(concepts)
	}
	if err != nil {
		w.logger.Warn("keyword index update failed",
			zap.String("job_id", job.ID),
			zap.Int("concepts", len(conceptIDs)),
			zap.Error(err))
	}
}

// executeImage anchors the stored image in the graph: the visual embedding
// becomes a concept the vector index can reach, the source row carries the
// caption text, and a caption is also cited as an instance and pushed to the
// keyword index. An embedding backend without image support fails the job
// with its provider error.
func (w *Worker) executeImage(ctx context.Context, job *domain.Job, payload []byte) error {
	job.Progress.ChunksTotal = 1
	job.Progress.Stage = "embedding"
	if err := w.persistJob(ctx, job); err != nil {
		return err
	}

	vec, err := w.embedder.EmbedImage(ctx, job.MimeType, payload)
	if err != nil {
		return err
	}

	caption := strings.TrimSpace(job.Params.Caption)
	source := &domain.Source{
		ID:         domain.NewSourceID(job.ContentHash, 0),
		DocumentID: domain.NewDocumentID(job.ContentHash),
		Ontology:   job.Ontology,
		ChunkIndex: 0,
		FullText:   caption,
		ObjectKey:  job.ObjectKey,
		CreatedAt:  time.Now().UTC(),
	}
	if err := w.withRetry(ctx, "put source", func() error {
		_, err := w.graph.PutSource(store.WithWriteIntent(ctx), source)
		return err
	}); err != nil {
		return err
	}

	cand := matcher.Candidate{
		Label:       imageLabel(job.Params.Filename, job.ContentHash),
		Description: caption,
		Embedding:   vec,
	}
	var match matcher.Match
	if err := w.withRetry(ctx, "match concept", func() error {
		var merr error
		match, merr = w.matcher.MatchOrCreate(ctx, cand, job.Ontology)
		return merr
	}); err != nil {
		return err
	}
	if match.Reused {
		job.Progress.ConceptsReused++
	} else {
		job.Progress.ConceptsCreated++
	}
	w.refreshKeywords(ctx, job, map[string]string{labelKey(cand.Label): match.ConceptID})

	if caption != "" {
		inst := &domain.Instance{
			ConceptID: match.ConceptID,
			SourceID:  source.ID,
			Quote:     caption,
			CreatedAt: time.Now().UTC(),
		}
		var created bool
		if err := w.withRetry(ctx, "put instance", func() error {
			var ierr error
			created, ierr = w.graph.PutInstance(store.WithWriteIntent(ctx), inst)
			return ierr
		}); err != nil {
			return err
		}
		if created {
			job.Progress.InstancesCreated++
		}
	}

	job.Progress.ChunksDone = 1
	job.Progress.Percent = 100
	return nil
}

// imageLabel names the image concept from its filename, falling back to the
// content hash when the upload carried none.
func imageLabel(filename, hash string) string {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if name == "" || name == "." {
		if len(hash) > 12 {
			hash = hash[:12]
		}
		return "image " + hash
	}
	return name
}

// applyChunkResult folds one chunk's counters into the job record. Failed
// chunks still advance chunks_done so progress reaches 100%; the failure is
// kept on the error list.
func (w *Worker) applyChunkResult(job *domain.Job, chunkIndex int, res chunkResult) {
	p := &job.Progress
	p.ChunksDone++
	if p.ChunksTotal > 0 {
		p.Percent = float64(p.ChunksDone) / float64(p.ChunksTotal) * 100
	}
	p.ConceptsCreated += res.concepts
	p.ConceptsReused += res.reused
	p.InstancesCreated += res.instances
	p.EdgesCreated += res.edges
	p.NewTypesCreated += res.newTypes
	p.TokensIn += res.usage.PromptTokens
	p.TokensOut += res.usage.CompletionTokens

	job.Cost.ActualUSD += float64(res.usage.PromptTokens)/1e6*w.pricing.InputPerMTok +
		float64(res.usage.CompletionTokens)/1e6*w.pricing.OutputPerMTok +
		float64(res.embedTokens)/1e6*w.pricing.EmbedPerMTok

	if res.failed != nil {
		job.ChunkErrors = append(job.ChunkErrors, domain.ChunkError{
			ChunkIndex: chunkIndex,
			Message:    res.failed.Error(),
			At:         time.Now().UTC(),
		})
		if w.metrics != nil {
			w.metrics.ChunkFailures.Inc()
		}
		w.logger.Warn("chunk failed",
			zap.String("job_id", job.ID), zap.Int("chunk", chunkIndex), zap.Error(res.failed))
		return
	}
	if w.metrics != nil {
		w.metrics.ChunksDone.Inc()
	}
}

// finish settles the terminal state. When the record was cancelled
// underneath the worker, or the context died (shutdown), the record is left
// alone for the queue or stale recovery to own.
func (w *Worker) finish(ctx context.Context, job *domain.Job, execErr error) error {
	if errors.Is(execErr, errJobCancelled) {
		w.logger.Info("job stopped on cancellation", zap.String("job_id", job.ID))
		return nil
	}
	if ctx.Err() != nil {
		// Interrupted mid-chunk: either a queue cancel (record already
		// terminal) or process shutdown (record left running for recovery).
		fresh, err := w.graph.GetJob(context.WithoutCancel(ctx), job.ID)
		if err == nil && fresh.Status == domain.JobCancelled {
			w.logger.Info("job stopped on cancellation", zap.String("job_id", job.ID))
			return nil
		}
		w.logger.Warn("job interrupted by shutdown; left running for recovery", zap.String("job_id", job.ID))
		return ctx.Err()
	}

	fresh, err := w.graph.GetJob(ctx, job.ID)
	if err == nil && fresh.Status != domain.JobRunning {
		w.logger.Info("job already settled", zap.String("job_id", job.ID), zap.String("status", string(fresh.Status)))
		return nil
	}

	now := time.Now().UTC()
	if execErr != nil {
		job.Transition(domain.JobFailed, now)
		job.Error = execErr.Error()
		job.Progress.Stage = "failed"
		if err := w.persistJob(ctx, job); err != nil {
			return err
		}
		w.countFinished(domain.JobFailed)
		w.publish(ctx, events.Event{
			Type:      events.TypeJobFailed,
			Aggregate: job.ID,
			Ontology:  job.Ontology,
			Detail:    map[string]any{"error": job.Error},
		})
		w.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(execErr))
		return nil
	}

	if err := w.persistDocument(ctx, job, now); err != nil {
		// The graph content landed; only the document row is missing.
		job.Transition(domain.JobFailed, now)
		job.Error = err.Error()
		if perr := w.persistJob(ctx, job); perr != nil {
			return perr
		}
		w.countFinished(domain.JobFailed)
		return nil
	}

	job.Transition(domain.JobCompleted, now)
	job.Progress.Stage = "completed"
	job.Result = Summary(job.Progress)
	if len(job.ChunkErrors) > 0 {
		job.Result += fmt.Sprintf(", %d chunks failed", len(job.ChunkErrors))
	}
	if err := w.persistJob(ctx, job); err != nil {
		return err
	}
	w.countFinished(domain.JobCompleted)
	w.publish(ctx, events.Event{
		Type:      events.TypeJobCompleted,
		Aggregate: job.ID,
		Ontology:  job.Ontology,
		Detail: map[string]any{
			"result":     job.Result,
			"actual_usd": job.Cost.ActualUSD,
			"hit_rate":   job.Progress.HitRate(),
		},
	})
	w.publish(ctx, events.Event{
		Type:      events.TypeDocumentIngested,
		Aggregate: domain.NewDocumentID(job.ContentHash),
		Ontology:  job.Ontology,
		Detail:    map[string]any{"job_id": job.ID, "filename": job.Params.Filename},
	})
	w.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("result", job.Result),
		zap.Float64("actual_usd", job.Cost.ActualUSD))
	return nil
}

// persistDocument records the ingested document once the graph writes are in.
func (w *Worker) persistDocument(ctx context.Context, job *domain.Job, now time.Time) error {
	contentType := domain.ContentTypeText
	if job.Type == domain.JobTypeIngestImage {
		contentType = domain.ContentTypeImage
	}
	doc := &domain.Document{
		ID:          domain.NewDocumentID(job.ContentHash),
		ContentHash: job.ContentHash,
		Filename:    job.Params.Filename,
		Ontology:    job.Ontology,
		ContentType: contentType,
		MimeType:    job.MimeType,
		SizeBytes:   job.SizeBytes,
		ObjectKey:   job.ObjectKey,
		SourceURL:   job.Params.SourceURL,
		IngestedAt:  now,
	}
	return w.withRetry(ctx, "put document", func() error {
		_, err := w.graph.PutDocument(store.WithWriteIntent(ctx), doc)
		return err
	})
}

// checkpoint is the cooperative cancellation check between chunks.
func (w *Worker) checkpoint(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return kgerrors.Cancelled("job " + id)
	}
	fresh, err := w.graph.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if fresh.Status == domain.JobCancelled {
		return errJobCancelled
	}
	return nil
}

// existingLabels loads a sample of concept labels already in the ontology.
// Steering only: a failure here degrades the prompt, not the job.
func (w *Worker) existingLabels(ctx context.Context, ontology string) []string {
	concepts, err := w.graph.ListConcepts(ctx, ontology, promptLabelLimit, 0)
	if err != nil {
		w.logger.Warn("existing labels unavailable", zap.String("ontology", ontology), zap.Error(err))
		return nil
	}
	labels := make([]string, 0, len(concepts))
	for _, c := range concepts {
		labels = append(labels, c.Label)
	}
	return labels
}

// persistJob writes the worker's copy of the record unless the job reached a
// terminal state underneath it (queue cancel). PutJob is last-writer-wins, so
// the status is re-read right before writing.
func (w *Worker) persistJob(ctx context.Context, job *domain.Job) error {
	fresh, err := w.graph.GetJob(ctx, job.ID)
	if err == nil && fresh.Status.Terminal() && fresh.Status != job.Status {
		return errJobCancelled
	}
	return w.withRetry(ctx, "put job", func() error {
		return w.graph.PutJob(store.WithWriteIntent(ctx), job)
	})
}

// withRetry runs a graph operation with exponential backoff. Non-transient
// kinds fail immediately; exhausting attempts fails the job.
func (w *Worker) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		switch kgerrors.KindOf(err) {
		case kgerrors.KindValidation, kgerrors.KindConflict, kgerrors.KindNotFound, kgerrors.KindCancelled:
			return err
		}
		if attempt == storeAttempts {
			break
		}
		w.logger.Warn("graph operation retrying",
			zap.String("op", op), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return kgerrors.Cancelled(op)
		case <-time.After(time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond):
		}
	}
	return kgerrors.Wrap(err, op+" failed after retries")
}

func (w *Worker) countFinished(status domain.JobStatus) {
	if w.metrics != nil {
		w.metrics.JobsFinished.WithLabelValues(string(status)).Inc()
	}
}

func (w *Worker) publish(ctx context.Context, ev events.Event) {
	if err := w.publisher.Publish(ctx, ev); err != nil {
		w.logger.Warn("event publish failed", zap.String("type", ev.Type), zap.Error(err))
	}
}

func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
