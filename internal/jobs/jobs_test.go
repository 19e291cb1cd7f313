package jobs_test

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kgraph/internal/config"
	"kgraph/internal/domain"
	"kgraph/internal/events"
	"kgraph/internal/extract"
	"kgraph/internal/index"
	"kgraph/internal/ingest"
	"kgraph/internal/jobs"
	"kgraph/internal/kgerrors"
	"kgraph/internal/matcher"
	"kgraph/internal/provider"
	"kgraph/internal/store"
	"kgraph/internal/store/sqlite"
	"kgraph/internal/vector"
	"kgraph/internal/vocab"
)

// scriptChat serves canned extraction responses, with per-call errors and an
// optional hook invoked before each call returns.
type scriptChat struct {
	mu     sync.Mutex
	calls  int
	errs   map[int]error // 1-based call index
	resp   string
	onCall func(n int)
}

func (c *scriptChat) Complete(_ context.Context, _ provider.ChatRequest) (*provider.ChatResponse, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	hook := c.onCall
	err := c.errs[n]
	resp := c.resp
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	return &provider.ChatResponse{
		Content: resp,
		Usage:   provider.TokenUsage{PromptTokens: 900, CompletionTokens: 150, TotalTokens: 1050},
	}, nil
}

func (c *scriptChat) Name() string { return "script" }

func (c *scriptChat) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// hashEmbedder derives a deterministic unit vector from the text, so equal
// texts embed identically and distinct texts land far below every
// similarity threshold.
type hashEmbedder struct{ dim int }

func (e *hashEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVec(t, e.dim)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedImage(context.Context, string, []byte) ([]float32, error) {
	return nil, kgerrors.Validation("provider stub does not support image embedding")
}

func (e *hashEmbedder) Dimension() int { return e.dim }
func (e *hashEmbedder) Name() string   { return "stub" }

// imageEmbedder extends the text stub with image support, hashing the raw
// bytes the same way.
type imageEmbedder struct{ hashEmbedder }

func (e *imageEmbedder) EmbedImage(_ context.Context, _ string, data []byte) ([]float32, error) {
	return hashVec(string(data), e.dim), nil
}

func hashVec(text string, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		h := fnv.New64a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		x := float64(h.Sum64()%2001)/1000 - 1
		v[i] = float32(x)
		norm += x * x
	}
	n := float32(math.Sqrt(norm))
	if n == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] /= n
	}
	return v
}

// eventLog collects dispatched event types.
type eventLog struct {
	mu    sync.Mutex
	types []string
}

func (l *eventLog) record(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types = append(l.types, ev.Type)
}

func (l *eventLog) has(eventType string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.types {
		if t == eventType {
			return true
		}
	}
	return false
}

type harness struct {
	graph    *sqlite.Store
	objects  *ingest.ObjectStore
	intake   *ingest.Intake
	queue    *jobs.Queue
	worker   *jobs.Worker
	keywords *index.Keyword
	chat     *scriptChat
	seen     *eventLog
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, &hashEmbedder{dim: 64})
}

func newHarnessWith(t *testing.T, emb provider.Embedder) *harness {
	t.Helper()
	logger := zap.NewNop()

	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	objects, err := ingest.NewObjectStore(t.TempDir(), logger)
	require.NoError(t, err)
	intake := ingest.NewIntake(config.Ingest{}, objects, nil, logger)

	seen := &eventLog{}
	local := events.NewLocal(logger)
	local.Subscribe(seen.record)

	vocabMgr := vocab.NewManager(s, emb, config.Vocab{}, logger, nil)
	require.NoError(t, vocabMgr.Load(context.Background()))

	chat := &scriptChat{resp: conceptOnlyResponse}
	extractor := extract.New(chat, config.LLM{ExtractAttempts: 1}, logger)
	m := matcher.New(s, vector.NewIndex(vector.DefaultParams()), config.Query{DedupThreshold: 0.80}, logger, nil)

	keywords, err := index.NewKeyword("")
	require.NoError(t, err)
	t.Cleanup(func() { keywords.Close() })

	pricing := config.Pricing{InputPerMTok: 0.15, OutputPerMTok: 0.60, EmbedPerMTok: 0.02}
	queue := jobs.NewQueue(s, objects, local, pricing, config.Jobs{}, logger, nil)
	worker := jobs.NewWorker(s, objects, extractor, emb, m, vocabMgr, keywords, config.Ingest{}, pricing, local, logger, nil)

	return &harness{graph: s, objects: objects, intake: intake, queue: queue, worker: worker, keywords: keywords, chat: chat, seen: seen}
}

const happyText = "Chronic sleep deprivation elevates cortisol levels throughout the day. Elevated cortisol interferes with memory consolidation during deep sleep."

const happyResponse = `{
 "concepts": [
  {"label": "Sleep Deprivation", "description": "Sustained lack of adequate sleep.", "search_terms": ["sleep debt"]},
  {"label": "Cortisol", "description": "Primary stress hormone.", "search_terms": []},
  {"label": "Memory Consolidation", "description": "Stabilization of memories during sleep.", "search_terms": []}
 ],
 "instances": [
  {"concept_label": "Cortisol", "quote": "Chronic sleep deprivation elevates cortisol levels"}
 ],
 "relationships": [
  {"from_label": "Sleep Deprivation", "to_label": "Cortisol", "type": "CAUSES", "confidence": 0.9},
  {"from_label": "Cortisol", "to_label": "Memory Consolidation", "type": "DISRUPTS"}
 ]
}`

const conceptOnlyResponse = `{"concepts": [{"label": "Recovery", "description": "Restoration of function after stress.", "search_terms": []}], "instances": [], "relationships": []}`

func submitText(t *testing.T, h *harness, text string, params domain.JobParams) *domain.Job {
	t.Helper()
	sub, err := h.intake.Text(text, "", "health")
	require.NoError(t, err)
	job, err := h.queue.Submit(context.Background(), domain.JobTypeIngestText, sub, params, "tester")
	require.NoError(t, err)
	return job
}

func TestSubmitCreatesAwaitingJob(t *testing.T) {
	h := newHarness(t)

	job := submitText(t, h, happyText, domain.JobParams{})

	assert.Equal(t, domain.JobAwaitingApproval, job.Status)
	require.NotNil(t, job.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *job.ExpiresAt, time.Minute)
	assert.Equal(t, 1, job.Progress.ChunksTotal)
	assert.Greater(t, job.Cost.EstimatedUSD, 0.0)
	assert.NotEmpty(t, job.ContentHash)
	assert.NotEmpty(t, job.ObjectKey)
	assert.True(t, h.seen.has(events.TypeJobSubmitted))
	assert.False(t, h.seen.has(events.TypeJobApproved))
}

func TestSubmitAutoApproveSkipsGate(t *testing.T) {
	h := newHarness(t)

	job := submitText(t, h, happyText, domain.JobParams{AutoApprove: true})

	assert.Equal(t, domain.JobApproved, job.Status)
	assert.Nil(t, job.ExpiresAt)
	assert.NotNil(t, job.ApprovedAt)
	assert.True(t, h.seen.has(events.TypeJobApproved))

	select {
	case <-h.queue.Wake():
	default:
		t.Fatal("expected a scheduler wake signal")
	}
}

func TestSubmitRefusesDuplicateLiveContent(t *testing.T) {
	h := newHarness(t)

	first := submitText(t, h, happyText, domain.JobParams{})

	sub, err := h.intake.Text(happyText, "", "health")
	require.NoError(t, err)
	_, err = h.queue.Submit(context.Background(), domain.JobTypeIngestText, sub, domain.JobParams{}, "tester")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConflict, kgerrors.KindOf(err))
	assert.Contains(t, err.Error(), first.ID)
}

func TestApproveStampsApprover(t *testing.T) {
	h := newHarness(t)
	job := submitText(t, h, happyText, domain.JobParams{})

	approved, err := h.queue.Approve(context.Background(), job.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, domain.JobApproved, approved.Status)
	assert.Equal(t, "ops", approved.ApprovedBy)
	assert.NotNil(t, approved.ApprovedAt)
	assert.Nil(t, approved.ExpiresAt)

	_, err = h.queue.Approve(context.Background(), job.ID, "ops")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConflict, kgerrors.KindOf(err))
}

func TestApprovePastDeadlineExpires(t *testing.T) {
	h := newHarness(t)
	job := submitText(t, h, happyText, domain.JobParams{})

	past := time.Now().UTC().Add(-time.Minute)
	job.ExpiresAt = &past
	require.NoError(t, h.graph.PutJob(store.WithWriteIntent(context.Background()), job))

	_, err := h.queue.Approve(context.Background(), job.ID, "ops")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConflict, kgerrors.KindOf(err))

	fresh, err := h.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobExpired, fresh.Status)
	assert.True(t, h.seen.has(events.TypeJobExpired))
}

func TestCancelBeforeRun(t *testing.T) {
	h := newHarness(t)
	job := submitText(t, h, happyText, domain.JobParams{})

	cancelled, err := h.queue.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.FinishedAt)
	assert.True(t, h.seen.has(events.TypeJobCancelled))

	_, err = h.queue.Cancel(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConflict, kgerrors.KindOf(err))
}

func TestDeleteRequiresTerminalState(t *testing.T) {
	h := newHarness(t)
	job := submitText(t, h, happyText, domain.JobParams{})

	err := h.queue.Delete(context.Background(), job.ID)
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConflict, kgerrors.KindOf(err))

	_, err = h.queue.Cancel(context.Background(), job.ID)
	require.NoError(t, err)
	require.NoError(t, h.queue.Delete(context.Background(), job.ID))

	_, err = h.queue.Get(context.Background(), job.ID)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))

	// No document was ever ingested, so the payload went with the job.
	_, err = h.objects.Get(job.ObjectKey)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))
}

func TestWorkerIngestsTextJob(t *testing.T) {
	h := newHarness(t)
	h.chat.resp = happyResponse
	ctx := context.Background()

	job := submitText(t, h, happyText, domain.JobParams{AutoApprove: true})
	require.NoError(t, h.worker.Run(ctx, job.ID))

	fresh, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, fresh.Status)
	assert.Equal(t, 1, fresh.Progress.ChunksDone)
	assert.Equal(t, 100.0, fresh.Progress.Percent)
	assert.Equal(t, 3, fresh.Progress.ConceptsCreated)
	assert.Equal(t, 0, fresh.Progress.ConceptsReused)
	assert.Equal(t, 1, fresh.Progress.InstancesCreated)
	assert.Equal(t, 2, fresh.Progress.EdgesCreated)
	assert.Equal(t, 1, fresh.Progress.NewTypesCreated) // DISRUPTS
	assert.Equal(t, 900, fresh.Progress.TokensIn)
	assert.Equal(t, 150, fresh.Progress.TokensOut)
	assert.Greater(t, fresh.Cost.ActualUSD, 0.0)
	assert.Contains(t, fresh.Result, "3 concepts")
	assert.Empty(t, fresh.ChunkErrors)
	assert.NotNil(t, fresh.FinishedAt)

	// Graph content: the edge carries the chunk's source id as evidence.
	sourceID := domain.NewSourceID(job.ContentHash, 0)
	src, err := h.graph.GetSource(ctx, sourceID)
	require.NoError(t, err)
	assert.Equal(t, 0, src.ChunkIndex)
	assert.NotEmpty(t, src.FullText)

	edges, err := h.graph.EdgesByType(ctx, "health", "CAUSES")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.NewConceptID("Sleep Deprivation", "health"), edges[0].FromID)
	assert.Equal(t, domain.NewConceptID("Cortisol", "health"), edges[0].ToID)
	assert.Equal(t, 0.9, edges[0].Confidence)
	assert.Equal(t, []string{sourceID}, edges[0].Evidence)

	disrupts, err := h.graph.EdgesByType(ctx, "health", "DISRUPTS")
	require.NoError(t, err)
	require.Len(t, disrupts, 1)
	assert.Equal(t, 0.5, disrupts[0].Confidence) // omitted confidence defaults

	instances, err := h.graph.ListInstances(ctx, domain.NewConceptID("Cortisol", "health"), 10)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, sourceID, instances[0].SourceID)

	doc, err := h.graph.FindDocumentByHash(ctx, job.ContentHash)
	require.NoError(t, err)
	assert.Equal(t, domain.ContentTypeText, doc.ContentType)

	// Keyword search sees the new concepts without a separate reindex step.
	kwHits, err := h.keywords.Search(ctx, "health", "cortisol", 5)
	require.NoError(t, err)
	require.NotEmpty(t, kwHits)
	assert.Equal(t, domain.NewConceptID("Cortisol", "health"), kwHits[0].ID)

	assert.True(t, h.seen.has(events.TypeJobStarted))
	assert.True(t, h.seen.has(events.TypeJobCompleted))
	assert.True(t, h.seen.has(events.TypeDocumentIngested))
}

func TestWorkerReingestAfterForce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := submitText(t, h, happyText, domain.JobParams{AutoApprove: true})
	require.NoError(t, h.worker.Run(ctx, job.ID))

	// The document now exists, so a plain resubmission is refused.
	sub, err := h.intake.Text(happyText, "", "health")
	require.NoError(t, err)
	_, err = h.queue.Submit(ctx, domain.JobTypeIngestText, sub, domain.JobParams{}, "tester")
	require.Error(t, err)
	assert.Equal(t, kgerrors.KindConflict, kgerrors.KindOf(err))
	assert.Contains(t, err.Error(), "force")

	forced, err := h.queue.Submit(ctx, domain.JobTypeIngestText, sub, domain.JobParams{Force: true, AutoApprove: true}, "tester")
	require.NoError(t, err)
	require.NoError(t, h.worker.Run(ctx, forced.ID))

	fresh, err := h.queue.Get(ctx, forced.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, fresh.Status)
	// Idempotent ids: the re-ingest reuses instead of duplicating.
	assert.Equal(t, 0, fresh.Progress.ConceptsCreated)
	assert.Equal(t, 1, fresh.Progress.ConceptsReused)
}

const longText = "Morning light exposure anchors the circadian rhythm and improves alertness. " +
	"Regular exercise deepens slow wave sleep and shortens sleep onset. " +
	"Caffeine late in the day delays melatonin release and fragments sleep. " +
	"Consistent wake times stabilize mood and support memory over weeks."

func TestWorkerRecordsPartialChunkFailure(t *testing.T) {
	h := newHarness(t)
	h.chat.errs = map[int]error{1: kgerrors.Provider(true, nil, "model unavailable")}
	ctx := context.Background()

	job := submitText(t, h, longText, domain.JobParams{AutoApprove: true, TargetWords: 15})
	require.GreaterOrEqual(t, job.Progress.ChunksTotal, 2)

	require.NoError(t, h.worker.Run(ctx, job.ID))

	fresh, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, fresh.Status)
	require.Len(t, fresh.ChunkErrors, 1)
	assert.Equal(t, 0, fresh.ChunkErrors[0].ChunkIndex)
	assert.Contains(t, fresh.ChunkErrors[0].Message, "model unavailable")
	assert.Equal(t, fresh.Progress.ChunksTotal, fresh.Progress.ChunksDone)
	assert.Equal(t, 100.0, fresh.Progress.Percent)
	assert.Contains(t, fresh.Result, "1 chunks failed")
	// Every successful chunk emitted the same concept: one create, rest reuse.
	assert.Equal(t, 1, fresh.Progress.ConceptsCreated)
	assert.Equal(t, fresh.Progress.ChunksTotal-2, fresh.Progress.ConceptsReused)
}

func TestWorkerFailsWhenEveryChunkFails(t *testing.T) {
	h := newHarness(t)
	h.chat.errs = map[int]error{1: kgerrors.Provider(true, nil, "model unavailable")}
	ctx := context.Background()

	job := submitText(t, h, happyText, domain.JobParams{AutoApprove: true})
	require.Equal(t, 1, job.Progress.ChunksTotal)

	require.NoError(t, h.worker.Run(ctx, job.ID))

	fresh, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, fresh.Status)
	assert.Contains(t, fresh.Error, "all 1 chunks failed")
	require.Len(t, fresh.ChunkErrors, 1)
	assert.True(t, h.seen.has(events.TypeJobFailed))

	_, err = h.graph.FindDocumentByHash(ctx, job.ContentHash)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))
}

func TestWorkerStopsAtCancelCheckpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := submitText(t, h, longText, domain.JobParams{AutoApprove: true, TargetWords: 15})
	require.GreaterOrEqual(t, job.Progress.ChunksTotal, 2)

	// Cancel through the queue while the first chunk is mid-extraction. The
	// worker must observe the terminal state at its next persist and stop
	// without overwriting it.
	h.chat.onCall = func(n int) {
		if n == 1 {
			_, err := h.queue.Cancel(context.Background(), job.ID)
			require.NoError(t, err)
		}
	}

	require.NoError(t, h.worker.Run(ctx, job.ID))

	fresh, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, fresh.Status)
	assert.Equal(t, 0, fresh.Progress.ChunksDone)
	assert.Equal(t, 1, h.chat.callCount())

	_, err = h.graph.FindDocumentByHash(ctx, job.ContentHash)
	assert.Equal(t, kgerrors.KindNotFound, kgerrors.KindOf(err))
}

func TestWorkerImageJobFailsWithoutMultimodalProvider(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.intake.Image("scan.png", []byte("not really a png"), "image/png", "lab")
	require.NoError(t, err)
	job, err := h.queue.Submit(ctx, domain.JobTypeIngestImage, sub, domain.JobParams{AutoApprove: true}, "tester")
	require.NoError(t, err)
	assert.Equal(t, 1, job.Progress.ChunksTotal)

	require.NoError(t, h.worker.Run(ctx, job.ID))

	fresh, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, fresh.Status)
	assert.Contains(t, fresh.Error, "image embedding")
	assert.True(t, h.seen.has(events.TypeJobFailed))
}

func TestWorkerImageJobIndexesCaption(t *testing.T) {
	h := newHarnessWith(t, &imageEmbedder{hashEmbedder{dim: 64}})
	ctx := context.Background()
	const caption = "Cutaway diagram of a pressurized water reactor"

	sub, err := h.intake.Image("reactor-diagram.png", []byte("png bytes"), "image/png", "lab")
	require.NoError(t, err)
	job, err := h.queue.Submit(ctx, domain.JobTypeIngestImage, sub, domain.JobParams{
		AutoApprove: true,
		Caption:     caption,
	}, "tester")
	require.NoError(t, err)

	require.NoError(t, h.worker.Run(ctx, job.ID))

	fresh, err := h.queue.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, fresh.Status)
	assert.Equal(t, 1, fresh.Progress.ConceptsCreated)
	assert.Equal(t, 1, fresh.Progress.InstancesCreated)

	// The concept carries the visual embedding and the caption.
	conceptID := domain.NewConceptID("reactor-diagram", "lab")
	concept, err := h.graph.GetConcept(ctx, conceptID)
	require.NoError(t, err)
	assert.Equal(t, "reactor-diagram", concept.Label)
	assert.Equal(t, caption, concept.Description)
	assert.Len(t, concept.Embedding, 64)

	// The source row keeps the caption text next to the object key, and the
	// caption is cited as an instance.
	src, err := h.graph.GetSource(ctx, domain.NewSourceID(job.ContentHash, 0))
	require.NoError(t, err)
	assert.Equal(t, caption, src.FullText)
	assert.NotEmpty(t, src.ObjectKey)

	instances, err := h.graph.ListInstances(ctx, conceptID, 10)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	assert.Equal(t, caption, instances[0].Quote)

	// Keyword search reaches the image through its caption.
	hits, err := h.keywords.Search(ctx, "lab", "reactor", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, conceptID, hits[0].ID)

	assert.True(t, h.seen.has(events.TypeJobCompleted))
}
