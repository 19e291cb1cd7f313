// Package di wires the engine together with google/wire. Providers carry the
// startup work that belongs to construction: warming the vector index from
// the store, seeding the relationship vocabulary and swapping in stored model
// configs over the file defaults.
package di

import (
	"context"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/google/wire"
	"go.opentelemetry.io/otel"
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
	"kgraph/internal/observability"
	"kgraph/internal/provider"
	"kgraph/internal/query"
	"kgraph/internal/store"
	"kgraph/internal/store/dynamo"
	"kgraph/internal/store/sqlite"
	"kgraph/internal/vector"
	"kgraph/internal/vocab"
)

// Container holds all application dependencies.
type Container struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Collector
	Graph        store.Graph
	Objects      *ingest.ObjectStore
	Fetcher      *ingest.Fetcher
	Intake       *ingest.Intake
	Local        *events.Local
	Publisher    events.Publisher
	Registry     *provider.Registry
	Vectors      *vector.Index
	Keywords     *index.Keyword
	Matcher      *matcher.Matcher
	Extractor    *extract.Extractor
	Vocabulary   *vocab.Manager
	Adjudicator  vocab.Adjudicator
	Consolidator *vocab.Consolidator
	Queries      *query.Service
	Queue        *jobs.Queue
	Worker       *jobs.Worker
	Scheduler    *jobs.Scheduler
}

// SuperSet is the main provider set containing all providers.
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideMetrics,
	ProvideGraph,
	ProvideObjectStore,
	ProvideFetcher,
	ProvideIntake,
	ProvideLocalBus,
	ProvidePublisher,
	ProvideRegistry,
	ProvideVectorIndex,
	ProvideKeywordIndex,
	ProvideMatcher,
	ProvideExtractor,
	ProvideVocabManager,
	ProvideAdjudicator,
	ProvideConsolidator,
	ProvideQueryService,
	ProvideQueue,
	ProvideWorker,
	ProvideScheduler,
	wire.Struct(new(Container), "*"),
)

// Close releases the container's long-lived resources. Callers stop the
// scheduler and HTTP server before closing.
func (c *Container) Close() error {
	var first error
	if err := c.Keywords.Close(); err != nil {
		first = err
	}
	if err := c.Graph.Close(); err != nil && first == nil {
		first = err
	}
	return first
}

// ProvideLogger creates the shared zap logger.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	return observability.NewLogger(cfg.Logging, cfg.Environment)
}

// ProvideMetrics creates the Prometheus collector.
func ProvideMetrics(cfg *config.Config) *observability.Collector {
	return observability.NewCollector(cfg.Metrics.Namespace)
}

// ProvideGraph opens the configured persistence backend and wraps it into the
// facade: the dimension guard enforces the active embedding dimension on
// concept writes, and instrumentation adds spans and store metrics. The
// tracer comes from the global provider, so it is a no-op until tracing is
// initialized.
func ProvideGraph(ctx context.Context, cfg *config.Config, metrics *observability.Collector, logger *zap.Logger) (store.Graph, error) {
	var backend store.Graph
	switch cfg.Store.Backend {
	case "dynamodb":
		client, err := dynamo.NewClient(ctx, cfg.Store.DynamoDB)
		if err != nil {
			return nil, err
		}
		backend = dynamo.New(client, cfg.Store.DynamoDB.TableName, logger)
	default:
		g, err := sqlite.New(cfg.Store.SQLite.Path)
		if err != nil {
			return nil, err
		}
		backend = g
	}
	return store.Instrument(store.GuardDimensions(backend), otel.Tracer("kgraph/internal/store"), metrics), nil
}

// ProvideObjectStore creates the content-addressed payload store.
func ProvideObjectStore(cfg *config.Config, logger *zap.Logger) (*ingest.ObjectStore, error) {
	return ingest.NewObjectStore(cfg.Ingest.DataDir, logger)
}

// ProvideFetcher creates the URL fetcher.
func ProvideFetcher(cfg *config.Config, logger *zap.Logger) *ingest.Fetcher {
	return ingest.NewFetcher(cfg.Ingest, logger)
}

// ProvideIntake creates the content intake front door.
func ProvideIntake(cfg *config.Config, objects *ingest.ObjectStore, fetcher *ingest.Fetcher, logger *zap.Logger) *ingest.Intake {
	return ingest.NewIntake(cfg.Ingest, objects, fetcher, logger)
}

// ProvideLocalBus creates the in-process event dispatcher. It always exists,
// even when EventBridge is configured, so grounding invalidation and other
// in-process subscribers keep working.
func ProvideLocalBus(logger *zap.Logger) *events.Local {
	return events.NewLocal(logger)
}

// ProvidePublisher selects the event publisher. The eventbridge provider fans
// out to both the local dispatcher and the AWS bus.
func ProvidePublisher(ctx context.Context, cfg *config.Config, local *events.Local, logger *zap.Logger) (events.Publisher, error) {
	if cfg.Events.Provider != "eventbridge" {
		return local, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Store.DynamoDB.Region),
	)
	if err != nil {
		return nil, kgerrors.Internal(err, "load aws config for eventbridge")
	}
	bridge := events.NewBridge(eventbridge.NewFromConfig(awsCfg), cfg.Events, logger)
	return events.Fanout{local, bridge}, nil
}

// ProvideRegistry builds the chat and embedding clients from file
// configuration, then swaps in any stored model config that was active when
// the process last ran. A stored activation survives restarts; failing to
// honor one is a startup error because falling back silently could write
// embeddings of the wrong dimension.
func ProvideRegistry(ctx context.Context, cfg *config.Config, graph store.Graph, metrics *observability.Collector, logger *zap.Logger) (*provider.Registry, error) {
	chat := provider.NewOpenAIChat(cfg.Providers.LLM,
		provider.NewBreaker("llm", cfg.Providers.Breaker, logger), metrics, logger)

	var embedder provider.Embedder
	switch cfg.Providers.Embedding.Provider {
	case "gemini":
		ge, err := provider.NewGeminiEmbedder(ctx, cfg.Providers.Embedding,
			provider.NewBreaker("embedding", cfg.Providers.Breaker, logger), metrics, logger)
		if err != nil {
			return nil, err
		}
		embedder = ge
	default:
		embedder = provider.NewOpenAIEmbedder(cfg.Providers.Embedding,
			provider.NewBreaker("embedding", cfg.Providers.Breaker, logger), metrics, logger)
	}

	registry := provider.NewRegistry(chat, embedder, cfg.Providers.Breaker, metrics, logger)

	if mc, err := activeConfig(ctx, graph, domain.ModelConfigEmbedding); err != nil {
		return nil, err
	} else if mc != nil {
		if err := registry.ReloadEmbedder(ctx, mc); err != nil {
			return nil, kgerrors.Wrap(err, "di.ProvideRegistry")
		}
	}
	if mc, err := activeConfig(ctx, graph, domain.ModelConfigExtraction); err != nil {
		return nil, err
	} else if mc != nil {
		if err := registry.ReloadChat(mc); err != nil {
			return nil, kgerrors.Wrap(err, "di.ProvideRegistry")
		}
	}
	return registry, nil
}

func activeConfig(ctx context.Context, graph store.Graph, kind domain.ModelConfigKind) (*domain.ModelConfig, error) {
	configs, err := graph.ListModelConfigs(ctx, kind)
	if err != nil {
		return nil, err
	}
	for _, mc := range configs {
		if mc.Active {
			return mc, nil
		}
	}
	return nil, nil
}

// ProvideVectorIndex creates the ANN index and warms it from stored
// embeddings. The index is in-memory only, so every start rebuilds it.
func ProvideVectorIndex(ctx context.Context, cfg *config.Config, graph store.Graph, logger *zap.Logger) (*vector.Index, error) {
	ix := vector.NewIndex(vector.Params{
		M:        cfg.Index.HNSWM,
		EfSearch: cfg.Index.HNSWEfSearch,
		Ml:       cfg.Index.HNSWMl,
	})
	n, err := matcher.WarmIndex(ctx, graph, ix)
	if err != nil {
		return nil, err
	}
	logger.Info("vector index warmed", zap.Int("embeddings", n))
	return ix, nil
}

// ProvideKeywordIndex opens the bleve index. The in-memory variant starts
// empty and is rebuilt from the store; an on-disk index reopens as-is and the
// worker keeps it current.
func ProvideKeywordIndex(ctx context.Context, cfg *config.Config, graph store.Graph, logger *zap.Logger) (*index.Keyword, error) {
	kw, err := index.NewKeyword(cfg.Index.BlevePath)
	if err != nil {
		return nil, err
	}
	if cfg.Index.BlevePath == "" {
		n, err := reindexKeywords(ctx, graph, kw)
		if err != nil {
			kw.Close()
			return nil, err
		}
		logger.Info("keyword index rebuilt", zap.Int("concepts", n))
	}
	return kw, nil
}

// reindexKeywordsPage bounds one ListConcepts call during rebuild.
const reindexKeywordsPage = 500

func reindexKeywords(ctx context.Context, graph store.Graph, kw *index.Keyword) (int, error) {
	ontologies, err := graph.ListOntologies(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, ont := range ontologies {
		for offset := 0; ; offset += reindexKeywordsPage {
			concepts, err := graph.ListConcepts(ctx, ont.Name, reindexKeywordsPage, offset)
			if err != nil {
				return total, err
			}
			if len(concepts) == 0 {
				break
			}
			if err := kw.IndexConcepts(concepts); err != nil {
				return total, err
			}
			total += len(concepts)
			if len(concepts) < reindexKeywordsPage {
				break
			}
		}
	}
	return total, nil
}

// ProvideMatcher creates the concept deduplication matcher.
func ProvideMatcher(cfg *config.Config, graph store.Graph, vectors *vector.Index, logger *zap.Logger, metrics *observability.Collector) *matcher.Matcher {
	return matcher.New(graph, vectors, cfg.Query, logger, metrics)
}

// ProvideExtractor creates the LLM extraction client on the registry's live
// chat view, so activating a stored config reroutes extraction immediately.
func ProvideExtractor(cfg *config.Config, registry *provider.Registry, logger *zap.Logger) *extract.Extractor {
	return extract.New(registry.Chat(), cfg.Providers.LLM, logger)
}

// ProvideVocabManager creates the relationship vocabulary and loads builtin
// plus stored types.
func ProvideVocabManager(ctx context.Context, cfg *config.Config, graph store.Graph, registry *provider.Registry, logger *zap.Logger, metrics *observability.Collector) (*vocab.Manager, error) {
	m := vocab.NewManager(graph, registry.Embedder(), cfg.Vocab, logger, metrics)
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// ProvideAdjudicator creates the LLM judge for vocabulary consolidation.
func ProvideAdjudicator(cfg *config.Config, registry *provider.Registry, logger *zap.Logger) vocab.Adjudicator {
	return vocab.NewLLMAdjudicator(registry.Chat(), cfg.Providers.LLM, logger)
}

// ProvideConsolidator creates the vocabulary consolidation runner.
func ProvideConsolidator(manager *vocab.Manager, adjudicator vocab.Adjudicator, logger *zap.Logger) *vocab.Consolidator {
	return vocab.NewConsolidator(manager, adjudicator, logger)
}

// ProvideQueryService creates the query service and subscribes it to the
// event stream: completed jobs and destructive ontology operations change
// term statistics, which invalidates cached grounding scores.
func ProvideQueryService(cfg *config.Config, graph store.Graph, vectors *vector.Index, keywords *index.Keyword, registry *provider.Registry, local *events.Local, logger *zap.Logger, metrics *observability.Collector) *query.Service {
	svc := query.NewService(graph, vectors, keywords, registry.Embedder(), cfg.Query, logger, metrics)
	local.Subscribe(func(ev events.Event) {
		switch ev.Type {
		case events.TypeJobCompleted, events.TypeDocumentDeleted,
			events.TypeOntologyRenamed, events.TypeOntologyDeleted:
			svc.InvalidateGrounding()
		}
	})
	return svc
}

// ProvideQueue creates the approval-gated job queue.
func ProvideQueue(cfg *config.Config, graph store.Graph, objects *ingest.ObjectStore, publisher events.Publisher, logger *zap.Logger, metrics *observability.Collector) *jobs.Queue {
	return jobs.NewQueue(graph, objects, publisher, cfg.Providers.Pricing, cfg.Jobs, logger, metrics)
}

// ProvideWorker creates the extraction pipeline worker on the registry's live
// embedder view.
func ProvideWorker(cfg *config.Config, graph store.Graph, objects *ingest.ObjectStore, extractor *extract.Extractor, registry *provider.Registry, m *matcher.Matcher, vocabulary *vocab.Manager, keywords *index.Keyword, publisher events.Publisher, logger *zap.Logger, metrics *observability.Collector) *jobs.Worker {
	return jobs.NewWorker(graph, objects, extractor, registry.Embedder(), m, vocabulary, keywords,
		cfg.Ingest, cfg.Providers.Pricing, publisher, logger, metrics)
}

// ProvideScheduler creates the job dispatcher and lifecycle sweeper.
func ProvideScheduler(cfg *config.Config, queue *jobs.Queue, worker *jobs.Worker, graph store.Graph, logger *zap.Logger) *jobs.Scheduler {
	return jobs.NewScheduler(queue, worker, graph, cfg.Jobs, logger)
}
