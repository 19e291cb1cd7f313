package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the engine. Metrics register
// against a private registry so tests can build collectors without colliding
// with the default one.
type Collector struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Jobs
	JobsSubmitted  *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	JobsRunning    prometheus.Gauge
	ChunksDone     prometheus.Counter
	ChunkFailures  prometheus.Counter

	// Providers
	ProviderRequests *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderTokens   *prometheus.CounterVec

	// Graph writes
	ConceptsCreated  prometheus.Counter
	ConceptsReused   prometheus.Counter
	InstancesCreated prometheus.Counter
	EdgesCreated     prometheus.Counter
	TypesCreated     prometheus.Counter

	// Queries
	SearchQueries      *prometheus.CounterVec
	PathQueries        prometheus.Counter
	PathBudgetExceeded prometheus.Counter
	GroundingCacheHits prometheus.Counter
	GroundingCacheMiss prometheus.Counter

	// Vocabulary
	VocabActiveTypes prometheus.Gauge
	VocabMerges      prometheus.Counter

	// Store
	StoreOperations *prometheus.CounterVec
	StoreDuration   *prometheus.HistogramVec
}

// NewCollector creates (or returns) the process-wide metrics collector.
func NewCollector(namespace string) *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		JobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Total number of ingestion jobs submitted",
		}, []string{"type"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Total number of jobs reaching a terminal state",
		}, []string{"status"}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Number of jobs currently executing",
		}),
		ChunksDone: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_processed_total",
			Help:      "Total number of chunks processed",
		}),
		ChunkFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_failures_total",
			Help:      "Total number of chunks that failed extraction",
		}),

		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_requests_total",
			Help:      "Total number of model provider requests",
		}, []string{"provider", "operation", "status"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Model provider request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider", "operation"}),
		ProviderTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Total number of tokens exchanged with providers",
		}, []string{"direction"}),

		ConceptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concepts_created_total",
			Help:      "Total number of concepts created",
		}),
		ConceptsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concepts_reused_total",
			Help:      "Total number of extractions resolved to existing concepts",
		}),
		InstancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_created_total",
			Help:      "Total number of concept instances created",
		}),
		EdgesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_created_total",
			Help:      "Total number of relationships created",
		}),
		TypesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vocabulary_types_created_total",
			Help:      "Total number of relationship types auto-created",
		}),

		SearchQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_queries_total",
			Help:      "Total number of search queries",
		}, []string{"mode"}),
		PathQueries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "path_queries_total",
			Help:      "Total number of pathfinding queries",
		}),
		PathBudgetExceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "path_budget_exceeded_total",
			Help:      "Pathfinding queries that hit the frontier or time budget",
		}),
		GroundingCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grounding_cache_hits_total",
			Help:      "Grounding score cache hits",
		}),
		GroundingCacheMiss: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grounding_cache_misses_total",
			Help:      "Grounding score cache misses",
		}),

		VocabActiveTypes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vocabulary_active_types",
			Help:      "Number of active relationship types",
		}),
		VocabMerges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vocabulary_merges_total",
			Help:      "Total number of vocabulary type merges",
		}),

		StoreOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_operations_total",
			Help:      "Total number of store operations",
		}, []string{"operation", "status"}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		c.HTTPRequests, c.HTTPDuration,
		c.JobsSubmitted, c.JobsFinished, c.JobsRunning, c.ChunksDone, c.ChunkFailures,
		c.ProviderRequests, c.ProviderDuration, c.ProviderTokens,
		c.ConceptsCreated, c.ConceptsReused, c.InstancesCreated, c.EdgesCreated, c.TypesCreated,
		c.SearchQueries, c.PathQueries, c.PathBudgetExceeded,
		c.GroundingCacheHits, c.GroundingCacheMiss,
		c.VocabActiveTypes, c.VocabMerges,
		c.StoreOperations, c.StoreDuration,
	)

	globalCollector = c
	return c
}

// ResetForTesting clears the singleton so tests can build fresh collectors.
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// Registry exposes the private registry, primarily for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the exposition endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
